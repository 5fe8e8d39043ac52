package logger

import (
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// Mailbox entity ids are the sending address itself, so fields named after
// them are masked whole rather than scanned.
var mailboxKeys = []string{"email", "mailbox"}

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	for _, k := range mailboxKeys {
		if strings.Contains(key, k) && isSingleAddress(val) {
			return RedactEmail(val)
		}
	}
	return emailPattern.ReplaceAllStringFunc(val, RedactEmail)
}

func isSingleAddress(val string) bool {
	return strings.Count(val, "@") == 1 && !strings.ContainsAny(val, " ,[")
}

// RedactEmail keeps the first two characters of the local part and the
// whole domain: "john.doe@example.com" becomes "jo***@example.com".
func RedactEmail(email string) string {
	local, host, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(host, "@") {
		return "***@***"
	}
	if len(local) > 2 {
		return local[:2] + "***@" + host
	}
	return "***@" + host
}
