package domain

// CrossDomainResult is the outcome of an operation fanned out over several
// keys (domains or entities). Errors maps every attempted key to nil on
// success or to its error message.
type CrossDomainResult[T any] struct {
	Success        bool               `json:"success"`
	Data           T                  `json:"data"`
	Errors         map[string]*string `json:"errors"`
	PartialFailure bool               `json:"partialFailure"`
}

// NewCrossDomainResult derives Success and PartialFailure from errs.
// A key whose value is nil succeeded.
func NewCrossDomainResult[T any](data T, errs map[string]*string) CrossDomainResult[T] {
	if errs == nil {
		errs = map[string]*string{}
	}
	var ok, failed int
	for _, e := range errs {
		if e == nil {
			ok++
		} else {
			failed++
		}
	}
	return CrossDomainResult[T]{
		Success:        ok > 0 || failed == 0,
		Data:           data,
		Errors:         errs,
		PartialFailure: ok > 0 && failed > 0,
	}
}

// ErrorMessage is a helper for building Errors maps.
func ErrorMessage(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}
