package warming

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/ignite/outreach-analytics/internal/domain"
	"github.com/ignite/outreach-analytics/internal/filter"
	"github.com/ignite/outreach-analytics/internal/pkg/awsconf"
)

// Priority orders schedules within a warming run.
type Priority string

const (
	High   Priority = "high"
	Medium Priority = "medium"
	Low    Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case High:
		return 0
	case Medium:
		return 1
	case Low:
		return 2
	}
	return 3
}

// Schedule is one cron-driven warming job.
type Schedule struct {
	Name     string       `yaml:"name" json:"name"`
	Pattern  string       `yaml:"pattern" json:"pattern"`
	Priority Priority     `yaml:"priority" json:"priority"`
	Filters  filter.Query `yaml:"filters" json:"filters"`
}

// Strategy says which (domain, operation, filters) combinations are kept
// warm and when.
type Strategy struct {
	Enabled    bool               `yaml:"enabled" json:"enabled"`
	Domains    []domain.Domain    `yaml:"domains" json:"domains"`
	Operations []domain.Operation `yaml:"operations" json:"operations"`
	Schedules  []Schedule         `yaml:"schedules" json:"schedules"`
}

// Target is a single unit of warming work.
type Target struct {
	Operation domain.Operation
	Domain    domain.Domain
	Filters   domain.AnalyticsFilters
}

// Validate checks domains, operations, priorities, cron patterns and
// schedule filters. Unnamed schedules are named by position.
func (s *Strategy) Validate() error {
	for _, d := range s.Domains {
		if !d.Valid() {
			return fmt.Errorf("warming strategy: unknown domain %q", d)
		}
	}
	for _, op := range s.Operations {
		if !op.Valid() {
			return fmt.Errorf("warming strategy: unknown operation %q", op)
		}
	}
	for i := range s.Schedules {
		sc := &s.Schedules[i]
		if sc.Name == "" {
			sc.Name = fmt.Sprintf("schedule-%d", i)
		}
		if sc.Priority == "" {
			sc.Priority = Medium
		}
		if sc.Priority.rank() > Low.rank() {
			return fmt.Errorf("warming schedule %s: unknown priority %q", sc.Name, sc.Priority)
		}
		if _, err := cron.ParseStandard(sc.Pattern); err != nil {
			return fmt.Errorf("warming schedule %s: bad pattern %q: %w", sc.Name, sc.Pattern, err)
		}
		if _, err := filter.Validate(sc.Filters); err != nil {
			return fmt.Errorf("warming schedule %s: %w", sc.Name, err)
		}
	}
	return nil
}

// Ordered returns the schedules sorted high, medium, low. Order within a
// priority follows the configuration.
func (s Strategy) Ordered() []Schedule {
	out := append([]Schedule(nil), s.Schedules...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority.rank() < out[j].Priority.rank()
	})
	return out
}

// Targets expands a schedule into warmable targets. Joins are keyed by the
// entities they read, so one cross-domain target covers every join domain.
func (s Strategy) Targets(sc Schedule) []Target {
	f, err := filter.Validate(sc.Filters)
	if err != nil {
		return nil
	}

	var out []Target
	for _, op := range s.Operations {
		switch op {
		case domain.OpOverview, domain.OpTimeSeries:
			for _, d := range s.Domains {
				if d == domain.CrossDomain {
					continue
				}
				out = append(out, Target{Operation: op, Domain: d, Filters: f})
			}
		case domain.OpJoin:
			for _, d := range s.Domains {
				if feedsJoin(d) {
					out = append(out, Target{Operation: op, Domain: domain.CrossDomain, Filters: f})
					break
				}
			}
		}
	}
	return out
}

func feedsJoin(d domain.Domain) bool {
	switch d {
	case domain.SendingDomains, domain.Mailboxes, domain.CrossDomain:
		return true
	case domain.Campaigns, domain.Leads, domain.Templates, domain.Billing:
		return false
	}
	return false
}

// ParseStrategy decodes and validates a YAML (or JSON) strategy document.
func ParseStrategy(data []byte) (Strategy, error) {
	var s Strategy
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Strategy{}, fmt.Errorf("failed to parse warming strategy: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Strategy{}, err
	}
	return s, nil
}

// ObjectGetter is the slice of the S3 client the loader needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Loader reads strategies from a local path, file:// or s3://bucket/key.
type Loader struct {
	s3 ObjectGetter
}

// NewLoader creates a strategy loader. getter may be nil when only local
// files are used.
func NewLoader(getter ObjectGetter) *Loader {
	return &Loader{s3: getter}
}

// LoadStrategy is a convenience that builds an S3 client from awsCfg only
// when uri points at S3.
func LoadStrategy(ctx context.Context, uri string, awsCfg awsconf.Config) (Strategy, error) {
	var getter ObjectGetter
	if strings.HasPrefix(uri, "s3://") {
		cfg, err := awsconf.Load(ctx, awsCfg)
		if err != nil {
			return Strategy{}, err
		}
		getter = s3.NewFromConfig(cfg, func(o *s3.Options) {
			if awsCfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(awsCfg.Endpoint)
				o.UsePathStyle = true
			}
		})
	}
	return NewLoader(getter).Load(ctx, uri)
}

// Load fetches and parses the strategy at uri.
func (l *Loader) Load(ctx context.Context, uri string) (Strategy, error) {
	data, err := l.read(ctx, uri)
	if err != nil {
		return Strategy{}, err
	}
	return ParseStrategy(data)
}

func (l *Loader) read(ctx context.Context, uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("bad strategy uri %q: %w", uri, err)
	}

	switch u.Scheme {
	case "", "file":
		path := uri
		if u.Scheme == "file" {
			path = u.Path
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read warming strategy: %w", err)
		}
		return data, nil
	case "s3":
		if l.s3 == nil {
			return nil, fmt.Errorf("strategy uri %q needs an S3 client", uri)
		}
		key := strings.TrimPrefix(u.Path, "/")
		resp, err := l.s3.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(u.Host),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, fmt.Errorf("S3 GetObject %s/%s: %w", u.Host, key, err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading S3 object body: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported strategy uri scheme %q", u.Scheme)
	}
}
