package http

import (
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-yaml"
)

//go:embed routes.yaml
var defaultRoutes []byte

// Behaviors a route can have.
const (
	BehaviorText  = "text"
	BehaviorDelay = "delay"
	BehaviorFail  = "fail"
)

// ErrInvalidTable is wrapped by every route table validation failure.
var ErrInvalidTable = errors.New("invalid route table")

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodHead:   true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Route maps one method and path to a span and a behavior.
type Route struct {
	Method   string `yaml:"method"`
	Path     string `yaml:"path"`
	Span     string `yaml:"span"`
	Behavior string `yaml:"behavior"`
	Message  string `yaml:"message"`
	// Status applies to fail routes only; zero means 500.
	Status int `yaml:"status"`
}

// Key identifies the route for duplicate detection.
func (r Route) Key() string {
	return r.Method + " " + r.Path
}

// Table is the full set of traced routes.
type Table struct {
	Routes []Route `yaml:"routes"`
}

// DefaultTable parses the embedded route table.
func DefaultTable() (*Table, error) {
	return LoadTable(defaultRoutes)
}

// LoadTable parses and validates a YAML route table.
func LoadTable(data []byte) (*Table, error) {
	var table Table
	if err := yaml.UnmarshalWithOptions(data, &table, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTable, err)
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &table, nil
}

// Validate checks every route and rejects duplicates.
func (t *Table) Validate() error {
	if len(t.Routes) == 0 {
		return fmt.Errorf("%w: no routes", ErrInvalidTable)
	}

	seen := make(map[string]bool, len(t.Routes))
	for i := range t.Routes {
		r := &t.Routes[i]
		r.Method = strings.ToUpper(strings.TrimSpace(r.Method))

		if !allowedMethods[r.Method] {
			return fmt.Errorf("%w: route %d: unsupported method %q", ErrInvalidTable, i, r.Method)
		}
		if !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("%w: route %d: path %q must start with /", ErrInvalidTable, i, r.Path)
		}
		switch r.Behavior {
		case BehaviorText, BehaviorDelay:
		case BehaviorFail:
			if r.Status == 0 {
				r.Status = http.StatusInternalServerError
			}
			if r.Status < 400 || r.Status > 599 {
				return fmt.Errorf("%w: route %d: fail status %d is not an error code", ErrInvalidTable, i, r.Status)
			}
		default:
			return fmt.Errorf("%w: route %d: unknown behavior %q", ErrInvalidTable, i, r.Behavior)
		}
		if r.Span == "" {
			r.Span = r.Key()
		}
		if seen[r.Key()] {
			return fmt.Errorf("%w: duplicate route %s", ErrInvalidTable, r.Key())
		}
		seen[r.Key()] = true
	}
	return nil
}
