// Package frontend tells an external renderer about accepted articles.
//
// The variant is picked once at startup from configuration: "exec" runs a
// program with the article path, "staticfile" regenerates board pages,
// "none" does nothing. A Dispatcher runs notifications off the accept path.
package frontend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/javi11/nntpchand/logging"
)

var logger = logging.Logger("frontend")

// Variant names.
const (
	TypeNone       = "none"
	TypeExec       = "exec"
	TypeStaticFile = "staticfile"
)

// DefaultNewsgroupPrefix selects the groups frontends render.
const DefaultNewsgroupPrefix = "overchan."

// Event describes one newly accepted article.
type Event struct {
	MessageID  string
	Path       string
	Newsgroups []string
}

// Notifier is implemented by each frontend variant.
type Notifier interface {
	Name() string
	Accepts(group string) bool
	Notify(ctx context.Context, ev Event) error
}

// NotifierError is a failed notification. It is logged, never returned to
// the poster or peer.
type NotifierError struct {
	Frontend  string
	MessageID string
	Err       error
}

func (e *NotifierError) Error() string {
	return fmt.Sprintf("frontend %s: %s: %v", e.Frontend, e.MessageID, e.Err)
}

func (e *NotifierError) Unwrap() error { return e.Err }

// Config selects and tunes the variant.
type Config struct {
	Type            string
	Exec            string
	TemplateDir     string
	OutDir          string
	TemplateDialect string
	MaxPages        int
	NewsgroupPrefix string
	Workers         int
	QueueSize       int
	Timeout         time.Duration
}

// New builds the configured variant. src is only used by staticfile.
func New(cfg Config, src Source) (Notifier, error) {
	prefix := cfg.NewsgroupPrefix
	if prefix == "" {
		prefix = DefaultNewsgroupPrefix
	}

	switch strings.ToLower(cfg.Type) {
	case "", TypeNone:
		return nopNotifier{}, nil
	case TypeExec:
		if cfg.Exec == "" {
			return nil, fmt.Errorf("exec frontend needs an exec program")
		}
		return NewExec(cfg.Exec, prefix), nil
	case TypeStaticFile:
		n, err := NewStaticFile(StaticFileConfig{
			TemplateDir: cfg.TemplateDir,
			OutDir:      cfg.OutDir,
			Dialect:     cfg.TemplateDialect,
			MaxPages:    cfg.MaxPages,
		}, prefix, src)
		if err != nil {
			return nil, err
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unknown frontend type %q", cfg.Type)
	}
}

type prefixFilter string

func (p prefixFilter) Accepts(group string) bool {
	return strings.HasPrefix(group, string(p))
}

type nopNotifier struct{}

func (nopNotifier) Name() string                         { return TypeNone }
func (nopNotifier) Accepts(string) bool                  { return false }
func (nopNotifier) Notify(context.Context, Event) error { return nil }
