// Package logging builds the application's zap logger. A *Logging value is
// created once at startup and handed to the components that log; nothing in
// this package keeps global state.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultBreadcrumbs = 50

// Options configures New
type Options struct {
	Level       string
	Production  bool
	Breadcrumbs int
}

// Breadcrumb is a condensed record of a recent log entry
type Breadcrumb struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Logger  string    `json:"logger,omitempty"`
	Message string    `json:"message"`
}

// Logging owns the root logger and its breadcrumb buffer
type Logging struct {
	Logger *zap.Logger
	crumbs *breadcrumbRing
}

// New builds a logger: JSON in production, console otherwise.
func New(opts Options) (*Logging, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	var zcfg zap.Config
	if opts.Production {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	size := opts.Breadcrumbs
	if size <= 0 {
		size = defaultBreadcrumbs
	}
	ring := newBreadcrumbRing(size)

	logger, err := zcfg.Build(zap.Hooks(ring.record))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return &Logging{Logger: logger, crumbs: ring}, nil
}

// NewNop returns a Logging that discards everything
func NewNop() *Logging {
	return &Logging{Logger: zap.NewNop(), crumbs: newBreadcrumbRing(defaultBreadcrumbs)}
}

// Named returns a child logger
func (l *Logging) Named(name string) *zap.Logger {
	return l.Logger.Named(name)
}

// Breadcrumbs returns the buffered entries, oldest first
func (l *Logging) Breadcrumbs() []Breadcrumb {
	return l.crumbs.snapshot()
}

// Close flushes buffered output
func (l *Logging) Close() error {
	err := l.Logger.Sync()
	// stdout/stderr are not syncable on most terminals
	if err != nil && strings.Contains(err.Error(), "invalid argument") {
		return nil
	}
	return err
}

type breadcrumbRing struct {
	mu    sync.Mutex
	items []Breadcrumb
	next  int
	full  bool
}

func newBreadcrumbRing(size int) *breadcrumbRing {
	return &breadcrumbRing{items: make([]Breadcrumb, size)}
}

func (r *breadcrumbRing) record(e zapcore.Entry) error {
	r.add(Breadcrumb{
		Time:    e.Time,
		Level:   e.Level.String(),
		Logger:  e.LoggerName,
		Message: e.Message,
	})
	return nil
}

func (r *breadcrumbRing) add(b Breadcrumb) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[r.next] = b
	r.next = (r.next + 1) % len(r.items)
	if r.next == 0 {
		r.full = true
	}
}

func (r *breadcrumbRing) snapshot() []Breadcrumb {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]Breadcrumb, r.next)
		copy(out, r.items[:r.next])
		return out
	}

	out := make([]Breadcrumb, 0, len(r.items))
	out = append(out, r.items[r.next:]...)
	out = append(out, r.items[:r.next]...)
	return out
}
