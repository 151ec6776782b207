// Package intercept is the interception surface: replacement entry points
// for connect, socket and sendto that gate each call on the destination
// allowlist before handing it to the authentic implementation.
//
// All process-wide state (configuration snapshot, resolved implementations,
// log handle) hangs off a Guard. A host attaches one Guard at load time and
// passes it to every entry point; Close releases it at unload.
package intercept

import (
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/dshield/dshield/internal/config"
	"github.com/dshield/dshield/internal/events"
	"github.com/dshield/dshield/internal/policy"
	"github.com/dshield/dshield/internal/resolver"
	"golang.org/x/sys/unix"
)

// Operation names, as the authentic symbols are named.
const (
	OpConnect = "connect"
	OpSocket  = "socket"
	OpSendto  = "sendto"
)

// Operations lists every intercepted operation.
var Operations = []string{OpConnect, OpSocket, OpSendto}

// quietLevel is above every level slog emits, so nothing is logged until
// debug is switched on.
const quietLevel = slog.LevelError + 4

type options struct {
	getenv func(string) string
	lookup resolver.LookupFunc
	stderr io.Writer
	logger *slog.Logger
}

// Option configures a Guard.
type Option func(*options)

// WithEnv replaces os.Getenv as the configuration source.
func WithEnv(getenv func(string) string) Option {
	return func(o *options) { o.getenv = getenv }
}

// WithLookup sets how authentic implementations are found. The default is
// SyscallLookup.
func WithLookup(lookup resolver.LookupFunc) Option {
	return func(o *options) { o.lookup = lookup }
}

// WithDebugWriter sets the debug stream (default os.Stderr).
func WithDebugWriter(w io.Writer) Option {
	return func(o *options) { o.stderr = w }
}

// WithLogger sets the diagnostics logger. Without it the Guard logs tagged
// lines to the debug stream at debug level when DSHIELD_DEBUG=1 and stays
// silent otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Guard owns the per-process interception state.
type Guard struct {
	getenv func(string) string
	stderr io.Writer
	level  *slog.LevelVar
	logger *slog.Logger

	initOnce sync.Once
	cfg      config.Snapshot

	res  *resolver.Resolver
	sink *events.Sink

	closeOnce sync.Once
	closeErr  error
}

// New builds a Guard without initializing it; the first intercepted call
// does that.
func New(opts ...Option) *Guard {
	o := options{
		getenv: os.Getenv,
		lookup: SyscallLookup,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(&o)
	}

	g := &Guard{
		getenv: o.getenv,
		stderr: o.stderr,
		logger: o.logger,
	}
	if g.logger == nil {
		g.level = new(slog.LevelVar)
		g.level.Set(quietLevel)
		g.logger = slog.New(slog.NewTextHandler(events.TaggedWriter(o.stderr), &slog.HandlerOptions{
			Level:       g.level,
			ReplaceAttr: dropTime,
		}))
	}
	g.res = resolver.New(o.lookup, g.logger)
	g.sink = events.New(g.logger)
	return g
}

// dropTime keeps diagnostics in the same shape as the tagged debug lines.
func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

// Attach builds a Guard and initializes it immediately, so configuration is
// ready before the first intercepted call. This is the load-time hook.
func Attach(opts ...Option) *Guard {
	g := New(opts...)
	g.ensureInit()
	return g
}

// ensureInit builds the configuration snapshot and opens the log file.
// Concurrent callers block until the first one finishes and then all see
// the same snapshot.
func (g *Guard) ensureInit() {
	g.initOnce.Do(func() {
		cfg := config.Load(g.getenv)
		if cfg.Debug {
			if g.level != nil {
				g.level.Set(slog.LevelDebug)
			}
			g.sink.EnableDebug(g.stderr)
		}
		// A log file that cannot be opened only disables file logging.
		_ = g.sink.Open(cfg.LogPath)
		g.cfg = cfg

		g.sink.Debugf("Initialized: %s", cfg)
		for _, w := range cfg.Warnings {
			g.logger.Warn("ignoring configuration value", "detail", w)
		}
	})
}

// Config returns the configuration snapshot, initializing if needed.
func (g *Guard) Config() config.Snapshot {
	g.ensureInit()
	return g.cfg
}

// Resolve returns the authentic implementation for op. An invalid handle
// means the lookup failed this time; it is retried on the next call.
func (g *Guard) Resolve(op string) resolver.Handle {
	g.ensureInit()
	return g.res.Resolve(op)
}

// Check classifies c, records the outcome, and returns unix.EACCES if the
// destination is not allowed. Only IP destinations are recorded.
func (g *Guard) Check(c policy.Candidate) error {
	g.ensureInit()
	d := policy.Classify(c, g.cfg)
	if c.Family == policy.FamilyIPv4 || c.Family == policy.FamilyIPv6 {
		g.sink.Record(c.Addr, c.Port, d)
	}
	if !d.Allowed() {
		return unix.EACCES
	}
	return nil
}

// Debugf writes a tagged line to the debug stream when debug is enabled.
func (g *Guard) Debugf(format string, args ...any) {
	g.ensureInit()
	g.sink.Debugf(format, args...)
}

// Stats returns the allow/deny counters.
func (g *Guard) Stats() events.Stats {
	return g.sink.Stats()
}

// Close is the unload hook: it closes the log file. Safe to call more than
// once, and intercepted calls keep working afterwards without logging.
func (g *Guard) Close() error {
	g.closeOnce.Do(func() {
		g.closeErr = g.sink.Close()
	})
	return g.closeErr
}
