package interp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Shopify/go-lua"
)

var ErrSessionClosed = errors.New("session closed")

const maxReportedErrors = 64

// Result holds the output and metadata from one evaluation.
type Result struct {
	Output   string
	Duration time.Duration
	Error    error
}

// Interpreter is one isolated Lua session.
type Interpreter struct {
	cfg   config
	state *lua.State
	out   *sessionOutput

	// mu serializes every use of state; ctx is only valid while it is held.
	mu  sync.Mutex
	ctx context.Context

	qmu   sync.Mutex
	queue []func()

	// globals that survive Reset
	baseline map[string]struct{}

	errMu sync.Mutex
	errs  []error

	closed atomic.Bool
}

// New creates an interpreter with the standard Lua libraries loaded and
// print redirected to the session output.
func New(opts ...Option) *Interpreter {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	in := &Interpreter{
		cfg:      cfg,
		state:    lua.NewState(),
		out:      newSessionOutput(cfg.stdout),
		baseline: make(map[string]struct{}),
	}

	lua.OpenLibraries(in.state)
	in.state.Register("print", in.print)
	for _, name := range in.globalNames() {
		in.baseline[name] = struct{}{}
	}
	return in
}

// Exec evaluates code and returns what it printed. There is no
// cancellation: once evaluation starts it runs to completion or failure.
func (in *Interpreter) Exec(ctx context.Context, code string) Result {
	start := time.Now()

	if in.closed.Load() {
		return Result{Error: ErrSessionClosed, Duration: time.Since(start)}
	}

	in.mu.Lock()
	defer in.unlock()
	if in.closed.Load() {
		return Result{Error: ErrSessionClosed, Duration: time.Since(start)}
	}

	in.out.Reset()
	err := in.within(ctx, func() error {
		return lua.DoString(in.state, code)
	})

	result := Result{
		Output:   in.out.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		result.Error = fmt.Errorf("execution failed: %w", err)
	}
	return result
}

// Include runs the script at path inside the session. Relative paths are
// resolved against the configured base directory.
func (in *Interpreter) Include(ctx context.Context, path string) error {
	resolved := in.resolve(path)
	info, err := os.Stat(resolved)
	if err != nil {
		return fmt.Errorf("include %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("include %s: is a directory", path)
	}

	if in.closed.Load() {
		return ErrSessionClosed
	}

	in.mu.Lock()
	defer in.unlock()
	if in.closed.Load() {
		return ErrSessionClosed
	}

	in.cfg.logger.Debug("including script", "path", resolved)
	err = in.within(ctx, func() error {
		return lua.DoFile(in.state, resolved)
	})
	if err != nil {
		return fmt.Errorf("include %s: %w", path, err)
	}
	return nil
}

func (in *Interpreter) resolve(path string) string {
	if filepath.IsAbs(path) || in.cfg.baseDir == "" {
		return path
	}
	return filepath.Join(in.cfg.baseDir, path)
}

// Do runs fn inside the interpreter's context, waiting for any evaluation
// in progress to finish first. fn may use Register, Bind and ClearGlobals.
func (in *Interpreter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	in.mu.Lock()
	defer in.unlock()
	return in.within(ctx, func() error { return fn(ctx) })
}

// Post runs fn inside the interpreter's context without blocking the
// caller. If the session is idle fn runs immediately on the calling
// goroutine; otherwise it runs when the current evaluation finishes.
// Callables executing inside one session use Post to touch another, which
// keeps two sessions from ever waiting on each other.
func (in *Interpreter) Post(fn func()) {
	in.qmu.Lock()
	in.queue = append(in.queue, fn)
	in.qmu.Unlock()

	if in.mu.TryLock() {
		in.unlock()
	}
}

// unlock drains queued work before releasing mu. A Post that lands between
// the final drain and Unlock is picked up by the retry loop.
func (in *Interpreter) unlock() {
	for {
		in.drain()
		in.mu.Unlock()

		in.qmu.Lock()
		pending := len(in.queue)
		in.qmu.Unlock()

		if pending == 0 || !in.mu.TryLock() {
			return
		}
	}
}

func (in *Interpreter) drain() {
	for {
		in.qmu.Lock()
		if len(in.queue) == 0 {
			in.qmu.Unlock()
			return
		}
		fn := in.queue[0]
		in.queue = in.queue[1:]
		in.qmu.Unlock()

		in.within(context.Background(), func() error {
			fn()
			return nil
		})
	}
}

func (in *Interpreter) within(ctx context.Context, fn func() error) (err error) {
	prev := in.ctx
	in.ctx = ctx
	defer func() {
		in.ctx = prev
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// Context returns the context of the evaluation currently running. Host
// functions use it for outbound calls.
func (in *Interpreter) Context() context.Context {
	if in.ctx == nil {
		return context.Background()
	}
	return in.ctx
}

// ReportError records an error that has no caller to return to.
func (in *Interpreter) ReportError(err error) {
	if err == nil {
		return
	}
	in.errMu.Lock()
	in.errs = append(in.errs, err)
	if len(in.errs) > maxReportedErrors {
		in.errs = in.errs[len(in.errs)-maxReportedErrors:]
	}
	in.errMu.Unlock()

	fmt.Fprintf(in.cfg.stderr, "error: %v\n", err)
	in.cfg.logger.Warn("session error", "error", err)
	if in.cfg.onError != nil {
		in.cfg.onError(err)
	}
}

// Errors returns the errors reported so far, oldest first.
func (in *Interpreter) Errors() []error {
	in.errMu.Lock()
	defer in.errMu.Unlock()
	return append([]error(nil), in.errs...)
}

// Close marks the session closed. An evaluation already running finishes;
// later ones fail with ErrSessionClosed.
func (in *Interpreter) Close() error {
	in.closed.Store(true)
	return nil
}

func (in *Interpreter) Closed() bool {
	return in.closed.Load()
}

func (in *Interpreter) print(l *lua.State) int {
	n := l.Top()
	var b strings.Builder
	for i := 1; i <= n; i++ {
		s, _ := lua.ToStringMeta(l, i)
		l.Pop(1)
		if i > 1 {
			b.WriteByte('\t')
		}
		b.WriteString(s)
	}
	b.WriteByte('\n')
	in.out.Write([]byte(b.String()))
	return 0
}

// Stdout returns the writer that receives session output. Output written
// here shows up in the next Result and in the WithStdout writer.
func (in *Interpreter) Stdout() io.Writer {
	return in.out
}

// Stderr returns the session's error writer.
func (in *Interpreter) Stderr() io.Writer {
	return in.cfg.stderr
}

type sessionOutput struct {
	buf  bytes.Buffer
	sink io.Writer
	mu   sync.Mutex
}

func newSessionOutput(sink io.Writer) *sessionOutput {
	return &sessionOutput{sink: sink}
}

func (o *sessionOutput) Write(data []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sink != nil {
		o.sink.Write(data)
	}
	return o.buf.Write(data)
}

func (o *sessionOutput) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.String()
}

func (o *sessionOutput) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.buf.Reset()
}
