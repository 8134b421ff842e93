// Package jobs runs fire-and-forget background work with bounded retries.
//
// Every submitted job runs on its own goroutine. A job whose function returns
// an error is retried with exponential backoff up to the configured number of
// attempts, then reported as permanently failed. There is no ordering between
// jobs and no concurrency cap.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/MrWong99/spatialvoice/internal/observe"
)

// Defaults for [New].
const (
	DefaultAttempts    = 3
	DefaultBaseBackoff = time.Second
)

// ErrClosed is returned by Submit after Close has been called.
var ErrClosed = errors.New("jobs: runner closed")

// Func is the body of a job. ctx is cancelled when the runner shuts down.
type Func func(ctx context.Context) error

// Failure describes a permanently failed job.
type Failure struct {
	ID       string
	Kind     string
	Attempts int
	Err      error
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The job fails immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type attemptKey struct{}

type attemptInfo struct{ n, of int }

// Attempt reports the current attempt number (starting at 1) and the total
// number of attempts allowed for the job running with ctx. Outside a job it
// returns 0, 0.
func Attempt(ctx context.Context) (n, of int) {
	info, _ := ctx.Value(attemptKey{}).(attemptInfo)
	return info.n, info.of
}

// FinalAttempt reports whether a failure of the current attempt is permanent.
func FinalAttempt(ctx context.Context) bool {
	n, of := Attempt(ctx)
	return n > 0 && n >= of
}

// Runner executes jobs.
type Runner struct {
	attempts int
	base     time.Duration
	metrics  *observe.Metrics
	onFail   func(Failure)
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures a [Runner].
type Option func(*Runner)

// WithAttempts sets the total number of attempts per job, including the first.
func WithAttempts(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.attempts = n
		}
	}
}

// WithBaseBackoff sets the delay before the first retry. Each further retry
// doubles it.
func WithBaseBackoff(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.base = d
		}
	}
}

// WithMetrics records job outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithOnFailure registers a hook called once for every permanently failed job.
func WithOnFailure(fn func(Failure)) Option {
	return func(r *Runner) { r.onFail = fn }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// New creates a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{
		attempts: DefaultAttempts,
		base:     DefaultBaseBackoff,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// Submit schedules fn and returns the job id immediately. kind labels the job
// in logs and metrics.
func (r *Runner) Submit(kind string, fn Func) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrClosed
	}

	id := uuid.NewString()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(id, kind, fn)
	}()
	return id, nil
}

func (r *Runner) run(id, kind string, fn Func) {
	log := r.log.With("job_id", id, "kind", kind)
	start := time.Now()

	backoff := retry.WithMaxRetries(uint64(r.attempts-1), retry.NewExponential(r.base))

	attempt := 0
	err := retry.Do(r.ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(context.WithValue(ctx, attemptKey{}, attemptInfo{n: attempt, of: r.attempts}))
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) || errors.Is(err, context.Canceled) {
			return err
		}
		if attempt < r.attempts {
			log.Warn("jobs: attempt failed, retrying", "attempt", attempt, "err", err)
		}
		return retry.RetryableError(err)
	})

	status := "ok"
	if err != nil {
		status = "failed"
		log.Error("jobs: job failed permanently", "attempts", attempt, "err", err)
		if r.onFail != nil {
			r.onFail(Failure{ID: id, Kind: kind, Attempts: attempt, Err: err})
		}
	} else {
		log.Debug("jobs: job done", "attempts", attempt)
	}
	if r.metrics != nil {
		r.metrics.RecordJob(context.Background(), kind, status, time.Since(start).Seconds())
	}
}

// Close stops accepting jobs and waits for running ones until ctx is done.
// When ctx expires first, running jobs are cancelled and Close returns the
// context error after they exit.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return fmt.Errorf("jobs: close: %w", ctx.Err())
	}
}
