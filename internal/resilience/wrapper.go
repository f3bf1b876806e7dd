package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eapache/go-resiliency/breaker"
	"github.com/eapache/go-resiliency/retrier"
	"go.uber.org/zap"
)

// OpType selects the retry budget for one class of store operation.
type OpType string

const (
	OpPageView     OpType = "page_view"
	OpRealTime     OpType = "real_time"
	OpDailySummary OpType = "daily_summary"
	OpDashboard    OpType = "dashboard"
)

// Per-operation retry budgets. The tracking path retries least: a slow
// analytics write must never hold up a page render.
var retryBudget = map[OpType]int{
	OpPageView:     2,
	OpRealTime:     3,
	OpDailySummary: 5,
	OpDashboard:    2,
}

var ErrCircuitOpen = errors.New("circuit open")

// Error is the caller-facing failure of a wrapped operation. CanRetry tells
// the caller whether trying again later can succeed.
type Error struct {
	Op       OpType
	Err      error
	CanRetry bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s operation failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	Multiplier       float64
	Jitter           float64
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		BaseDelay:        100 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		Multiplier:       2.0,
		Jitter:           0.1,
	}
}

// Wrapper guards every document-store call with a shared circuit breaker and
// a per-op-type retrier. Retries run underneath the breaker: one Execute call
// counts as one breaker sample no matter how many attempts it took.
type Wrapper struct {
	cfg      Config
	brk      *breaker.Breaker
	retriers map[OpType]*retrier.Retrier
	logger   *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Wrapper {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Multiplier <= 1.0 {
		cfg.Multiplier = 2.0
	}
	if cfg.Jitter <= 0 {
		cfg.Jitter = 0.1
	}

	retriers := make(map[OpType]*retrier.Retrier, len(retryBudget))
	for op, retries := range retryBudget {
		r := retrier.New(BackoffSchedule(cfg.BaseDelay, cfg.MaxDelay, cfg.Multiplier, retries), transientClassifier{})
		r.SetJitter(cfg.Jitter)
		retriers[op] = r
	}

	return &Wrapper{
		cfg:      cfg,
		brk:      breaker.New(cfg.FailureThreshold, 1, cfg.RecoveryTimeout),
		retriers: retriers,
		logger:   logger,
	}
}

func (w *Wrapper) Execute(ctx context.Context, op OpType, fn func(ctx context.Context) error) error {
	r, ok := w.retriers[op]
	if !ok {
		r = w.retriers[OpDashboard]
	}

	err := w.brk.Run(func() error {
		return r.RunCtx(ctx, fn)
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, breaker.ErrBreakerOpen) {
		w.logger.Warn("circuit open, rejecting operation", zap.String("op", string(op)))
		return &Error{Op: op, Err: ErrCircuitOpen, CanRetry: true}
	}

	w.logger.Error("operation failed",
		zap.String("op", string(op)),
		zap.Error(err),
	)
	return &Error{Op: op, Err: err, CanRetry: IsRetryable(err)}
}

// BackoffSchedule returns the pre-jitter retry delays:
// base * multiplier^(attempt-1), capped at max.
func BackoffSchedule(base, max time.Duration, multiplier float64, retries int) []time.Duration {
	schedule := make([]time.Duration, 0, retries)
	delay := float64(base)
	for i := 0; i < retries; i++ {
		d := time.Duration(delay)
		if d > max {
			d = max
		}
		schedule = append(schedule, d)
		delay *= multiplier
	}
	return schedule
}
