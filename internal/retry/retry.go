package retry

import (
	"context"
	"time"

	"github.com/jpillora/backoff"

	"github.com/customeros/imagestack/config"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
)

type Policy struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	Factor      float64
	// CallTimeout bounds each attempt when set.
	CallTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		MinBackoff:  200 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
		Factor:      2,
	}
}

func PolicyFromConfig(cfg *config.RetryConfig, callTimeout time.Duration) Policy {
	p := DefaultPolicy()
	if cfg == nil {
		p.CallTimeout = callTimeout
		return p
	}
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.MinBackoff > 0 {
		p.MinBackoff = cfg.MinBackoff
	}
	if cfg.MaxBackoff > 0 {
		p.MaxBackoff = cfg.MaxBackoff
	}
	if cfg.Factor > 0 {
		p.Factor = cfg.Factor
	}
	p.CallTimeout = callTimeout
	return p
}

// WithCallTimeout returns a copy of p bounding each attempt by timeout.
func (p Policy) WithCallTimeout(timeout time.Duration) Policy {
	p.CallTimeout = timeout
	return p
}

// Do runs fn until it succeeds, returns a non-transient error, the attempts are
// exhausted, or ctx is done. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	b := &backoff.Backoff{
		Min:    p.MinBackoff,
		Max:    p.MaxBackoff,
		Factor: p.Factor,
		Jitter: true,
	}

	var (
		zero T
		err  error
	)
	for attempt := 1; ; attempt++ {
		var value T
		value, err = call(ctx, p.CallTimeout, fn)
		if err == nil {
			return value, nil
		}
		if !imagestack_errors.IsTransient(err) || attempt >= attempts {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, err
		}

		timer := time.NewTimer(b.Duration())
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
}

func call[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}
