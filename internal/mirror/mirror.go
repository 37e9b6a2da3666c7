package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dtq1997/steamshelf-updater/internal/logger"
)

var (
	// ErrExhausted is returned when every provider failed.
	ErrExhausted = errors.New("all mirrors failed")
	// ErrNoProviders is returned when First is called without providers.
	ErrNoProviders = errors.New("no mirrors configured")
)

// Provider is one source of T, such as a mirror URL.
type Provider[T any] interface {
	// Name identifies the provider in logs and results.
	Name() string
	// Fetch obtains the value. It must honour ctx cancellation.
	Fetch(ctx context.Context) (T, error)
}

// Attempt records the outcome of trying one provider.
type Attempt struct {
	// Name is the provider name.
	Name string
	// Err is nil for the winning attempt.
	Err error
	// Elapsed is how long the attempt took.
	Elapsed time.Duration
}

// Result is the value of the first provider that succeeded.
type Result[T any] struct {
	// Value is the fetched value.
	Value T
	// Provider is the name of the winning provider.
	Provider string
	// Index is the position of the winning provider.
	Index int
	// Attempts lists every provider tried, in order.
	Attempts []Attempt
}

// First tries providers in order and returns the first success. Each attempt
// gets its own deadline of timeout when timeout is positive. Providers after
// the winner are never contacted. When all fail, the error wraps ErrExhausted
// and every attempt error.
func First[T any](ctx context.Context, timeout time.Duration, providers ...Provider[T]) (Result[T], error) {
	var result Result[T]

	if len(providers) == 0 {
		return result, ErrNoProviders
	}

	errs := make([]error, 0, len(providers))

	for i, provider := range providers {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("lookup interrupted: %w", err)
		}

		started := time.Now()
		value, err := fetch(ctx, timeout, provider)
		attempt := Attempt{Name: provider.Name(), Err: err, Elapsed: time.Since(started)}
		result.Attempts = append(result.Attempts, attempt)

		if err == nil {
			result.Value = value
			result.Provider = provider.Name()
			result.Index = i

			logger.DebugKV(ctx, "Mirror attempt succeeded", "mirror", attempt.Name, "elapsed", attempt.Elapsed)

			return result, nil
		}

		logger.WarnKV(ctx, "Mirror attempt failed", "mirror", attempt.Name, "elapsed", attempt.Elapsed, "error", err)

		errs = append(errs, fmt.Errorf("%s: %w", provider.Name(), err))
	}

	return result, fmt.Errorf("%w: %w", ErrExhausted, errors.Join(errs...))
}

func fetch[T any](ctx context.Context, timeout time.Duration, provider Provider[T]) (T, error) {
	if timeout <= 0 {
		return provider.Fetch(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return provider.Fetch(attemptCtx)
}

// Func adapts a function into a Provider.
type Func[T any] struct {
	// Label is returned by Name.
	Label string
	// Fn is called by Fetch.
	Fn func(ctx context.Context) (T, error)
}

// Name returns the label.
func (f Func[T]) Name() string {
	return f.Label
}

// Fetch calls the function.
func (f Func[T]) Fetch(ctx context.Context) (T, error) {
	return f.Fn(ctx)
}

// Decoded turns a raw provider into a typed one. A decode failure counts as a
// failed attempt, so First moves on to the next provider.
func Decoded[T any](source Provider[[]byte], decode func([]byte) (T, error)) Provider[T] {
	return Func[T]{
		Label: source.Name(),
		Fn: func(ctx context.Context) (T, error) {
			var zero T

			data, err := source.Fetch(ctx)
			if err != nil {
				return zero, err
			}

			value, err := decode(data)
			if err != nil {
				return zero, err
			}

			return value, nil
		},
	}
}
