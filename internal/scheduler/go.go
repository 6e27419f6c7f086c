package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
)

// Go runs fn on its own goroutine and resumes the process with its result.
// Killing the process cancels ctx; the result of a cancelled call is
// discarded.
func Go(fn func(ctx context.Context) (any, error)) Task {
	return Binding(func(resume func(Task)) func() {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			defer cancel()
			v, err := guard(ctx, fn)
			if err != nil {
				resume(Fail(err))
				return
			}
			resume(Succeed(v))
		}()
		return cancel
	})
}

// Do is Go for functions that only report an error.
func Do(fn func(ctx context.Context) error) Task {
	return Go(func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
}

func guard(ctx context.Context, fn func(context.Context) (any, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	v, err = fn(ctx)
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("cancelled: %w", ctx.Err())
	}
	return v, err
}
