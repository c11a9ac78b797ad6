package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfeidau/swstore"
)

// task is one unit of work on the control queue. Tasks run one at a time in
// submission order, each to completion.
type task struct {
	ctx  context.Context
	name string
	fn   func(ctx context.Context) error
	err  error
}

func processTasks(_ context.Context, jobs []*task) error {
	for _, t := range jobs {
		t.err = t.fn(t.ctx)
	}
	return nil
}

// run queues fn and blocks until it has run. Cancelling ctx abandons the
// submission if fn has not been queued yet; once queued, fn runs to
// completion and run waits for it.
func (c *Control) run(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := c.submitAndWait(ctx, name, fn)
	recordOperation(ctx, name, err, start)
	return err
}

func (c *Control) submitAndWait(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	t := &task{ctx: context.WithoutCancel(ctx), name: name, fn: fn}
	res, err := c.queue.Submit(ctx, t)
	if err != nil {
		return c.submitError(name, err)
	}
	if err := res.Wait(context.Background()); err != nil {
		return classify(err)
	}
	return classify(t.err)
}

// runInitialized is run for operations that need open storage.
func (c *Control) runInitialized(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return c.run(ctx, name, func(ctx context.Context) error {
		if c.state != stateInitialized {
			return swstore.ErrDisabled
		}
		return fn(ctx)
	})
}

// post queues fn without waiting for it.
func (c *Control) post(name string, fn func(ctx context.Context) error) error {
	t := &task{ctx: context.Background(), name: name, fn: func(ctx context.Context) error {
		start := time.Now()
		err := fn(ctx)
		if err != nil {
			c.logger.Warn("background task failed", "task", name, "error", err)
		}
		recordOperation(ctx, name, err, start)
		return err
	}}
	if _, err := c.queue.Submit(context.Background(), t); err != nil {
		return c.submitError(name, err)
	}
	return nil
}

func (c *Control) submitError(name string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// The batcher reports a stopped queue as context.Canceled.
		c.logger.Debug("task not queued", "task", name, "error", err)
		return fmt.Errorf("%w: %w", swstore.ErrDisabled, err)
	}
	return classify(err)
}
