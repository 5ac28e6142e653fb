package recovery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrRetryExhausted is returned by Retry once the budget is spent.
var ErrRetryExhausted = errors.New("recovery: retry budget exhausted")

// Status is the user-facing error state.
type Status struct {
	Message  string
	CanRetry bool
	Attempts int
}

// Visible reports whether an error is currently surfaced.
func (s Status) Visible() bool { return s.Message != "" }

// Controller classifies errors, surfaces persistent ones and enforces the
// retry budget. Transient errors never change Status.
type Controller struct {
	logger   *slog.Logger
	onChange func(Status)

	mu     sync.Mutex
	budget RetryBudget
	status Status
}

type Option func(*Controller)

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(c *Controller) { c.budget = NewRetryBudget(n) }
}

// OnChange registers a callback fired after every Status change. It runs
// outside the controller's lock.
func OnChange(fn func(Status)) Option {
	return func(c *Controller) { c.onChange = fn }
}

func NewController(opts ...Option) *Controller {
	c := &Controller{
		logger: slog.Default(),
		budget: NewRetryBudget(DefaultMaxRetries),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle records err and returns its class. Persistent errors count against
// the retry budget.
func (c *Controller) Handle(err error) Class {
	if err == nil {
		return Persistent
	}
	class := Classify(err)
	if class == Transient {
		c.logger.Warn("transient error", "err", err)
		return class
	}
	c.logger.Error("persistent error", "err", err)

	c.mu.Lock()
	c.budget, _ = c.budget.Consume()
	c.status = Status{
		Message:  err.Error(),
		CanRetry: !c.budget.Exhausted(),
		Attempts: c.budget.Count(),
	}
	st := c.status
	c.mu.Unlock()

	c.notify(st)
	return class
}

// Retry re-runs fn if the budget still allows it. A successful run clears the
// surfaced error; a failing run goes through Handle.
func (c *Controller) Retry(ctx context.Context, fn func(context.Context) error) error {
	c.mu.Lock()
	if c.budget.Exhausted() {
		c.mu.Unlock()
		return ErrRetryExhausted
	}
	c.mu.Unlock()

	if err := fn(ctx); err != nil {
		c.Handle(err)
		return err
	}
	c.Dismiss()
	return nil
}

// Dismiss clears the surfaced error without touching the budget.
func (c *Controller) Dismiss() {
	c.mu.Lock()
	if !c.status.Visible() {
		c.mu.Unlock()
		return
	}
	c.status = Status{Attempts: c.budget.Count()}
	st := c.status
	c.mu.Unlock()
	c.notify(st)
}

// Reset is the explicit user reset: the counter is cleared and retry is
// enabled again.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.budget = c.budget.Reset()
	c.status.Attempts = 0
	if c.status.Visible() {
		c.status.CanRetry = true
	}
	st := c.status
	c.mu.Unlock()
	c.notify(st)
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) Budget() RetryBudget {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budget
}

func (c *Controller) notify(st Status) {
	if c.onChange != nil {
		c.onChange(st)
	}
}
