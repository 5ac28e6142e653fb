package recovery

// DefaultMaxRetries is the per-session retry allowance.
const DefaultMaxRetries = 5

// RetryBudget is a bounded retry counter. The zero value has no allowance;
// use NewRetryBudget.
type RetryBudget struct {
	count int
	max   int
}

func NewRetryBudget(max int) RetryBudget {
	if max < 0 {
		max = 0
	}
	return RetryBudget{max: max}
}

// Consume spends one retry and returns the updated budget. ok is false when
// nothing was left to spend.
func (b RetryBudget) Consume() (next RetryBudget, ok bool) {
	if b.Exhausted() {
		return b, false
	}
	b.count++
	return b, true
}

func (b RetryBudget) Exhausted() bool { return b.count >= b.max }
func (b RetryBudget) Count() int      { return b.count }
func (b RetryBudget) Max() int        { return b.max }

func (b RetryBudget) Remaining() int {
	if b.Exhausted() {
		return 0
	}
	return b.max - b.count
}

// Reset returns a budget with the counter cleared.
func (b RetryBudget) Reset() RetryBudget {
	return RetryBudget{max: b.max}
}
