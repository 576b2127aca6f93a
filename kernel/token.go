package kernel

import "sync/atomic"

// Token is the cooperative cancellation flag of one job. It only moves from
// active to cancelled. Readers may observe a cancellation late; the contract
// is "stop starting new work", not "interrupt current work".
type Token struct {
	cancelled atomic.Bool
}

func NewToken() *Token {
	return &Token{}
}

func (t *Token) Cancel() {
	if t != nil {
		t.cancelled.Store(true)
	}
}

// Active reports whether the job is still wanted. A nil token never
// cancels.
func (t *Token) Active() bool {
	return t == nil || !t.cancelled.Load()
}
