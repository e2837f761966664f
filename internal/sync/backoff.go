package sync

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// Backoff defaults. The delay doubles per consecutive failure and is capped;
// retries are not bounded in count, so a transient outage of any length heals
// on its own.
const (
	defaultBackoffBase = 5 * time.Second
	defaultBackoffCap  = 5 * time.Minute
)

// backoffPolicy wraps a go-retry exponential backoff. The underlying backoff
// advances on every next call; reset discards it, which starts the next
// failure streak back at the base delay.
type backoffPolicy struct {
	base time.Duration
	cap  time.Duration
	b    retry.Backoff
}

func newBackoffPolicy(base, cap time.Duration) *backoffPolicy {
	if base <= 0 {
		base = defaultBackoffBase
	}
	if cap <= 0 {
		cap = defaultBackoffCap
	}
	p := &backoffPolicy{base: base, cap: cap}
	p.reset()
	return p
}

// next returns the delay before the upcoming retry.
func (p *backoffPolicy) next() time.Duration {
	d, stopped := p.b.Next()
	if stopped {
		return p.cap
	}
	return d
}

// reset starts a fresh streak; called on any successful operation.
func (p *backoffPolicy) reset() {
	p.b = retry.WithCappedDuration(p.cap, retry.NewExponential(p.base))
}
