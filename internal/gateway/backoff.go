package gateway

import (
	"math/rand/v2"
	"time"
)

// backoff produces exponentially growing reconnect delays with jitter,
// bounded by max. The attempt counter is reset only after a connection has
// been held past the stability window, so a flapping link keeps backing
// off instead of hammering the gateway.
type backoff struct {
	base time.Duration
	max  time.Duration

	attempts int
}

func newBackoff(base, max time.Duration) *backoff {
	return &backoff{base: base, max: max}
}

// next returns the delay before the upcoming attempt. Jitter spreads the
// delay across [exp/2, exp) so simultaneously disconnected clients do not
// reconnect in lockstep.
func (b *backoff) next() time.Duration {
	exp := b.base << b.attempts
	if exp > b.max || exp <= 0 { // <= 0 catches shift overflow
		exp = b.max
	}
	if b.attempts < 62 {
		b.attempts++
	}

	half := exp / 2
	if half <= 0 {
		return exp
	}
	return half + rand.N(half)
}

func (b *backoff) reset() {
	b.attempts = 0
}
