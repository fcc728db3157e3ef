package state

import "time"

// DefaultExpectedBlockTime is the debounce window for Lock.
const DefaultExpectedBlockTime = 2 * time.Second

// BlockTimePolicy decides when Lock re-queries the remote block number.
// Now is injectable for tests.
type BlockTimePolicy struct {
	ExpectedBlockTime time.Duration
	Now               func() time.Time
}

// DefaultBlockTimePolicy returns a 2s debounce on the wall clock.
func DefaultBlockTimePolicy() BlockTimePolicy {
	return BlockTimePolicy{ExpectedBlockTime: DefaultExpectedBlockTime, Now: time.Now}
}

func (p BlockTimePolicy) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

// stale reports whether more than ExpectedBlockTime elapsed since last.
// A zero last check is always stale.
func (p BlockTimePolicy) stale(last time.Time) bool {
	if last.IsZero() {
		return true
	}
	return p.now().Sub(last) > p.ExpectedBlockTime
}
