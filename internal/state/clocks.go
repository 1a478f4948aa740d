package state

import "fmt"

// ClockKind identifies one of the per-market accrual clocks.
type ClockKind int32

const (
	ClockPriceImpactDistribution ClockKind = iota
	ClockBorrowing
	ClockFunding
	ClockAdlForLong
	ClockAdlForShort

	NumClockKinds = int(ClockAdlForShort) + 1
)

func (k ClockKind) String() string {
	switch k {
	case ClockPriceImpactDistribution:
		return "PriceImpactDistribution"
	case ClockBorrowing:
		return "Borrowing"
	case ClockFunding:
		return "Funding"
	case ClockAdlForLong:
		return "AdlForLong"
	case ClockAdlForShort:
		return "AdlForShort"
	default:
		return "Unknown"
	}
}

// Clocks holds the last-update unix timestamps of the accrual clocks. Time
// never comes from the wall clock inside the core; it is supplied by the
// host once per action.
type Clocks struct {
	timestamps [NumClockKinds]int64
}

// Get returns the last-update timestamp of a clock.
func (c *Clocks) Get(kind ClockKind) int64 {
	if int(kind) < 0 || int(kind) >= NumClockKinds {
		panic(fmt.Sprintf("state: invalid clock kind %d", kind))
	}
	return c.timestamps[kind]
}

// Advance moves a clock forward to now and returns the elapsed seconds.
// A now earlier than the stored timestamp is treated as zero elapsed: the
// clock never moves backwards.
func (c *Clocks) Advance(kind ClockKind, now int64) int64 {
	last := c.Get(kind)
	if now <= last {
		return 0
	}
	c.timestamps[kind] = now
	return now - last
}

// Set stamps a clock without computing elapsed time.
func (c *Clocks) Set(kind ClockKind, ts int64) {
	if int(kind) < 0 || int(kind) >= NumClockKinds {
		panic(fmt.Sprintf("state: invalid clock kind %d", kind))
	}
	c.timestamps[kind] = ts
}

// Clone copies the clock set.
func (c *Clocks) Clone() *Clocks {
	out := &Clocks{}
	out.timestamps = c.timestamps
	return out
}
