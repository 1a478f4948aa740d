package state

import (
	"math/big"

	fpmath "gmsol/internal/math"
)

// Pool is a long/short token amount pair. For a pure pool (a market whose
// long and short collateral are the same mint) the whole balance lives in
// the long slot and the short slot stays zero; per-side queries each report
// half of the merged balance.
type Pool struct {
	isPure      bool
	longAmount  *big.Int
	shortAmount *big.Int
}

// NewPool creates an empty pool.
func NewPool(isPure bool) *Pool {
	return &Pool{
		isPure:      isPure,
		longAmount:  big.NewInt(0),
		shortAmount: big.NewInt(0),
	}
}

// IsPure reports whether the pool merges both sides into the long slot.
func (p *Pool) IsPure() bool {
	return p.isPure
}

// LongAmount returns the long-side amount. Pure pools report half of the
// merged balance, truncated.
func (p *Pool) LongAmount() *big.Int {
	if p.isPure {
		return new(big.Int).Quo(p.longAmount, big.NewInt(2))
	}
	return new(big.Int).Set(p.longAmount)
}

// ShortAmount returns the short-side amount (half the merged balance for a
// pure pool).
func (p *Pool) ShortAmount() *big.Int {
	if p.isPure {
		return new(big.Int).Quo(p.longAmount, big.NewInt(2))
	}
	return new(big.Int).Set(p.shortAmount)
}

// MergedAmount returns the raw long slot, which for a pure pool holds the
// entire balance.
func (p *Pool) MergedAmount() *big.Int {
	return new(big.Int).Set(p.longAmount)
}

// ApplyDeltaToLongAmount applies a signed delta to the long side. The
// resulting amount must stay within [0, 2^128).
func (p *Pool) ApplyDeltaToLongAmount(delta *big.Int) error {
	next, err := fpmath.AddSigned(p.longAmount, delta)
	if err != nil {
		return err
	}
	p.longAmount = next
	return nil
}

// ApplyDeltaToShortAmount applies a signed delta to the short side. For a
// pure pool the delta lands on the merged long slot.
func (p *Pool) ApplyDeltaToShortAmount(delta *big.Int) error {
	if p.isPure {
		return p.ApplyDeltaToLongAmount(delta)
	}
	next, err := fpmath.AddSigned(p.shortAmount, delta)
	if err != nil {
		return err
	}
	p.shortAmount = next
	return nil
}

// ApplyDelta applies a signed delta to the side selected by isLong.
func (p *Pool) ApplyDelta(isLong bool, delta *big.Int) error {
	if isLong {
		return p.ApplyDeltaToLongAmount(delta)
	}
	return p.ApplyDeltaToShortAmount(delta)
}

// Amount returns the amount of the side selected by isLong.
func (p *Pool) Amount(isLong bool) *big.Int {
	if isLong {
		return p.LongAmount()
	}
	return p.ShortAmount()
}

// CancelAmounts returns a copy where min(long, short) has been subtracted
// from both sides. Used when opposing exposures offset internally.
func (p *Pool) CancelAmounts() *Pool {
	out := p.Clone()
	long := out.LongAmount()
	short := out.ShortAmount()
	m := fpmath.Min(long, short)
	if m.Sign() == 0 {
		return out
	}
	neg := new(big.Int).Neg(m)
	// Errors are impossible: we subtract at most the smaller side.
	_ = out.ApplyDeltaToLongAmount(neg)
	_ = out.ApplyDeltaToShortAmount(neg)
	return out
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	return &Pool{
		isPure:      p.isPure,
		longAmount:  new(big.Int).Set(p.longAmount),
		shortAmount: new(big.Int).Set(p.shortAmount),
	}
}

// Equal reports whether two pools hold identical amounts.
func (p *Pool) Equal(o *Pool) bool {
	return p.isPure == o.isPure &&
		p.longAmount.Cmp(o.longAmount) == 0 &&
		p.shortAmount.Cmp(o.shortAmount) == 0
}
