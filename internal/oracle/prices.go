// Package oracle defines the validated price snapshot the accounting core
// consumes. Feed parsing (Pyth, Chainlink, Switchboard) lives upstream;
// by the time a snapshot reaches this package it is already a set of
// per-token min/max unit prices plus the observation timestamps.
package oracle

import (
	"errors"
	"math/big"

	fpmath "gmsol/internal/math"
)

var (
	ErrInvalidPrice = errors.New("oracle: price must satisfy max >= min > 0")
	ErrMissingPrice = errors.New("oracle: no price for token")
	// ErrTimestampsTooLarge means the oracle has moved past the request's
	// expiration: the request is stale and may be cancelled gracefully.
	ErrTimestampsTooLarge = errors.New("oracle: timestamps are larger than required")
	// ErrTimestampsTooSmall means the snapshot predates the request; fatal.
	ErrTimestampsTooSmall = errors.New("oracle: timestamps are smaller than required")
	ErrInvalidWindow      = errors.New("oracle: min timestamp exceeds max timestamp")
)

// Price is a min/max pair of unit prices: one token unit times the unit
// price equals the USD value scaled by 10^MarketDecimals.
type Price struct {
	Min *big.Int
	Max *big.Int
}

// Validate checks max >= min > 0.
func (p Price) Validate() error {
	if p.Min == nil || p.Max == nil {
		return ErrInvalidPrice
	}
	if p.Min.Sign() <= 0 || p.Max.Cmp(p.Min) < 0 {
		return ErrInvalidPrice
	}
	return nil
}

// Pick returns the max price when maximize is true, else the min price.
func (p Price) Pick(maximize bool) *big.Int {
	if maximize {
		return new(big.Int).Set(p.Max)
	}
	return new(big.Int).Set(p.Min)
}

// Mid returns (min + max) / 2, rounded down.
func (p Price) Mid() *big.Int {
	sum := new(big.Int).Add(p.Min, p.Max)
	return sum.Quo(sum, big.NewInt(2))
}

// Prices is the per-market snapshot consumed by one action.
type Prices struct {
	Index Price
	Long  Price
	Short Price
}

// Validate checks every leg of the snapshot.
func (p Prices) Validate() error {
	if err := p.Index.Validate(); err != nil {
		return err
	}
	if err := p.Long.Validate(); err != nil {
		return err
	}
	return p.Short.Validate()
}

// Collateral returns the long or short collateral price.
func (p Prices) Collateral(isLong bool) Price {
	if isLong {
		return p.Long
	}
	return p.Short
}

// PriceMap holds prices for every token a swap path touches, keyed by the
// 32-byte mint identifier.
type PriceMap map[[32]byte]Price

// Get returns the price for a token or ErrMissingPrice.
func (m PriceMap) Get(token [32]byte) (Price, error) {
	p, ok := m[token]
	if !ok {
		return Price{}, ErrMissingPrice
	}
	return p, nil
}

// Snapshot is a validated oracle observation: prices for a token set plus
// the smallest and largest feed timestamps it was assembled from.
type Snapshot struct {
	Prices PriceMap
	MinTs  int64
	MaxTs  int64
}

// Validate checks every price and the timestamp window.
func (s *Snapshot) Validate() error {
	if s.MinTs > s.MaxTs {
		return ErrInvalidWindow
	}
	for _, p := range s.Prices {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateWindow checks the snapshot against an action created at
// updatedAt with the given expiration. The snapshot must be at least as
// fresh as the request (minTs >= updatedAt) and must not run past the
// request's expiration (maxTs <= updatedAt + expiration).
//
// ErrTimestampsTooLarge is the graceful-cancel path: the keeper may cancel
// the action without executing. ErrTimestampsTooSmall is fatal.
func (s *Snapshot) ValidateWindow(updatedAt, expiration int64) error {
	if s.MaxTs > updatedAt+expiration {
		return ErrTimestampsTooLarge
	}
	if s.MinTs < updatedAt {
		return ErrTimestampsTooSmall
	}
	return nil
}

// MarketPrices assembles the three-leg Prices for a market out of the map.
func (s *Snapshot) MarketPrices(index, long, short [32]byte) (Prices, error) {
	ip, err := s.Prices.Get(index)
	if err != nil {
		return Prices{}, err
	}
	lp, err := s.Prices.Get(long)
	if err != nil {
		return Prices{}, err
	}
	sp, err := s.Prices.Get(short)
	if err != nil {
		return Prices{}, err
	}
	return Prices{Index: ip, Long: lp, Short: sp}, nil
}

// UnitPrice builds a fixed min==max price from a USD value per whole token
// and the token's decimals. Used by tests and the admin tooling.
func UnitPrice(usdPerToken int64, tokenDecimals int) Price {
	// unit_price = usd * 10^MarketDecimals / 10^tokenDecimals
	v := new(big.Int).Mul(big.NewInt(usdPerToken), fpmath.Exp10(fpmath.MarketDecimals-tokenDecimals))
	return Price{Min: v, Max: new(big.Int).Set(v)}
}
