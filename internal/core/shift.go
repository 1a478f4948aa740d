package core

import (
	"fmt"
	"math/big"

	"gmsol/internal/event"
	"gmsol/internal/oracle"
)

// ShiftParams move liquidity between two markets sharing a collateral pair.
type ShiftParams struct {
	FromMarketTokenAmount  *big.Int
	MinToMarketTokenAmount *big.Int
}

// ExecuteShift composes a withdrawal from the source market and a deposit
// into the target market. Both overlays commit together or not at all; the
// withdrawn collateral never leaves the store.
func ExecuteShift(from, to *RevertibleMarket, snapshot *oracle.Snapshot, params ShiftParams, ref string) (*event.ShiftReport, []*event.MarketFeesUpdated, error) {
	fromMeta := from.Market().Meta
	toMeta := to.Market().Meta
	if fromMeta.MarketToken == toMeta.MarketToken {
		return nil, nil, fmt.Errorf("shift: %w: same market", ErrInvalidArgument)
	}
	if fromMeta.LongToken != toMeta.LongToken || fromMeta.ShortToken != toMeta.ShortToken {
		return nil, nil, fmt.Errorf("shift: %w: collateral pair mismatch", ErrPreconditionsAreNotMet)
	}
	fromPrices, err := snapshot.MarketPrices(fromMeta.IndexToken.Bytes(), fromMeta.LongToken.Bytes(), fromMeta.ShortToken.Bytes())
	if err != nil {
		return nil, nil, err
	}
	toPrices, err := snapshot.MarketPrices(toMeta.IndexToken.Bytes(), toMeta.LongToken.Bytes(), toMeta.ShortToken.Bytes())
	if err != nil {
		return nil, nil, err
	}

	withdrawal, feeEvents, err := ExecuteWithdrawal(from, fromPrices, WithdrawalParams{
		MarketTokenAmount: params.FromMarketTokenAmount,
	}, ref)
	if err != nil {
		return nil, nil, err
	}
	deposit, depositFees, err := ExecuteDeposit(to, toPrices, DepositParams{
		LongTokenAmount:      withdrawal.LongTokenAmount,
		ShortTokenAmount:     withdrawal.ShortTokenAmount,
		MinMarketTokenAmount: params.MinToMarketTokenAmount,
	}, ref)
	if err != nil {
		return nil, nil, err
	}
	feeEvents = append(feeEvents, depositFees...)

	return &event.ShiftReport{
		Ref:                   ref,
		FromMarket:            fromMeta.MarketToken,
		ToMarket:              toMeta.MarketToken,
		FromMarketTokenAmount: withdrawal.BurnedAmount,
		LongTokenAmount:       withdrawal.LongTokenAmount,
		ShortTokenAmount:      withdrawal.ShortTokenAmount,
		ToMarketTokenAmount:   deposit.MintedAmount,
	}, feeEvents, nil
}
