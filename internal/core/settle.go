package core

import (
	"math/big"

	"gmsol/internal/event"
	fpmath "gmsol/internal/math"
	"gmsol/internal/oracle"
	"gmsol/internal/state"
)

// positionFeeSettlement is the outcome of charging one operation's fees
// against a position's collateral token.
type positionFeeSettlement struct {
	orderFees       Fees
	borrowingFees   Fees
	borrowingUsd    *big.Int
	fundingPaid     *big.Int
	liquidationFee  *big.Int
	liquidationFees Fees

	// totalCost is what leaves the position's collateral.
	totalCost *big.Int

	cumulativeBorrowing *big.Int
	funding             *PositionFundingFees
}

func (s *positionFeeSettlement) report() event.ExecutionFees {
	fees := event.ExecutionFees{
		OrderFeeForPool:     s.orderFees.ForPool,
		OrderFeeForReceiver: s.orderFees.ForReceiver,
		BorrowingFee:        s.borrowingFees.Total(),
		FundingFee:          s.fundingPaid,
	}
	if s.liquidationFee != nil && s.liquidationFee.Sign() > 0 {
		fees.LiquidationFee = s.liquidationFee
	}
	return fees
}

// settlePositionFees charges the order fee on the size delta, the borrowing
// fee accrued since the position's stamp, the pending funding fee, and (for
// liquidations) the liquidation fee. Pool shares land in the Primary pool
// of the collateral side, receiver shares in the ClaimableFee pool. A
// funding fee the collateral cannot cover is paid partially and reported
// with an InsufficientFundingFeePayment event rather than failing the
// liquidation path.
func settlePositionFees(rm *RevertibleMarket, p *state.Position, prices oracle.Prices, collateralIsLong bool, sizeDeltaUsd *big.Int, isPositiveImpact, isLiquidation bool, ref string) (*positionFeeSettlement, []event.Event, error) {
	view := rm.View()
	cfg := rm.Market().Config()
	collateralPrice := prices.Collateral(collateralIsLong)
	isLong := p.Kind.IsLong()

	settle := &positionFeeSettlement{
		fundingPaid:         new(big.Int),
		totalCost:           new(big.Int),
		cumulativeBorrowing: view.CumulativeBorrowingFactor(isLong),
	}
	var events []event.Event

	// Order fee, charged in USD on the size delta and paid in collateral.
	orderParams := OrderFeeParams(cfg)
	factor := orderParams.FactorForNegative
	if isPositiveImpact {
		factor = orderParams.FactorForPositive
	}
	orderFeeUsd, err := fpmath.ApplyFactor(sizeDeltaUsd, factor)
	if err != nil {
		return nil, nil, err
	}
	orderFeeAmount, err := fpmath.Div(orderFeeUsd, collateralPrice.Min, fpmath.RoundUp)
	if err != nil {
		return nil, nil, err
	}
	settle.orderFees, err = SplitByReceiverFactor(orderFeeAmount, orderParams.ReceiverFactor)
	if err != nil {
		return nil, nil, err
	}

	// Borrowing fee since the position's stamp.
	settle.borrowingUsd, err = PositionBorrowingFee(settle.cumulativeBorrowing, p)
	if err != nil {
		return nil, nil, err
	}
	borrowingAmount, err := fpmath.Div(settle.borrowingUsd, collateralPrice.Min, fpmath.RoundUp)
	if err != nil {
		return nil, nil, err
	}
	settle.borrowingFees, err = SplitByReceiverFactor(borrowingAmount, cfg.Get(state.KeyBorrowingFeeReceiverFactor))
	if err != nil {
		return nil, nil, err
	}

	// Pending funding fee in the collateral token.
	settle.funding, err = ComputePositionFundingFees(view, p, collateralIsLong)
	if err != nil {
		return nil, nil, err
	}
	fundingCost := settle.funding.Amount

	if isLiquidation {
		settle.liquidationFee, settle.liquidationFees, err = LiquidationFee(cfg, p.State.SizeInUsd, collateralPrice)
		if err != nil {
			return nil, nil, err
		}
	} else {
		settle.liquidationFee = new(big.Int)
	}

	// Funding is the only fee allowed to be partially paid; everything
	// else must be fully covered or the operation fails upstream.
	fixedCost := new(big.Int).Add(settle.orderFees.Total(), settle.borrowingFees.Total())
	fixedCost.Add(fixedCost, settle.liquidationFee)
	available := new(big.Int).Sub(p.State.CollateralAmount, fixedCost)
	if available.Sign() < 0 {
		available = new(big.Int)
	}
	if fundingCost.Cmp(available) > 0 {
		events = append(events, &event.InsufficientFundingFeePayment{
			Ref:              ref,
			Market:           rm.Market().Meta.MarketToken,
			PositionID:       p.ID,
			CostAmount:       fundingCost,
			PaidAmount:       available,
			IsCollateralLong: collateralIsLong,
		})
		settle.fundingPaid = available
	} else {
		settle.fundingPaid = new(big.Int).Set(fundingCost)
	}

	settle.totalCost = new(big.Int).Add(fixedCost, settle.fundingPaid)

	// Route the shares.
	poolShare := new(big.Int).Add(settle.orderFees.ForPool, settle.borrowingFees.ForPool)
	poolShare.Add(poolShare, settle.fundingPaid)
	receiverShare := new(big.Int).Add(settle.orderFees.ForReceiver, settle.borrowingFees.ForReceiver)
	if settle.liquidationFee.Sign() > 0 {
		poolShare.Add(poolShare, settle.liquidationFees.ForPool)
		receiverShare.Add(receiverShare, settle.liquidationFees.ForReceiver)
	}
	if poolShare.Sign() > 0 {
		if err := rm.ApplyPoolDelta(state.PoolPrimary, collateralIsLong, poolShare); err != nil {
			return nil, nil, err
		}
	}
	if receiverShare.Sign() > 0 {
		if err := rm.ApplyPoolDelta(state.PoolClaimableFee, collateralIsLong, receiverShare); err != nil {
			return nil, nil, err
		}
	}
	if settle.orderFees.Total().Sign() > 0 || settle.borrowingFees.Total().Sign() > 0 {
		events = append(events, &event.MarketFeesUpdated{
			Ref:              ref,
			Market:           rm.Market().Meta.MarketToken,
			Token:            collateralToken(rm.Market().Meta, collateralIsLong),
			FeeForPool:       poolShare,
			FeeForReceiver:   receiverShare,
			IsPositiveImpact: isPositiveImpact,
		})
	}
	return settle, events, nil
}

func collateralToken(meta state.MarketMeta, isLong bool) state.Token {
	if isLong {
		return meta.LongToken
	}
	return meta.ShortToken
}
