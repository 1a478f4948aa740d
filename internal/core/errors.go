package core

import "errors"

// Uniform action failure taxonomy. Computation errors (overflow, division
// by zero) come from internal/math and are always fatal; everything here is
// a validation or precondition failure that cancels the action without
// touching committed state.
var (
	ErrNotEnoughExecutionFee    = errors.New("core: not enough execution fee")
	ErrInsufficientOutputAmount = errors.New("core: insufficient output amount")
	ErrPreconditionsAreNotMet   = errors.New("core: preconditions are not met")
	ErrDisabled                 = errors.New("core: feature disabled")
	ErrInvalidSwapPath          = errors.New("core: invalid swap path")

	ErrInvalidArgument      = errors.New("core: invalid argument")
	ErrActionNotFound       = errors.New("core: action not found")
	ErrMarketNotFound       = errors.New("core: market not found")
	ErrPositionNotFound     = errors.New("core: position not found")
	ErrInvalidPosition      = errors.New("core: invalid position")
	ErrInsufficientFunds    = errors.New("core: insufficient funds to pay fees")
	ErrInvalidActionState   = errors.New("core: invalid action state transition")
	ErrUnknownActionKind    = errors.New("core: unknown action kind")

	ErrMaxPoolAmountExceeded    = errors.New("core: max pool amount exceeded")
	ErrMaxPoolValueExceeded     = errors.New("core: max pool value for deposit exceeded")
	ErrMaxOpenInterestExceeded  = errors.New("core: max open interest exceeded")
	ErrInsufficientReserve      = errors.New("core: insufficient reserve")
	ErrPnlFactorExceeded        = errors.New("core: pnl factor exceeded")
	ErrMinPositionSize          = errors.New("core: position size below minimum")
	ErrMinCollateral            = errors.New("core: collateral below minimum")
	ErrLiquidatable             = errors.New("core: position is liquidatable")
	ErrNotLiquidatable          = errors.New("core: position is not liquidatable")
	ErrAdlNotRequired           = errors.New("core: auto-deleveraging is not required")
	ErrInvalidAdlDirection      = errors.New("core: decrease must reduce the pnl factor")
	ErrUnacceptablePrice        = errors.New("core: execution price worse than acceptable price")
	ErrSameTokenSwap            = errors.New("core: swap input and output tokens are identical")
)
