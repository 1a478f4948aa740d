package core

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"gmsol/internal/state"
)

// ActionState is the lifecycle of a pending action.
type ActionState int32

const (
	ActionStatePending ActionState = iota
	// Completed marks the finished first leg of a multi-leg action
	ActionStateCompleted
	ActionStateExecuted
	ActionStateCancelled
)

func (s ActionState) String() string {
	switch s {
	case ActionStatePending:
		return "Pending"
	case ActionStateCompleted:
		return "Completed"
	case ActionStateExecuted:
		return "Executed"
	case ActionStateCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the action can be closed.
func (s ActionState) Terminal() bool {
	return s == ActionStateExecuted || s == ActionStateCancelled
}

// ActionKind discriminates the operation an action performs.
type ActionKind int32

const (
	ActionKindDeposit ActionKind = iota
	ActionKindWithdrawal
	ActionKindShift
	ActionKindOrderIncrease
	ActionKindOrderDecrease
	ActionKindOrderSwap
	ActionKindLiquidation
	ActionKindAutoDeleverage
	ActionKindUpdateAdlState
	ActionKindDistributeImpact
	ActionKindCreateMarket
	ActionKindUpdateConfig
)

func (k ActionKind) String() string {
	switch k {
	case ActionKindDeposit:
		return "Deposit"
	case ActionKindWithdrawal:
		return "Withdrawal"
	case ActionKindShift:
		return "Shift"
	case ActionKindOrderIncrease:
		return "OrderIncrease"
	case ActionKindOrderDecrease:
		return "OrderDecrease"
	case ActionKindOrderSwap:
		return "OrderSwap"
	case ActionKindLiquidation:
		return "Liquidation"
	case ActionKindAutoDeleverage:
		return "AutoDeleverage"
	case ActionKindUpdateAdlState:
		return "UpdateAdlState"
	case ActionKindDistributeImpact:
		return "DistributeImpact"
	case ActionKindCreateMarket:
		return "CreateMarket"
	case ActionKindUpdateConfig:
		return "UpdateConfig"
	default:
		return "Unknown"
	}
}

// NeedsOracle reports whether executing this kind requires a validated
// price snapshot. Market administration runs without one.
func (k ActionKind) NeedsOracle() bool {
	switch k {
	case ActionKindCreateMarket, ActionKindUpdateConfig:
		return false
	default:
		return true
	}
}

// ActionKindFromString parses the wire name of an action kind.
func ActionKindFromString(name string) (ActionKind, bool) {
	for k := ActionKindDeposit; k <= ActionKindUpdateConfig; k++ {
		if k.String() == name {
			return k, true
		}
	}
	return 0, false
}

// ActionHeader is the uniform envelope shared by every pending action.
type ActionHeader struct {
	ID          uuid.UUID
	Store       [32]byte
	MarketToken state.Token
	Owner       [32]byte
	Nonce       uint64

	// ExecutionFee escrowed to compensate the executing keeper
	ExecutionFee uint64

	// UpdatedAt is the request's timestamp; oracle freshness is judged
	// against it, never against a wall clock.
	UpdatedAt     int64
	UpdatedAtSlot uint64
	State         ActionState
}

// Action is a pending operation with its typed parameters. Exactly one of
// the parameter fields matching Kind is set.
type Action struct {
	Header ActionHeader
	Kind   ActionKind

	Deposit    *DepositActionParams
	Withdrawal *WithdrawalActionParams
	Shift      *ShiftActionParams
	Order      *OrderActionParams

	// ConfigKey/ConfigValue for UpdateConfig; CreateMarket carries meta.
	ConfigKey   string
	ConfigValue *big.Int
	MarketMeta  *state.MarketMeta
}

// DepositActionParams carry a deposit request plus optional swap paths that
// convert arbitrary input tokens into the market's collateral pair.
type DepositActionParams struct {
	LongTokenAmount      *big.Int
	ShortTokenAmount     *big.Int
	MinMarketTokenAmount *big.Int
	LongSwap             SwapParams
	ShortSwap            SwapParams
}

type WithdrawalActionParams struct {
	MarketTokenAmount   *big.Int
	MinLongTokenAmount  *big.Int
	MinShortTokenAmount *big.Int
}

type ShiftActionParams struct {
	ToMarketToken          state.Token
	FromMarketTokenAmount  *big.Int
	MinToMarketTokenAmount *big.Int
}

// OrderActionParams cover increase, decrease, swap, liquidation and ADL.
type OrderActionParams struct {
	PositionID      uuid.UUID
	CollateralToken state.Token
	IsLong          bool

	CollateralDeltaAmount      *big.Int
	SizeDeltaUsd               *big.Int
	AcceptablePrice            *big.Int
	TriggerPrice               *big.Int
	MinOutputAmount            *big.Int
	CollateralWithdrawalAmount *big.Int
	DecreaseSwapType           DecreaseSwapType

	Swap SwapParams
}

// MinExecutionFee is the floor every action must escrow.
const MinExecutionFee uint64 = 5000

// ValidateCreate checks the invariants an action must satisfy on create.
func (a *Action) ValidateCreate() error {
	if a.Header.State != ActionStatePending {
		return ErrInvalidActionState
	}
	if a.Header.ExecutionFee < MinExecutionFee {
		return ErrNotEnoughExecutionFee
	}
	switch a.Kind {
	case ActionKindDeposit:
		if a.Deposit == nil {
			return fmt.Errorf("%w: missing deposit params", ErrInvalidArgument)
		}
		if zeroIfNil(a.Deposit.LongTokenAmount).Sign() == 0 && zeroIfNil(a.Deposit.ShortTokenAmount).Sign() == 0 {
			return fmt.Errorf("%w: empty deposit", ErrInvalidArgument)
		}
	case ActionKindWithdrawal:
		if a.Withdrawal == nil || zeroIfNil(a.Withdrawal.MarketTokenAmount).Sign() == 0 {
			return fmt.Errorf("%w: empty withdrawal", ErrInvalidArgument)
		}
	case ActionKindShift:
		if a.Shift == nil || zeroIfNil(a.Shift.FromMarketTokenAmount).Sign() == 0 {
			return fmt.Errorf("%w: empty shift", ErrInvalidArgument)
		}
	case ActionKindOrderIncrease, ActionKindOrderDecrease, ActionKindOrderSwap,
		ActionKindLiquidation, ActionKindAutoDeleverage:
		if a.Order == nil {
			return fmt.Errorf("%w: missing order params", ErrInvalidArgument)
		}
	case ActionKindUpdateAdlState:
		// Keeper operation; only the side selector is read.
		if a.Order == nil {
			return fmt.Errorf("%w: missing order params", ErrInvalidArgument)
		}
	case ActionKindDistributeImpact:
		// Keeper operation, no parameters.
	case ActionKindCreateMarket:
		if a.MarketMeta == nil {
			return fmt.Errorf("%w: missing market meta", ErrInvalidArgument)
		}
	case ActionKindUpdateConfig:
		if a.ConfigKey == "" || a.ConfigValue == nil {
			return fmt.Errorf("%w: missing config key or value", ErrInvalidArgument)
		}
		if _, ok := state.MarketConfigKeyFromString(a.ConfigKey); !ok {
			return fmt.Errorf("%w: unknown config key %q", ErrInvalidArgument, a.ConfigKey)
		}
	default:
		return ErrUnknownActionKind
	}
	return nil
}

// MarkExecuted transitions Pending (or Completed) to Executed.
func (a *Action) MarkExecuted() error {
	if a.Header.State != ActionStatePending && a.Header.State != ActionStateCompleted {
		return ErrInvalidActionState
	}
	a.Header.State = ActionStateExecuted
	return nil
}

// MarkCompleted transitions Pending to Completed (first leg done).
func (a *Action) MarkCompleted() error {
	if a.Header.State != ActionStatePending {
		return ErrInvalidActionState
	}
	a.Header.State = ActionStateCompleted
	return nil
}

// MarkCancelled transitions any non-terminal state to Cancelled.
func (a *Action) MarkCancelled() error {
	if a.Header.State.Terminal() {
		return ErrInvalidActionState
	}
	a.Header.State = ActionStateCancelled
	return nil
}
