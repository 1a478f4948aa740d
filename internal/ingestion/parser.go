package ingestion

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"

	"gmsol/internal/core"
	"gmsol/internal/oracle"
	"gmsol/internal/state"
)

// Request kinds carried by the NATS subjects.
const (
	RequestCreate  = "Create"
	RequestExecute = "Execute"
	RequestCancel  = "Cancel"
)

// KindFromSubject maps a NATS subject to its request kind.
func KindFromSubject(subject string) (string, bool) {
	switch {
	case strings.HasPrefix(subject, "gmsol.actions.create."):
		return RequestCreate, true
	case strings.HasPrefix(subject, "gmsol.actions.execute."):
		return RequestExecute, true
	case strings.HasPrefix(subject, "gmsol.actions.cancel."):
		return RequestCancel, true
	default:
		return "", false
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Amounts and
// prices travel as decimal strings since they exceed float64 precision.

type swapParamsJSON struct {
	Path     []state.Token `json:"path,omitempty"`
	TokenIn  state.Token   `json:"token_in"`
	TokenOut state.Token   `json:"token_out"`
}

type depositParamsJSON struct {
	LongTokenAmount      string          `json:"long_token_amount,omitempty"`
	ShortTokenAmount     string          `json:"short_token_amount,omitempty"`
	MinMarketTokenAmount string          `json:"min_market_token_amount,omitempty"`
	LongSwap             *swapParamsJSON `json:"long_swap,omitempty"`
	ShortSwap            *swapParamsJSON `json:"short_swap,omitempty"`
}

type withdrawalParamsJSON struct {
	MarketTokenAmount   string `json:"market_token_amount"`
	MinLongTokenAmount  string `json:"min_long_token_amount,omitempty"`
	MinShortTokenAmount string `json:"min_short_token_amount,omitempty"`
}

type shiftParamsJSON struct {
	ToMarketToken          state.Token `json:"to_market_token"`
	FromMarketTokenAmount  string      `json:"from_market_token_amount"`
	MinToMarketTokenAmount string      `json:"min_to_market_token_amount,omitempty"`
}

type orderParamsJSON struct {
	PositionID      string      `json:"position_id,omitempty"`
	CollateralToken state.Token `json:"collateral_token"`
	IsLong          bool        `json:"is_long"`

	CollateralDeltaAmount      string          `json:"collateral_delta_amount,omitempty"`
	SizeDeltaUsd               string          `json:"size_delta_usd,omitempty"`
	AcceptablePrice            string          `json:"acceptable_price,omitempty"`
	TriggerPrice               string          `json:"trigger_price,omitempty"`
	MinOutputAmount            string          `json:"min_output_amount,omitempty"`
	CollateralWithdrawalAmount string          `json:"collateral_withdrawal_amount,omitempty"`
	DecreaseSwapType           string          `json:"decrease_swap_type,omitempty"`
	Swap                       *swapParamsJSON `json:"swap,omitempty"`
}

type marketMetaJSON struct {
	MarketToken state.Token `json:"market_token"`
	IndexToken  state.Token `json:"index_token"`
	LongToken   state.Token `json:"long_token"`
	ShortToken  state.Token `json:"short_token"`
}

type createRequestJSON struct {
	ActionID      string `json:"action_id"`
	Store         string `json:"store"`
	MarketToken   string `json:"market_token"`
	Owner         string `json:"owner"`
	Nonce         uint64 `json:"nonce"`
	ExecutionFee  uint64 `json:"execution_fee"`
	UpdatedAt     int64  `json:"updated_at"`
	UpdatedAtSlot uint64 `json:"updated_at_slot"`
	Kind          string `json:"kind"`

	Deposit    *depositParamsJSON    `json:"deposit,omitempty"`
	Withdrawal *withdrawalParamsJSON `json:"withdrawal,omitempty"`
	Shift      *shiftParamsJSON      `json:"shift,omitempty"`
	Order      *orderParamsJSON      `json:"order,omitempty"`

	ConfigKey   string          `json:"config_key,omitempty"`
	ConfigValue string          `json:"config_value,omitempty"`
	MarketMeta  *marketMetaJSON `json:"market_meta,omitempty"`
}

type priceJSON struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

type executeRequestJSON struct {
	ActionID string               `json:"action_id"`
	Prices   map[string]priceJSON `json:"prices"`
	MinTs    int64                `json:"min_ts"`
	MaxTs    int64                `json:"max_ts"`
}

type cancelRequestJSON struct {
	ActionID string `json:"action_id"`
	Reason   string `json:"reason,omitempty"`
}

// ParseCreateRequest converts creation wire JSON into a typed action.
func ParseCreateRequest(data []byte) (*core.Action, error) {
	var j createRequestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse create request: %w", err)
	}

	id, err := uuid.Parse(j.ActionID)
	if err != nil {
		return nil, fmt.Errorf("parse action_id: %w", err)
	}
	store, err := parseKey32(j.Store)
	if err != nil {
		return nil, fmt.Errorf("parse store: %w", err)
	}
	owner, err := parseKey32(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	marketToken, err := state.TokenFromHex(j.MarketToken)
	if err != nil {
		return nil, fmt.Errorf("parse market_token: %w", err)
	}
	kind, ok := core.ActionKindFromString(j.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown action kind: %s", j.Kind)
	}

	a := &core.Action{
		Header: core.ActionHeader{
			ID:            id,
			Store:         store,
			MarketToken:   marketToken,
			Owner:         owner,
			Nonce:         j.Nonce,
			ExecutionFee:  j.ExecutionFee,
			UpdatedAt:     j.UpdatedAt,
			UpdatedAtSlot: j.UpdatedAtSlot,
			State:         core.ActionStatePending,
		},
		Kind: kind,
	}

	switch kind {
	case core.ActionKindDeposit:
		if j.Deposit == nil {
			return nil, fmt.Errorf("missing deposit params")
		}
		a.Deposit, err = parseDepositParams(j.Deposit)
	case core.ActionKindWithdrawal:
		if j.Withdrawal == nil {
			return nil, fmt.Errorf("missing withdrawal params")
		}
		a.Withdrawal, err = parseWithdrawalParams(j.Withdrawal)
	case core.ActionKindShift:
		if j.Shift == nil {
			return nil, fmt.Errorf("missing shift params")
		}
		a.Shift, err = parseShiftParams(j.Shift)
	case core.ActionKindOrderIncrease, core.ActionKindOrderDecrease, core.ActionKindOrderSwap,
		core.ActionKindLiquidation, core.ActionKindAutoDeleverage:
		if j.Order == nil {
			return nil, fmt.Errorf("missing order params")
		}
		a.Order, err = parseOrderParams(j.Order)
	case core.ActionKindUpdateAdlState:
		if j.Order == nil {
			return nil, fmt.Errorf("missing order params for adl update")
		}
		a.Order, err = parseOrderParams(j.Order)
	case core.ActionKindDistributeImpact:
		// No parameters.
	case core.ActionKindCreateMarket:
		if j.MarketMeta == nil {
			return nil, fmt.Errorf("missing market_meta")
		}
		a.MarketMeta = &state.MarketMeta{
			MarketToken: j.MarketMeta.MarketToken,
			IndexToken:  j.MarketMeta.IndexToken,
			LongToken:   j.MarketMeta.LongToken,
			ShortToken:  j.MarketMeta.ShortToken,
		}
	case core.ActionKindUpdateConfig:
		a.ConfigKey = j.ConfigKey
		a.ConfigValue, err = parseBig(j.ConfigValue)
	}
	if err != nil {
		return nil, err
	}

	return a, nil
}

// ParseExecuteRequest converts execution wire JSON into the action id and
// the keeper's oracle snapshot.
func ParseExecuteRequest(data []byte) (uuid.UUID, *oracle.Snapshot, error) {
	var j executeRequestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return uuid.Nil, nil, fmt.Errorf("parse execute request: %w", err)
	}

	id, err := uuid.Parse(j.ActionID)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("parse action_id: %w", err)
	}

	prices := make(oracle.PriceMap, len(j.Prices))
	for tokenHex, p := range j.Prices {
		token, err := parseKey32(tokenHex)
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("parse price token %s: %w", tokenHex, err)
		}
		min, err := parseBig(p.Min)
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("parse min price for %s: %w", tokenHex, err)
		}
		max, err := parseBig(p.Max)
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("parse max price for %s: %w", tokenHex, err)
		}
		prices[token] = oracle.Price{Min: min, Max: max}
	}

	return id, &oracle.Snapshot{Prices: prices, MinTs: j.MinTs, MaxTs: j.MaxTs}, nil
}

// ParseCancelRequest converts cancellation wire JSON into the action id
// and a human-readable reason.
func ParseCancelRequest(data []byte) (uuid.UUID, string, error) {
	var j cancelRequestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return uuid.Nil, "", fmt.Errorf("parse cancel request: %w", err)
	}
	id, err := uuid.Parse(j.ActionID)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("parse action_id: %w", err)
	}
	reason := j.Reason
	if reason == "" {
		reason = "cancelled by keeper"
	}
	return id, reason, nil
}

func parseDepositParams(j *depositParamsJSON) (*core.DepositActionParams, error) {
	long, err := parseBigOpt(j.LongTokenAmount)
	if err != nil {
		return nil, fmt.Errorf("parse long_token_amount: %w", err)
	}
	short, err := parseBigOpt(j.ShortTokenAmount)
	if err != nil {
		return nil, fmt.Errorf("parse short_token_amount: %w", err)
	}
	minOut, err := parseBigOpt(j.MinMarketTokenAmount)
	if err != nil {
		return nil, fmt.Errorf("parse min_market_token_amount: %w", err)
	}
	return &core.DepositActionParams{
		LongTokenAmount:      long,
		ShortTokenAmount:     short,
		MinMarketTokenAmount: minOut,
		LongSwap:             parseSwapParams(j.LongSwap),
		ShortSwap:            parseSwapParams(j.ShortSwap),
	}, nil
}

func parseWithdrawalParams(j *withdrawalParamsJSON) (*core.WithdrawalActionParams, error) {
	amount, err := parseBig(j.MarketTokenAmount)
	if err != nil {
		return nil, fmt.Errorf("parse market_token_amount: %w", err)
	}
	minLong, err := parseBigOpt(j.MinLongTokenAmount)
	if err != nil {
		return nil, fmt.Errorf("parse min_long_token_amount: %w", err)
	}
	minShort, err := parseBigOpt(j.MinShortTokenAmount)
	if err != nil {
		return nil, fmt.Errorf("parse min_short_token_amount: %w", err)
	}
	return &core.WithdrawalActionParams{
		MarketTokenAmount:   amount,
		MinLongTokenAmount:  minLong,
		MinShortTokenAmount: minShort,
	}, nil
}

func parseShiftParams(j *shiftParamsJSON) (*core.ShiftActionParams, error) {
	from, err := parseBig(j.FromMarketTokenAmount)
	if err != nil {
		return nil, fmt.Errorf("parse from_market_token_amount: %w", err)
	}
	minTo, err := parseBigOpt(j.MinToMarketTokenAmount)
	if err != nil {
		return nil, fmt.Errorf("parse min_to_market_token_amount: %w", err)
	}
	return &core.ShiftActionParams{
		ToMarketToken:          j.ToMarketToken,
		FromMarketTokenAmount:  from,
		MinToMarketTokenAmount: minTo,
	}, nil
}

func parseOrderParams(j *orderParamsJSON) (*core.OrderActionParams, error) {
	p := &core.OrderActionParams{
		CollateralToken: j.CollateralToken,
		IsLong:          j.IsLong,
		Swap:            parseSwapParams(j.Swap),
	}

	if j.PositionID != "" {
		id, err := uuid.Parse(j.PositionID)
		if err != nil {
			return nil, fmt.Errorf("parse position_id: %w", err)
		}
		p.PositionID = id
	}

	var err error
	if p.CollateralDeltaAmount, err = parseBigOpt(j.CollateralDeltaAmount); err != nil {
		return nil, fmt.Errorf("parse collateral_delta_amount: %w", err)
	}
	if p.SizeDeltaUsd, err = parseBigOpt(j.SizeDeltaUsd); err != nil {
		return nil, fmt.Errorf("parse size_delta_usd: %w", err)
	}
	if p.AcceptablePrice, err = parseBigOpt(j.AcceptablePrice); err != nil {
		return nil, fmt.Errorf("parse acceptable_price: %w", err)
	}
	if p.TriggerPrice, err = parseBigOpt(j.TriggerPrice); err != nil {
		return nil, fmt.Errorf("parse trigger_price: %w", err)
	}
	if p.MinOutputAmount, err = parseBigOpt(j.MinOutputAmount); err != nil {
		return nil, fmt.Errorf("parse min_output_amount: %w", err)
	}
	if p.CollateralWithdrawalAmount, err = parseBigOpt(j.CollateralWithdrawalAmount); err != nil {
		return nil, fmt.Errorf("parse collateral_withdrawal_amount: %w", err)
	}

	switch j.DecreaseSwapType {
	case "", "none":
		p.DecreaseSwapType = core.DecreaseSwapNone
	case "pnl_to_collateral":
		p.DecreaseSwapType = core.DecreaseSwapPnlTokenToCollateralToken
	case "collateral_to_pnl":
		p.DecreaseSwapType = core.DecreaseSwapCollateralTokenToPnlToken
	default:
		return nil, fmt.Errorf("unknown decrease_swap_type: %s", j.DecreaseSwapType)
	}

	return p, nil
}

func parseSwapParams(j *swapParamsJSON) core.SwapParams {
	if j == nil {
		return core.SwapParams{}
	}
	return core.SwapParams{
		Path:     j.Path,
		TokenIn:  j.TokenIn,
		TokenOut: j.TokenOut,
	}
}

func parseKey32(s string) ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, err
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("want 32 bytes, got %d", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

func parseBig(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// parseBigOpt treats a missing field as nil rather than an error.
func parseBigOpt(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	return parseBig(s)
}
