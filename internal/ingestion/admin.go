package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"gmsol/internal/state"
)

// AdminInjector provides manual request injection for operators. Injected
// requests take the exact same wire path as NATS traffic so dedup, nonce
// checks and hashing behave identically. Not for high-throughput use.
type AdminInjector struct {
	store       [32]byte
	owner       [32]byte
	requestChan chan<- RawRequest
}

func NewAdminInjector(store, owner [32]byte, requestChan chan<- RawRequest) *AdminInjector {
	return &AdminInjector{store: store, owner: owner, requestChan: requestChan}
}

// InjectCreateMarket submits a CreateMarket action for the given token set.
func (s *AdminInjector) InjectCreateMarket(ctx context.Context, nonce uint64, meta state.MarketMeta) (uuid.UUID, error) {
	id := uuid.New()
	req := createRequestJSON{
		ActionID:     id.String(),
		Store:        hex.EncodeToString(s.store[:]),
		MarketToken:  hex.EncodeToString(meta.MarketToken[:]),
		Owner:        hex.EncodeToString(s.owner[:]),
		Nonce:        nonce,
		ExecutionFee: 5000,
		UpdatedAt:    time.Now().Unix(),
		Kind:         "CreateMarket",
		MarketMeta: &marketMetaJSON{
			MarketToken: meta.MarketToken,
			IndexToken:  meta.IndexToken,
			LongToken:   meta.LongToken,
			ShortToken:  meta.ShortToken,
		},
	}
	return id, s.inject(ctx, "gmsol.actions.create.admin", req)
}

// InjectConfigUpdate submits an UpdateConfig action for one factor.
func (s *AdminInjector) InjectConfigUpdate(ctx context.Context, nonce uint64, marketToken state.Token, key string, value *big.Int) (uuid.UUID, error) {
	if value == nil || value.Sign() < 0 {
		return uuid.Nil, fmt.Errorf("config value must be non-negative")
	}
	if _, ok := state.MarketConfigKeyFromString(key); !ok {
		return uuid.Nil, fmt.Errorf("unknown config key %q", key)
	}

	id := uuid.New()
	req := createRequestJSON{
		ActionID:     id.String(),
		Store:        hex.EncodeToString(s.store[:]),
		MarketToken:  hex.EncodeToString(marketToken[:]),
		Owner:        hex.EncodeToString(s.owner[:]),
		Nonce:        nonce,
		ExecutionFee: 5000,
		UpdatedAt:    time.Now().Unix(),
		Kind:         "UpdateConfig",
		ConfigKey:    key,
		ConfigValue:  value.String(),
	}
	return id, s.inject(ctx, "gmsol.actions.create.admin", req)
}

// InjectExecute submits an execute request. CreateMarket and UpdateConfig
// run without prices, so an empty snapshot window is fine for those.
func (s *AdminInjector) InjectExecute(ctx context.Context, actionID uuid.UUID) error {
	req := executeRequestJSON{
		ActionID: actionID.String(),
		Prices:   map[string]priceJSON{},
	}
	return s.inject(ctx, "gmsol.actions.execute.admin", req)
}

// InjectCancel submits a cancel request with an operator-supplied reason.
func (s *AdminInjector) InjectCancel(ctx context.Context, actionID uuid.UUID, reason string) error {
	req := cancelRequestJSON{ActionID: actionID.String(), Reason: reason}
	return s.inject(ctx, "gmsol.actions.cancel.admin", req)
}

func (s *AdminInjector) inject(ctx context.Context, subject string, req interface{}) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	raw := RawRequest{
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}

	select {
	case s.requestChan <- raw:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
