package state

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
)

// JSON codecs for the persistent records. Amounts serialize as decimal
// strings: the values are 128-bit and JSON numbers round-trip badly past
// 2^53.

// MarshalJSON renders the token as a full hex string.
func (t Token) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(t[:]))
}

// UnmarshalJSON parses a hex string of up to 32 bytes.
func (t *Token) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := TokenFromHex(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TokenFromHex builds a Token from a hex string.
func TokenFromHex(s string) (Token, error) {
	var t Token
	b, err := hex.DecodeString(s)
	if err != nil {
		return t, fmt.Errorf("state: bad token hex: %w", err)
	}
	if len(b) > len(t) {
		return t, fmt.Errorf("state: token hex too long: %d bytes", len(b))
	}
	copy(t[:], b)
	return t, nil
}

func bigToString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func bigFromString(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("state: bad amount %q", s)
	}
	return v, nil
}

type poolJSON struct {
	IsPure bool   `json:"is_pure"`
	Long   string `json:"long"`
	Short  string `json:"short"`
}

// MarshalJSON renders the pool with string amounts.
func (p *Pool) MarshalJSON() ([]byte, error) {
	return json.Marshal(poolJSON{
		IsPure: p.isPure,
		Long:   bigToString(p.longAmount),
		Short:  bigToString(p.shortAmount),
	})
}

// UnmarshalJSON restores a pool from its JSON form.
func (p *Pool) UnmarshalJSON(data []byte) error {
	var raw poolJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	long, err := bigFromString(raw.Long)
	if err != nil {
		return err
	}
	short, err := bigFromString(raw.Short)
	if err != nil {
		return err
	}
	p.isPure = raw.IsPure
	p.longAmount = long
	p.shortAmount = short
	return nil
}

// MarshalJSON renders the clocks as a timestamp array in kind order.
func (c *Clocks) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.timestamps)
}

// UnmarshalJSON restores the clocks.
func (c *Clocks) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &c.timestamps)
}

// MarshalJSON renders the config as a key-name to value-string map,
// skipping zero values.
func (c *MarketConfig) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, NumMarketConfigKeys)
	for i, v := range c.values {
		if v == nil || v.Sign() == 0 {
			continue
		}
		out[MarketConfigKey(i).String()] = v.String()
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the config; unknown keys are an error.
func (c *MarketConfig) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for i := range c.values {
		c.values[i] = big.NewInt(0)
	}
	for name, s := range raw {
		key, ok := MarketConfigKeyFromString(name)
		if !ok {
			return fmt.Errorf("state: unknown config key %q", name)
		}
		v, err := bigFromString(s)
		if err != nil {
			return err
		}
		c.values[key] = v
	}
	return nil
}

type otherStateJSON struct {
	TradeCount             uint64 `json:"trade_count"`
	FundingFactorPerSecond string `json:"funding_factor_per_second"`
	LongTokenBalance       string `json:"long_token_balance"`
	ShortTokenBalance      string `json:"short_token_balance"`
	MarketTokenSupply      string `json:"market_token_supply"`
}

// MarshalJSON renders the balance state with string amounts.
func (s *OtherState) MarshalJSON() ([]byte, error) {
	return json.Marshal(otherStateJSON{
		TradeCount:             s.TradeCount,
		FundingFactorPerSecond: bigToString(s.FundingFactorPerSecond),
		LongTokenBalance:       bigToString(s.LongTokenBalance),
		ShortTokenBalance:      bigToString(s.ShortTokenBalance),
		MarketTokenSupply:      bigToString(s.MarketTokenSupply),
	})
}

// UnmarshalJSON restores the balance state.
func (s *OtherState) UnmarshalJSON(data []byte) error {
	var raw otherStateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ffps, err := bigFromString(raw.FundingFactorPerSecond)
	if err != nil {
		return err
	}
	long, err := bigFromString(raw.LongTokenBalance)
	if err != nil {
		return err
	}
	short, err := bigFromString(raw.ShortTokenBalance)
	if err != nil {
		return err
	}
	supply, err := bigFromString(raw.MarketTokenSupply)
	if err != nil {
		return err
	}
	s.TradeCount = raw.TradeCount
	s.FundingFactorPerSecond = ffps
	s.LongTokenBalance = long
	s.ShortTokenBalance = short
	s.MarketTokenSupply = supply
	return nil
}

type marketJSON struct {
	Store  string        `json:"store"`
	Meta   MarketMeta    `json:"meta"`
	Flags  MarketFlags   `json:"flags"`
	Rev    uint64        `json:"rev"`
	Pools  []*Pool       `json:"pools"`
	Clocks *Clocks       `json:"clocks"`
	State  *OtherState   `json:"state"`
	Config *MarketConfig `json:"config"`
}

// MarshalJSON renders the whole market record.
func (m *Market) MarshalJSON() ([]byte, error) {
	return json.Marshal(marketJSON{
		Store:  hex.EncodeToString(m.Store[:]),
		Meta:   m.Meta,
		Flags:  m.Flags,
		Rev:    m.Rev,
		Pools:  m.pools[:],
		Clocks: m.clocks,
		State:  m.other,
		Config: m.config,
	})
}

// UnmarshalJSON restores a market record.
func (m *Market) UnmarshalJSON(data []byte) error {
	var raw marketJSON
	raw.Clocks = &Clocks{}
	raw.State = &OtherState{}
	raw.Config = NewMarketConfig()
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	store, err := hex.DecodeString(raw.Store)
	if err != nil || len(store) != 32 {
		return fmt.Errorf("state: bad store hex")
	}
	if len(raw.Pools) != NumPoolKinds {
		return fmt.Errorf("state: expected %d pools, got %d", NumPoolKinds, len(raw.Pools))
	}
	copy(m.Store[:], store)
	m.Meta = raw.Meta
	m.Flags = raw.Flags
	m.Rev = raw.Rev
	for i, p := range raw.Pools {
		m.pools[i] = p
	}
	m.clocks = raw.Clocks
	m.other = raw.State
	m.config = raw.Config
	return nil
}
