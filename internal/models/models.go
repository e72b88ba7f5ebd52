package models

import (
	"strings"
	"time"

	"github.com/sdcoffey/big"
)

// Rule represents one price-threshold square-off policy bound to a
// single instrument. LowerLimit and UpperLimit are optional; a nil
// limit disables that side of the rule.
type Rule struct {
	ID              string   `json:"id"`
	Symbol          string   `json:"symbol"`
	InstrumentToken string   `json:"instrument_token"`
	LowerLimit      *float64 `json:"lower_limit_price,omitempty"`
	UpperLimit      *float64 `json:"upper_limit_price,omitempty"`
	Active          bool     `json:"active"`
	KillSwitch      bool     `json:"kill_switch"`
	DryRun          bool     `json:"dry_run"`
	TriggeredToday  bool     `json:"triggered_today"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate validates a Rule
func (r *Rule) Validate() error {
	if r.InstrumentToken == "" {
		return ErrInvalidToken
	}
	if r.LowerLimit == nil && r.UpperLimit == nil {
		return ErrNoLimits
	}
	if r.LowerLimit != nil && *r.LowerLimit <= 0 {
		return ErrInvalidLimit
	}
	if r.UpperLimit != nil && *r.UpperLimit <= 0 {
		return ErrInvalidLimit
	}
	if r.LowerLimit != nil && r.UpperLimit != nil {
		lower := big.NewDecimal(*r.LowerLimit)
		upper := big.NewDecimal(*r.UpperLimit)
		if lower.GTE(upper) {
			return ErrLimitsCrossed
		}
	}
	return nil
}

// Armed reports whether the rule can still fire. A killed or
// already-triggered rule is terminal until the kill switch is cleared
// or the daily reset runs.
func (r *Rule) Armed() bool {
	return !r.KillSwitch && !r.TriggeredToday
}

// Copy returns a deep copy of the rule
func (r *Rule) Copy() *Rule {
	if r == nil {
		return nil
	}
	copied := *r
	if r.LowerLimit != nil {
		v := *r.LowerLimit
		copied.LowerLimit = &v
	}
	if r.UpperLimit != nil {
		v := *r.UpperLimit
		copied.UpperLimit = &v
	}
	return &copied
}

// Tick represents a single price update for one instrument
type Tick struct {
	InstrumentToken string    `json:"instrument_token"`
	LastPrice       float64   `json:"last_price"`
	Timestamp       time.Time `json:"timestamp"`
}

// Validate validates a Tick
func (t *Tick) Validate() error {
	if t.InstrumentToken == "" {
		return ErrInvalidToken
	}
	if t.LastPrice <= 0 {
		return ErrInvalidPrice
	}
	return nil
}

// Position is a net open position reported by the brokerage. Quantity
// is signed: negative means short.
type Position struct {
	TradingSymbol   string  `json:"tradingsymbol"`
	Exchange        string  `json:"exchange"`
	InstrumentToken string  `json:"instrument_token"`
	Product         string  `json:"product"`
	Quantity        int64   `json:"quantity"`
	AveragePrice    float64 `json:"average_price"`
	LastPrice       float64 `json:"last_price"`
	PnL             float64 `json:"pnl"`
}

// IsOption reports whether the position is an option contract. Option
// trading symbols carry a CE or PE suffix.
func (p *Position) IsOption() bool {
	return strings.HasSuffix(p.TradingSymbol, "CE") || strings.HasSuffix(p.TradingSymbol, "PE")
}

// Order parameter constants, matching the brokerage order API.
const (
	TransactionBuy  = "BUY"
	TransactionSell = "SELL"

	VarietyRegular  = "regular"
	ProductMIS      = "MIS"
	OrderTypeMarket = "MARKET"
	ValidityDay     = "DAY"
)

// OrderParams holds the fully resolved parameters of one order
type OrderParams struct {
	Variety         string `json:"variety"`
	Exchange        string `json:"exchange"`
	TradingSymbol   string `json:"tradingsymbol"`
	TransactionType string `json:"transaction_type"`
	Quantity        int64  `json:"quantity"`
	Product         string `json:"product"`
	OrderType       string `json:"order_type"`
	Validity        string `json:"validity"`
}
