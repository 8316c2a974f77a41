package market

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NormalizeSymbol upper-cases and trims symbol and checks its format:
// 1 to 10 characters, starting with a letter, then letters, digits, '.'
// or '-'.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" || len(s) > 10 {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	for i, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '.' || r == '-'):
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
		}
	}
	return s, nil
}

// Stock is a listed equity with its latest quote.
type Stock struct {
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	Exchange  string          `json:"exchange,omitempty"`
	Sector    string          `json:"sector,omitempty"`
	Currency  string          `json:"currency,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Change    decimal.Decimal `json:"change"`
	ChangePct decimal.Decimal `json:"change_pct"`
	Volume    int64           `json:"volume"`
	MarketCap int64           `json:"market_cap,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Validate implements client.Validator.
func (s Stock) Validate() error {
	if _, err := NormalizeSymbol(s.Symbol); err != nil {
		return err
	}
	if s.Name == "" {
		return fmt.Errorf("%w: name of %s", ErrMissingField, s.Symbol)
	}
	if s.Price.IsNegative() {
		return fmt.Errorf("%w: %s price %s", ErrInvalidPrice, s.Symbol, s.Price)
	}
	if s.Volume < 0 {
		return fmt.Errorf("%w: %s volume %d", ErrInvalidPrice, s.Symbol, s.Volume)
	}
	return nil
}

// PriceBar is one OHLCV interval.
type PriceBar struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// Validate checks Low <= Open, Close <= High and non-negative values.
func (b PriceBar) Validate() error {
	if b.Time.IsZero() {
		return fmt.Errorf("%w: bar time", ErrMissingField)
	}
	if b.Low.IsNegative() || b.Volume < 0 {
		return fmt.Errorf("%w: negative bar at %s", ErrInvalidPrice, b.Time.Format(time.RFC3339))
	}
	if b.High.LessThan(b.Low) ||
		b.Open.LessThan(b.Low) || b.Open.GreaterThan(b.High) ||
		b.Close.LessThan(b.Low) || b.Close.GreaterThan(b.High) {
		return fmt.Errorf("%w: bar at %s outside low/high", ErrInvalidPrice, b.Time.Format(time.RFC3339))
	}
	return nil
}

// Range returns High - Low.
func (b PriceBar) Range() decimal.Decimal {
	return b.High.Sub(b.Low)
}

// PriceSeries is a symbol's bars in ascending time order.
type PriceSeries struct {
	Symbol   string     `json:"symbol"`
	Interval string     `json:"interval"`
	Bars     []PriceBar `json:"bars"`
}

// Validate checks every bar and their ordering.
func (p PriceSeries) Validate() error {
	if _, err := NormalizeSymbol(p.Symbol); err != nil {
		return err
	}
	for i, b := range p.Bars {
		if err := b.Validate(); err != nil {
			return err
		}
		if i > 0 && !b.Time.After(p.Bars[i-1].Time) {
			return fmt.Errorf("%w: bars out of order at %d", ErrInvalidPrice, i)
		}
	}
	return nil
}

// Last returns the most recent bar.
func (p PriceSeries) Last() (PriceBar, bool) {
	if len(p.Bars) == 0 {
		return PriceBar{}, false
	}
	return p.Bars[len(p.Bars)-1], true
}

// Sector is an industry group and its aggregate move.
type Sector struct {
	Name      string          `json:"name"`
	ChangePct decimal.Decimal `json:"change_pct"`
	Stocks    int             `json:"stocks"`
}

// Validate implements client.Validator.
func (s Sector) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: sector name", ErrMissingField)
	}
	if s.Stocks < 0 {
		return fmt.Errorf("%w: sector %s has %d stocks", ErrInvalidPrice, s.Name, s.Stocks)
	}
	return nil
}

// Sectors is the /sectors payload.
type Sectors []Sector

// Validate checks each sector.
func (s Sectors) Validate() error {
	return validateAll(s)
}

// IndicatorPoint is one computed value.
type IndicatorPoint struct {
	Time  time.Time       `json:"time"`
	Value decimal.Decimal `json:"value"`
}

// Indicator is a technical series such as "sma" or "rsi".
type Indicator struct {
	Symbol string           `json:"symbol"`
	Name   string           `json:"name"`
	Period int              `json:"period"`
	Values []IndicatorPoint `json:"values"`
}

// Validate implements client.Validator.
func (i Indicator) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("%w: indicator name", ErrMissingField)
	}
	if i.Period < 0 {
		return fmt.Errorf("%w: indicator %s period %d", ErrInvalidPrice, i.Name, i.Period)
	}
	return nil
}

// Indicators is the /stocks/{symbol}/indicators payload.
type Indicators []Indicator

// Validate checks each indicator.
func (s Indicators) Validate() error {
	return validateAll(s)
}

// PriceUpdate is the payload of a "prices.{symbol}" push event.
type PriceUpdate struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Change decimal.Decimal `json:"change"`
	Volume int64           `json:"volume"`
	Time   time.Time       `json:"time"`
}

// Validate implements client.Validator.
func (u PriceUpdate) Validate() error {
	if _, err := NormalizeSymbol(u.Symbol); err != nil {
		return err
	}
	if u.Price.IsNegative() {
		return fmt.Errorf("%w: %s update %s", ErrInvalidPrice, u.Symbol, u.Price)
	}
	return nil
}

// Page is a paginated list envelope.
type Page[T any] struct {
	Items    []T `json:"items"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
}

// Validate checks the envelope and every item that implements Validate.
func (p Page[T]) Validate() error {
	if p.Page < 1 || p.PageSize < 0 || p.Total < 0 {
		return fmt.Errorf("%w: page %d size %d total %d", ErrMissingField, p.Page, p.PageSize, p.Total)
	}
	return validateAll(p.Items)
}

// HasMore reports whether later pages exist.
func (p Page[T]) HasMore() bool {
	return p.Page*p.PageSize < p.Total
}

func validateAll[T any](items []T) error {
	for _, it := range items {
		v, ok := any(it).(interface{ Validate() error })
		if !ok {
			return nil
		}
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}
