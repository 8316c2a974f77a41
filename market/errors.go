package market

import "errors"

var (
	// ErrInvalidSymbol indicates a ticker that is empty or malformed.
	ErrInvalidSymbol = errors.New("market: invalid symbol")

	// ErrInvalidRange indicates a price query whose From is after To.
	ErrInvalidRange = errors.New("market: invalid time range")

	// ErrInvalidPrice indicates a negative or inconsistent price.
	ErrInvalidPrice = errors.New("market: invalid price")

	// ErrMissingField indicates a required field absent from a payload.
	ErrMissingField = errors.New("market: missing field")

	// ErrNoSymbols indicates WatchPrices was called without symbols.
	ErrNoSymbols = errors.New("market: no symbols to watch")
)
