// Package market provides typed, validated access to the equity price
// endpoints on top of client.Client.
//
// Models use shopspring/decimal for every price so values survive the JSON
// round trip without float rounding. Each response type implements
// Validate, which client.Decode runs after decoding; a payload that fails
// validation is a VALIDATION ClassifiedError and is evicted from the cache.
//
// # Endpoints
//
//	GET /stocks                       Page[Stock]
//	GET /stocks/{symbol}              Stock
//	GET /stocks/{symbol}/prices       PriceSeries
//	GET /stocks/{symbol}/indicators   []Indicator
//	GET /sectors                      []Sector
//
// Live prices arrive on push events named "prices.{symbol}" carrying a
// PriceUpdate.
package market
