package model

// TokenPrice holds the current USD price and market cap of a token.
// Both fields are nil when upstream did not report them.
type TokenPrice struct {
	PriceUSD  *float64 `json:"price_usd"`
	MarketCap *float64 `json:"market_cap"`
}
