package model

// Pool is a liquidity pool as ranked by the market-data aggregator.
type Pool struct {
	ID           string `json:"id"`
	Address      string `json:"address"`
	Name         string `json:"name"`
	ReserveInUSD string `json:"reserve_in_usd"`
}
