package gecko

import "fmt"

// Timeframe selects a chart range.
type Timeframe string

const (
	Timeframe1H Timeframe = "1h"
	Timeframe4H Timeframe = "4h"
	Timeframe1D Timeframe = "1d"
	Timeframe1W Timeframe = "1w"
)

// TimeframeConfig maps a Timeframe onto the upstream OHLCV request.
type TimeframeConfig struct {
	Endpoint  string
	Aggregate int
	Limit     int
}

var timeframeConfigs = map[Timeframe]TimeframeConfig{
	Timeframe1H: {Endpoint: "hour", Aggregate: 1, Limit: 60},
	Timeframe4H: {Endpoint: "hour", Aggregate: 4, Limit: 42},
	Timeframe1D: {Endpoint: "day", Aggregate: 1, Limit: 30},
	Timeframe1W: {Endpoint: "day", Aggregate: 1, Limit: 90},
}

// ParseTimeframe validates a timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeConfigs[tf]; !ok {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// Config returns the request parameters for tf.
func (tf Timeframe) Config() (TimeframeConfig, bool) {
	cfg, ok := timeframeConfigs[tf]
	return cfg, ok
}
