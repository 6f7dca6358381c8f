package history

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"coinScope/internal/model"
)

// ParseCandles converts upstream [ts, o, h, l, c, v] rows into candles.
func ParseCandles(rows [][]json.RawMessage) ([]model.Candle, error) {
	candles := make([]model.Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("ohlcv row %d: expected 6 fields, got %d", i, len(row))
		}
		var values [6]float64
		for j := 0; j < 6; j++ {
			v, err := parseNumber(row[j])
			if err != nil {
				return nil, fmt.Errorf("ohlcv row %d field %d: %w", i, j, err)
			}
			values[j] = v
		}
		candles = append(candles, model.Candle{
			Time:   int64(values[0]),
			Open:   values[1],
			High:   values[2],
			Low:    values[3],
			Close:  values[4],
			Volume: values[5],
		})
	}
	return candles, nil
}

func parseNumber(raw json.RawMessage) (float64, error) {
	s := strings.TrimSpace(string(raw))
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	return strconv.ParseFloat(s, 64)
}

// Normalize sorts candles by time and keeps the first candle of every
// timestamp. The result has strictly increasing timestamps.
func Normalize(candles []model.Candle) []model.Candle {
	sorted := make([]model.Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time < sorted[j].Time
	})

	out := sorted[:0]
	for i, c := range sorted {
		if i > 0 && c.Time == out[len(out)-1].Time {
			continue
		}
		out = append(out, c)
	}
	return out
}
