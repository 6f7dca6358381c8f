package storage

import (
	"context"
	"errors"

	"coinScope/internal/model"
)

// TradeJournal is a sink for finished trade attempts.
type TradeJournal interface {
	PutTrades(ctx context.Context, records []model.TradeRecord) error
}

// Tee writes every batch to all journals and joins their errors.
type Tee []TradeJournal

func (t Tee) PutTrades(ctx context.Context, records []model.TradeRecord) error {
	var errs []error
	for _, j := range t {
		if j == nil {
			continue
		}
		if err := j.PutTrades(ctx, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
