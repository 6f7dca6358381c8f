package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coinScope/internal/model"
	"coinScope/internal/prices"
)

//go:embed schema.sql
var schema string

// Store persists price snapshots and trade records.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// PutSnapshot stores one refresh cycle.
func (s *Store) PutSnapshot(ctx context.Context, snapshot prices.Snapshot) error {
	return s.UpsertTokenPrices(ctx, snapshot.FetchedAt, snapshot.Prices, snapshot.EthUSD)
}

// UpsertTokenPrices inserts or updates the prices observed at fetchedAt.
func (s *Store) UpsertTokenPrices(ctx context.Context, fetchedAt time.Time, byAddress map[string]model.TokenPrice, ethUSD *float64) error {
	if len(byAddress) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for address, price := range byAddress {
		batch.Queue(`
			INSERT INTO token_price_snapshots (
				token_address, fetched_at, price_usd, market_cap_usd, eth_usd
			) VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (token_address, fetched_at)
			DO UPDATE SET
				price_usd = EXCLUDED.price_usd,
				market_cap_usd = EXCLUDED.market_cap_usd,
				eth_usd = EXCLUDED.eth_usd
		`,
			strings.ToLower(address),
			fetchedAt.UTC(),
			price.PriceUSD,
			price.MarketCap,
			ethUSD,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range byAddress {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// PutTrades appends trade records.
func (s *Store) PutTrades(ctx context.Context, records []model.TradeRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		submitted, err := time.Parse(time.RFC3339, r.SubmittedAt)
		if err != nil {
			return fmt.Errorf("submitted_at: %w", err)
		}
		finished, err := time.Parse(time.RFC3339, r.FinishedAt)
		if err != nil {
			return fmt.Errorf("finished_at: %w", err)
		}
		batch.Queue(`
			INSERT INTO trade_records (
				coin_id, contract_address, account, chain_id, action, amount, amount_base_units,
				tx_hash, success, category, error, submitted_at, finished_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7::numeric,$8,$9,$10,$11,$12,$13)
		`,
			r.CoinID,
			strings.ToLower(r.ContractAddress),
			r.Account,
			int64(r.ChainID),
			string(r.Action),
			r.Amount,
			r.AmountBaseUnits,
			nullable(r.TxHash),
			r.Success,
			nullable(string(r.Category)),
			nullable(r.Error),
			submitted,
			finished,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LatestPrice returns the most recent stored price for a token.
func (s *Store) LatestPrice(ctx context.Context, address string) (model.TokenPrice, time.Time, bool, error) {
	var (
		price model.TokenPrice
		at    time.Time
	)
	row := s.pool.QueryRow(ctx, `
		SELECT price_usd, market_cap_usd, fetched_at
		FROM token_price_snapshots
		WHERE token_address = $1
		ORDER BY fetched_at DESC
		LIMIT 1
	`, strings.ToLower(address))
	if err := row.Scan(&price.PriceUSD, &price.MarketCap, &at); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.TokenPrice{}, time.Time{}, false, nil
		}
		return model.TokenPrice{}, time.Time{}, false, err
	}
	return price, at, true, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
