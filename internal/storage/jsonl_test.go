package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"coinScope/internal/model"
)

func TestJsonlJournalAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "trades.jsonl")
	j := NewJsonlJournal(path)
	ctx := context.Background()

	first := model.TradeRecord{CoinID: "a", Action: model.ActionBuy, Amount: "0.1", Success: true}
	second := model.TradeRecord{CoinID: "b", Action: model.ActionSell, Category: model.CategoryNetwork, Error: "timeout"}
	if err := j.PutTrades(ctx, []model.TradeRecord{first}); err != nil {
		t.Fatalf("put first: %v", err)
	}
	if err := j.PutTrades(ctx, []model.TradeRecord{second}); err != nil {
		t.Fatalf("put second: %v", err)
	}
	if err := j.PutTrades(ctx, nil); err != nil {
		t.Fatalf("put empty: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if n := strings.Count(string(raw), "\n"); n != 2 {
		t.Fatalf("expected 2 lines, got %d", n)
	}

	got, err := j.ReadTrades()
	if err != nil {
		t.Fatalf("read trades: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].CoinID != "a" || !got[0].Success {
		t.Fatalf("unexpected first record: %+v", got[0])
	}
	if got[1].Category != model.CategoryNetwork || got[1].Error != "timeout" {
		t.Fatalf("unexpected second record: %+v", got[1])
	}
}

func TestJsonlJournalMissingFile(t *testing.T) {
	j := NewJsonlJournal(filepath.Join(t.TempDir(), "none.jsonl"))
	got, err := j.ReadTrades()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no records, got %d", len(got))
	}
}

type failingJournal struct{ err error }

func (f failingJournal) PutTrades(ctx context.Context, records []model.TradeRecord) error {
	return f.err
}

func TestTeeWritesAllAndJoinsErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	j := NewJsonlJournal(path)
	boom := errors.New("boom")

	err := Tee{failingJournal{err: boom}, nil, j}.PutTrades(context.Background(), []model.TradeRecord{{CoinID: "a"}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined boom error, got %v", err)
	}
	got, err := j.ReadTrades()
	if err != nil {
		t.Fatalf("read trades: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected record written despite sibling failure, got %d", len(got))
	}
}
