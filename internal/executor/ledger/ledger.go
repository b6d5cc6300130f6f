// Package ledger persists the executor's fill history and derives net
// positions from it. The history is one JSON array rewritten wholesale on
// every append; the file is the authority, nothing is cached across calls.
package ledger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opsdesk/tradesim/pkg/docstore"
	"github.com/opsdesk/tradesim/pkg/metrics"
	"github.com/opsdesk/tradesim/pkg/models"
)

// DefaultRecentLimit bounds Recent when the caller passes limit <= 0.
const DefaultRecentLimit = 100

// positionEpsilon is the net-quantity band treated as flat.
var positionEpsilon = decimal.NewFromFloat(1e-8)

// Ledger is the append-only trade history.
type Ledger struct {
	store *docstore.Store[[]models.TradeRecord]
}

// Open returns a ledger backed by the JSON document at path.
func Open(path string) *Ledger {
	return &Ledger{
		store: docstore.New(path, func() []models.TradeRecord {
			return []models.TradeRecord{}
		}),
	}
}

// Path returns the backing file path.
func (l *Ledger) Path() string {
	return l.store.Path()
}

// Append stamps rec with the next sequence id and the append time, then
// rewrites the document durably. The id is derived from the stored length,
// so it stays monotonic across restarts. A failed write fails the append;
// nothing is retained in memory.
func (l *Ledger) Append(rec models.TradeRecord, now time.Time) (models.TradeRecord, error) {
	var stored models.TradeRecord
	all, err := l.store.Update(func(records *[]models.TradeRecord) error {
		rec.ID = fmt.Sprintf("0x%x", len(*records)+1)
		rec.TS = now.UTC()
		*records = append(*records, rec)
		stored = rec
		return nil
	})
	if err != nil {
		return models.TradeRecord{}, fmt.Errorf("failed to append trade: %w", err)
	}
	metrics.LedgerRecords.Set(float64(len(all)))
	return stored, nil
}

// All returns the full history, oldest first.
func (l *Ledger) All() ([]models.TradeRecord, error) {
	records, err := l.store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	return records, nil
}

// Recent returns the newest limit records in insertion (oldest-first)
// order. limit <= 0 falls back to DefaultRecentLimit.
func (l *Ledger) Recent(limit int) ([]models.TradeRecord, error) {
	records, err := l.All()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// Len reports the number of stored records.
func (l *Ledger) Len() (int, error) {
	records, err := l.All()
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Positions reconstructs net exposure per symbol from a history snapshot.
// Buys add quantity and cost, sells subtract them; records without a price
// contribute zero cost, which skews the average toward zero. A net quantity
// within epsilon of zero reports no average price. Output is sorted by
// symbol so identical snapshots yield identical results.
func Positions(records []models.TradeRecord) []models.Position {
	type acc struct {
		qty  decimal.Decimal
		cost decimal.Decimal
	}
	book := make(map[string]*acc)
	for _, rec := range records {
		a := book[rec.Symbol]
		if a == nil {
			a = &acc{}
			book[rec.Symbol] = a
		}
		qty := rec.Qty
		cost := decimal.Zero
		if rec.Price != nil {
			cost = rec.Qty.Mul(*rec.Price)
		}
		// The document may be hand-edited; tolerate mixed-case sides.
		if strings.ToLower(rec.Side) == models.SideSell {
			qty = qty.Neg()
			cost = cost.Neg()
		}
		a.qty = a.qty.Add(qty)
		a.cost = a.cost.Add(cost)
	}

	symbols := make([]string, 0, len(book))
	for sym := range book {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	positions := make([]models.Position, 0, len(symbols))
	for _, sym := range symbols {
		a := book[sym]
		pos := models.Position{Symbol: sym, Qty: a.qty}
		if a.qty.Abs().GreaterThan(positionEpsilon) {
			avg := a.cost.Div(a.qty)
			pos.AvgPrice = &avg
		}
		positions = append(positions, pos)
	}
	return positions
}
