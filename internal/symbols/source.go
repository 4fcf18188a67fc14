package symbols

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"marketpulse/internal/market"
)

// Source supplies the full reference set on each reload.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]market.SymbolReference, error)
}

// StaticSource serves a fixed list.
type StaticSource struct {
	refs []market.SymbolReference
}

// NewStaticSource creates a source returning refs.
func NewStaticSource(refs ...market.SymbolReference) *StaticSource {
	return &StaticSource{refs: refs}
}

func (s *StaticSource) Name() string { return "static" }

func (s *StaticSource) Load(ctx context.Context) ([]market.SymbolReference, error) {
	out := make([]market.SymbolReference, len(s.refs))
	copy(out, s.refs)
	return out, nil
}

// ParseStaticEntries parses TICKER:EXCHANGE:TYPE[:CURRENCY] entries.
func ParseStaticEntries(entries []string) ([]market.SymbolReference, error) {
	refs := make([]market.SymbolReference, 0, len(entries))
	for _, entry := range entries {
		parts := strings.Split(entry, ":")
		if len(parts) < 3 || len(parts) > 4 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("invalid symbol entry %q, want TICKER:EXCHANGE:TYPE[:CURRENCY]", entry)
		}

		ref := market.SymbolReference{
			Ticker:    market.CanonicalSymbol(parts[0]),
			Exchange:  strings.ToUpper(strings.TrimSpace(parts[1])),
			AssetType: market.ParseAssetType(parts[2]),
			Currency:  "USD",
		}
		if len(parts) == 4 && strings.TrimSpace(parts[3]) != "" {
			ref.Currency = strings.ToUpper(strings.TrimSpace(parts[3]))
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// PostgresSource reads the symbol_reference table.
type PostgresSource struct {
	db *sql.DB
}

// NewPostgresSource creates a source over db.
func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) Name() string { return "postgres" }

const selectSymbols = `
SELECT ticker, exchange, asset_type, price_currency, start_date, end_date
FROM symbol_reference
ORDER BY ticker, exchange`

func (s *PostgresSource) Load(ctx context.Context) ([]market.SymbolReference, error) {
	rows, err := s.db.QueryContext(ctx, selectSymbols)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbol_reference: %w", err)
	}
	defer rows.Close()

	var refs []market.SymbolReference
	for rows.Next() {
		var (
			ref        market.SymbolReference
			assetType  string
			start, end sql.NullTime
		)
		if err := rows.Scan(&ref.Ticker, &ref.Exchange, &assetType, &ref.Currency, &start, &end); err != nil {
			return nil, fmt.Errorf("failed to scan symbol_reference row: %w", err)
		}
		ref.AssetType = market.ParseAssetType(assetType)
		ref.StartDate = formatDate(start)
		ref.EndDate = formatDate(end)
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read symbol_reference: %w", err)
	}
	return refs, nil
}

// Upsert writes refs into symbol_reference in one transaction.
func (s *PostgresSource) Upsert(ctx context.Context, refs []market.SymbolReference) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO symbol_reference (ticker, exchange, asset_type, price_currency, start_date, end_date)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (ticker, exchange) DO UPDATE SET
	asset_type = EXCLUDED.asset_type,
	price_currency = EXCLUDED.price_currency,
	start_date = EXCLUDED.start_date,
	end_date = EXCLUDED.end_date,
	updated_at = NOW()`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, ref := range refs {
		if _, err := stmt.ExecContext(ctx, ref.Ticker, ref.Exchange, string(ref.AssetType), ref.Currency,
			parseDate(ref.StartDate), parseDate(ref.EndDate)); err != nil {
			return fmt.Errorf("failed to upsert %s: %w", ref.Ticker, err)
		}
	}
	return tx.Commit()
}

const dateLayout = "2006-01-02"

func formatDate(t sql.NullTime) *string {
	if !t.Valid {
		return nil
	}
	s := t.Time.Format(dateLayout)
	return &s
}

func parseDate(s *string) sql.NullTime {
	if s == nil {
		return sql.NullTime{}
	}
	t, err := time.Parse(dateLayout, *s)
	if err != nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
