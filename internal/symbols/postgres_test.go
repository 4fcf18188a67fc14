package symbols

import (
	"database/sql"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

const createTable = `
CREATE TABLE IF NOT EXISTS symbol_reference (
	ticker         VARCHAR(32)  NOT NULL,
	exchange       VARCHAR(32)  NOT NULL,
	asset_type     VARCHAR(16)  NOT NULL,
	price_currency VARCHAR(8)   NOT NULL DEFAULT 'USD',
	start_date     DATE,
	end_date       DATE,
	updated_at     TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
	PRIMARY KEY (ticker, exchange)
)`

func openTestDB(t *testing.T, dsn string) *sql.DB {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Ping())
	_, err = db.Exec(createTable)
	require.NoError(t, err)
	return db
}
