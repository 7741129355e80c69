package store

import (
	"strings"
	"time"

	"github.com/couchcryptid/storm-asset-linker/internal/observability"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store provides persistence for weather events, linkage runs and their
// results, backed by PostgreSQL.
type Store struct {
	pool    *pgxpool.Pool
	metrics *observability.Metrics
}

// New creates a Store with the given connection pool and metrics.
func New(pool *pgxpool.Pool, m *observability.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

func (s *Store) observeQuery(operation string, start time.Time) {
	s.metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// buildWhereSQL joins the clauses into a WHERE fragment (empty string if no clauses).
func buildWhereSQL(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}

func toNumeric(d decimal.NullDecimal) pgtype.Numeric {
	if !d.Valid {
		return pgtype.Numeric{}
	}
	return pgtype.Numeric{Int: d.Decimal.Coefficient(), Exp: d.Decimal.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) decimal.NullDecimal {
	if !n.Valid || n.Int == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromBigInt(n.Int, n.Exp))
}

// zoneOffset returns t's UTC offset in seconds.
func zoneOffset(t time.Time) int32 {
	_, off := t.Zone()
	return int32(off)
}

// withOffset restores the wall clock of an instant read back from a
// timestamptz column.
func withOffset(t time.Time, offset int32) time.Time {
	return t.In(time.FixedZone("", int(offset)))
}
