package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolReadiness reports the service ready once the database answers and the
// catalog schema has been migrated. It implements observability.ReadinessChecker.
type PoolReadiness struct {
	pool *pgxpool.Pool
}

// NewPoolReadiness returns a readiness checker backed by the given pool.
func NewPoolReadiness(pool *pgxpool.Pool) *PoolReadiness {
	return &PoolReadiness{pool: pool}
}

// CheckReadiness verifies connectivity and that the weather_events table exists.
func (p *PoolReadiness) CheckReadiness(ctx context.Context) error {
	var exists bool
	err := p.pool.QueryRow(ctx, "SELECT to_regclass('public.weather_events') IS NOT NULL").Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("schema not migrated")
	}
	return nil
}
