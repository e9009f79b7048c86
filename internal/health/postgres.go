package health

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PostgresProbe succeeds when the database accepts a connection and answers
// a ping. This is the readiness signal the admin console is gated on.
type PostgresProbe struct {
	DSN string
}

// Check implements Probe.
func (p *PostgresProbe) Check(ctx context.Context) error {
	cfg, err := pgx.ParseConfig(p.DSN)
	if err != nil {
		return fmt.Errorf("parse postgres dsn: %w", err)
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}
