package persist

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jpalmerr/reachboard/internal/model"
)

const defaultPostgresTable = "status_history"

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresGateway appends observations to a PostgreSQL table.
//
// The table name comes from the "table" query parameter (default
// status_history) and is created on open if missing.
type PostgresGateway struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresGateway opens a connection pool and ensures the table exists.
func NewPostgresGateway(ctx context.Context, rawURL string) (*PostgresGateway, error) {
	connString, table, err := splitPostgresURL(rawURL)
	if err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	g := &PostgresGateway{pool: pool, table: table}
	if err := g.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return g, nil
}

// splitPostgresURL removes the table parameter, which pgx would otherwise
// forward to the server as a runtime parameter.
func splitPostgresURL(rawURL string) (connString, table string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid postgres url: %w", err)
	}

	q := u.Query()
	table = q.Get("table")
	if table == "" {
		table = defaultPostgresTable
	}
	if !identPattern.MatchString(table) {
		return "", "", fmt.Errorf("invalid table name %q", table)
	}
	q.Del("table")
	u.RawQuery = q.Encode()

	return u.String(), table, nil
}

func (g *PostgresGateway) migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id          BIGSERIAL PRIMARY KEY,
			target_name TEXT NOT NULL,
			reachable   BOOLEAN NOT NULL,
			latency_ms  DOUBLE PRECISION,
			observed_at TIMESTAMPTZ NOT NULL,
			CHECK (reachable = (latency_ms IS NOT NULL))
		)`, g.table)

	if _, err := g.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", g.table, err)
	}
	return nil
}

// Save inserts one row and returns its id.
func (g *PostgresGateway) Save(ctx context.Context, obs model.Observation) (string, error) {
	insert := fmt.Sprintf(`
		INSERT INTO %s (target_name, reachable, latency_ms, observed_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`, g.table)

	var id int64
	err := g.pool.QueryRow(ctx, insert,
		obs.TargetName,
		obs.Reachable,
		obs.LatencyMs,
		obs.ObservedAt.UTC(),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert observation: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// ListAll scans the whole table in insertion order.
func (g *PostgresGateway) ListAll(ctx context.Context) ([]model.Record, error) {
	query := fmt.Sprintf(`
		SELECT id, target_name, reachable, latency_ms, observed_at
		  FROM %s
		 ORDER BY id`, g.table)

	rows, err := g.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("scan observations: %w", err)
	}
	defer rows.Close()

	records := []model.Record{}
	for rows.Next() {
		var (
			id  int64
			obs model.Observation
		)
		if err := rows.Scan(&id, &obs.TargetName, &obs.Reachable, &obs.LatencyMs, &obs.ObservedAt); err != nil {
			return nil, fmt.Errorf("decode observation: %w", err)
		}
		records = append(records, model.Record{ID: strconv.FormatInt(id, 10), Observation: obs})
	}
	return records, rows.Err()
}

// Ping checks the server answers.
func (g *PostgresGateway) Ping(ctx context.Context) error {
	return g.pool.Ping(ctx)
}

// Close releases the pool.
func (g *PostgresGateway) Close(ctx context.Context) error {
	g.pool.Close()
	return nil
}
