package store

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/trident-cli/internal/config"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// identRE is the allowlist for every identifier (schema, table, column) that
// gets interpolated into SQL text. Filter values always travel as bind
// parameters; identifiers cannot, so they are gated here instead.
var identRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// NewPool builds a pgx connection pool from the database configuration and
// verifies it with a ping before handing it back.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// Store reads application rows for mission verification. It satisfies
// schemas.RowQuerier.
type Store struct {
	pool   DBPool
	schema string
	log    *zap.Logger
}

// New creates a new store instance and verifies the connection. The schema,
// when non-empty, qualifies every unqualified table name passed to QueryOne.
func New(ctx context.Context, pool DBPool, schema string, logger *zap.Logger) (*Store, error) {
	if schema != "" && !identRE.MatchString(schema) {
		return nil, fmt.Errorf("invalid schema name %q", schema)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool:   pool,
		schema: schema,
		log:    logger.Named("store"),
	}, nil
}

// QueryOne fetches the most recent row of table matching every filter column,
// newest first by id. It returns (nil, nil) when no row matches. Filter keys
// are sorted so the generated SQL is stable for a given filter set.
func (s *Store) QueryOne(ctx context.Context, table string, filter map[string]interface{}) (map[string]interface{}, error) {
	qualified, err := s.qualifyTable(table)
	if err != nil {
		return nil, err
	}

	cols := make([]string, 0, len(filter))
	for col := range filter {
		if !identRE.MatchString(col) {
			return nil, fmt.Errorf("invalid column name %q", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(qualified)
	args := make([]interface{}, 0, len(cols))
	for i, col := range cols {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		fmt.Fprintf(&sb, "%s = $%d", pgx.Identifier{col}.Sanitize(), i+1)
		args = append(args, filter[col])
	}
	sb.WriteString(" ORDER BY id DESC LIMIT 1")

	s.log.Debug("Executing verification query",
		zap.String("table", qualified),
		zap.Strings("filter_columns", cols),
	)

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", qualified, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", qualified, err)
		}
		return nil, nil
	}

	values, err := rows.Values()
	if err != nil {
		return nil, fmt.Errorf("failed to read row from %s: %w", qualified, err)
	}
	record := make(map[string]interface{}, len(values))
	for i, fd := range rows.FieldDescriptions() {
		record[string(fd.Name)] = values[i]
	}
	return record, nil
}

// qualifyTable validates the table name and applies the configured schema to
// unqualified names. A name already carrying a schema is used as given.
func (s *Store) qualifyTable(table string) (string, error) {
	parts := strings.Split(table, ".")
	for _, p := range parts {
		if !identRE.MatchString(p) {
			return "", fmt.Errorf("invalid table name %q", table)
		}
	}
	switch len(parts) {
	case 1:
		if s.schema != "" {
			return pgx.Identifier{s.schema, parts[0]}.Sanitize(), nil
		}
		return pgx.Identifier{parts[0]}.Sanitize(), nil
	case 2:
		return pgx.Identifier{parts[0], parts[1]}.Sanitize(), nil
	default:
		return "", fmt.Errorf("invalid table name %q", table)
	}
}
