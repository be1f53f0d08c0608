package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresConfig configures the Postgres sink.
type PostgresConfig struct {
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	// CreateTables issues CREATE TABLE IF NOT EXISTS for each destination on first use.
	CreateTables bool `yaml:"create_tables"`
}

// PostgresSink appends rows into one table per destination:
//
//	(id BIGSERIAL, partition_value TEXT, log_key TEXT, payload JSONB, ingested_at TIMESTAMPTZ)
//
// A Write is a single transaction.
type PostgresSink struct {
	db      *sqlx.DB
	timeout time.Duration
	create  bool

	mu      sync.Mutex
	ensured map[string]bool
}

func NewPostgresSink(cfg PostgresConfig) (*PostgresSink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres sink: DSN is required")
	}
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewPostgresSinkFromDB(db, cfg), nil
}

// NewPostgresSinkFromDB wraps an open handle.
func NewPostgresSinkFromDB(db *sqlx.DB, cfg PostgresConfig) *PostgresSink {
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PostgresSink{db: db, timeout: timeout, create: cfg.CreateTables, ensured: make(map[string]bool)}
}

func (p *PostgresSink) ensureTable(ctx context.Context, table string) error {
	if !p.create {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ensured[table] {
		return nil
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		partition_value TEXT NOT NULL,
		log_key TEXT,
		payload JSONB NOT NULL,
		ingested_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, table)
	if _, err := p.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	p.ensured[table] = true
	return nil
}

func (p *PostgresSink) Write(ctx context.Context, destination string, rows []Row, partitionColumn string) error {
	if len(rows) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout*time.Duration(len(rows)/1000+1))
	defer cancel()

	table := pq.QuoteIdentifier(destination)
	if err := p.ensureTable(ctx, table); err != nil {
		return err
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (partition_value, log_key, payload) VALUES ($1, $2, $3)`, table))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, r := range rows {
		part, ok := r[partitionColumn]
		if !ok || part == nil {
			return fmt.Errorf("row %d has no value for partition column %q", i, partitionColumn)
		}
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal row %d: %w", i, err)
		}
		var logKey any
		if k, ok := r["log_key"]; ok {
			logKey = k
		}
		if _, err := stmt.ExecContext(ctx, fmt.Sprint(part), logKey, payload); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func (p *PostgresSink) Close() error {
	return p.db.Close()
}
