package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gembalance/internal/migrations"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

const defaultPGTimeout = 5 * time.Second

// Postgres backs KeySource, SettingsSource, ErrorSink, and ErrorLister with
// a relational store.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens and verifies a connection to the database.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultPGTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Info("Connected to PostgreSQL store")
	return &Postgres{db: db}, nil
}

// Initialize applies pending schema migrations.
func (p *Postgres) Initialize(ctx context.Context) error {
	if err := migrations.PostgresUp(p.db); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	log.Info("PostgreSQL migrations applied")
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) Name() string { return "postgres" }

func withPGTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultPGTimeout)
}

// ListKeys returns enabled keys in insertion order, which is also the
// round-robin order of the pool.
func (p *Postgres) ListKeys(ctx context.Context) ([]string, error) {
	ctx, cancel := withPGTimeout(ctx)
	defer cancel()

	rows, err := p.db.QueryContext(ctx, "SELECT api_key FROM api_keys WHERE enabled ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return keys, nil
}

// GetSettings reads the settings table into a normalized Settings value.
// Unknown rows are ignored; missing rows fall back to defaults.
func (p *Postgres) GetSettings(ctx context.Context) (Settings, error) {
	ctx, cancel := withPGTimeout(ctx)
	defer cancel()

	rows, err := p.db.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}
	defer rows.Close()

	var st Settings
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Settings{}, fmt.Errorf("failed to scan setting: %w", err)
		}
		switch key {
		case "upstream_base_url":
			st.UpstreamBaseURL = value
		case "health_check_model":
			st.HealthCheckModel = value
		case "proxy_url":
			st.ProxyURL = value
		case "max_failures":
			st.MaxFailures = parseIntSetting(value, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return Settings{}, fmt.Errorf("settings rows error: %w", err)
	}
	return st.Normalize(), nil
}

// RecordError persists one failure audit entry.
func (p *Postgres) RecordError(ctx context.Context, rec ErrorRecord) error {
	ctx, cancel := withPGTimeout(ctx)
	defer cancel()

	_, err := p.db.ExecContext(ctx,
		`INSERT INTO error_logs (id, api_key, error_kind, error_message, detail) VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), rec.APIKey, rec.Kind, rec.Message, rec.Detail)
	if err != nil {
		return fmt.Errorf("failed to record error: %w", err)
	}
	return nil
}

// RecentErrors returns the newest audit entries, newest first.
func (p *Postgres) RecentErrors(ctx context.Context, limit int) ([]StoredError, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := withPGTimeout(ctx)
	defer cancel()

	rows, err := p.db.QueryContext(ctx,
		`SELECT id, api_key, error_kind, error_message, detail, created_at
		 FROM error_logs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list errors: %w", err)
	}
	defer rows.Close()

	var out []StoredError
	for rows.Next() {
		var e StoredError
		if err := rows.Scan(&e.ID, &e.APIKey, &e.Kind, &e.Message, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan error log: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error log rows error: %w", err)
	}
	return out, nil
}
