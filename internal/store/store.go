// Package store persists fitted curves so quotes can be served without refitting.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/rolcurve/internal/curve"
	"github.com/ppiankov/rolcurve/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS curves (
  id TEXT PRIMARY KEY,
  client TEXT NOT NULL,
  lob TEXT NOT NULL,
  fitted_at BIGINT NOT NULL,
  segments INTEGER NOT NULL,
  imputed INTEGER NOT NULL,
  rmse DOUBLE PRECISION NOT NULL,
  payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS curves_key_idx ON curves (client, lob, fitted_at);
`

// Record is one stored fit, without the decoded curve
type Record struct {
	ID       string  `db:"id" json:"id"`
	Client   string  `db:"client" json:"client"`
	LOB      string  `db:"lob" json:"lob"`
	FittedAt int64   `db:"fitted_at" json:"fitted_at"` // Unix nanoseconds
	Segments int     `db:"segments" json:"segments"`
	Imputed  int     `db:"imputed" json:"imputed"`
	RMSE     float64 `db:"rmse" json:"rmse"`
	Payload  string  `db:"payload" json:"-"`
}

// Time returns the fit timestamp
func (r Record) Time() time.Time {
	return time.Unix(0, r.FittedAt).UTC()
}

// Curve decodes and validates the stored curve
func (r Record) Curve() (*curve.RolCurve, error) {
	var rc curve.RolCurve
	if err := json.Unmarshal([]byte(r.Payload), &rc); err != nil {
		return nil, fmt.Errorf("decode curve %s: %w", r.ID, err)
	}
	return &rc, nil
}

// Store keeps every fit per (client, LOB); the newest one is served
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects to a sqlite or postgres database and applies the schema
func Open(cfg model.StoreConfig) (*Store, error) {
	var driver string
	switch cfg.Driver {
	case "sqlite", "sqlite3":
		driver = "sqlite"
	case "postgres", "postgresql":
		driver = "postgres"
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, errors.New("store dsn is required")
	}

	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// One connection keeps :memory: databases shared and writes serialized
		db.SetMaxOpenConns(1)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s := &Store{db: db, timeout: timeout}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save stores a fitted curve and returns its record id
func (s *Store) Save(ctx context.Context, rc *curve.RolCurve) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload, err := json.Marshal(rc)
	if err != nil {
		return "", fmt.Errorf("marshal curve: %w", err)
	}

	fitted := rc.FittedAt
	if fitted.IsZero() {
		fitted = time.Now()
	}
	rec := Record{
		ID:       uuid.NewString(),
		Client:   rc.Client,
		LOB:      rc.LOB,
		FittedAt: fitted.UnixNano(),
		Segments: len(rc.Segments),
		Imputed:  rc.Diagnostics.Imputed(),
		RMSE:     rc.Diagnostics.RMSE,
		Payload:  string(payload),
	}

	query := s.db.Rebind(`
		INSERT INTO curves (id, client, lob, fitted_at, segments, imputed, rmse, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Client, rec.LOB, rec.FittedAt, rec.Segments, rec.Imputed, rec.RMSE, rec.Payload); err != nil {
		return "", fmt.Errorf("insert curve %s: %w", model.GroupKey{Client: rc.Client, LOB: rc.LOB}, err)
	}
	return rec.ID, nil
}

// Latest returns the newest curve for key, or nil when none is stored
func (s *Store) Latest(ctx context.Context, key model.GroupKey) (*curve.RolCurve, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := s.db.Rebind(`
		SELECT id, client, lob, fitted_at, segments, imputed, rmse, payload
		FROM curves
		WHERE client = ? AND lob = ?
		ORDER BY fitted_at DESC, id DESC
		LIMIT 1`)

	var rec Record
	if err := s.db.GetContext(ctx, &rec, query, key.Client, key.LOB); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest curve %s: %w", key, err)
	}
	return rec.Curve()
}

// History lists stored fits for key, newest first. limit <= 0 returns all.
func (s *Store) History(ctx context.Context, key model.GroupKey, limit int) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT id, client, lob, fitted_at, segments, imputed, rmse, payload
		FROM curves
		WHERE client = ? AND lob = ?
		ORDER BY fitted_at DESC, id DESC`
	args := []interface{}{key.Client, key.LOB}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var recs []Record
	if err := s.db.SelectContext(ctx, &recs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("curve history %s: %w", key, err)
	}
	return recs, nil
}

// Keys lists every (client, LOB) with at least one stored curve
func (s *Store) Keys(ctx context.Context) ([]model.GroupKey, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var keys []model.GroupKey
	err := s.db.SelectContext(ctx, &keys, `SELECT DISTINCT client, lob FROM curves ORDER BY client, lob`)
	if err != nil {
		return nil, fmt.Errorf("list curve keys: %w", err)
	}
	return keys, nil
}

// Prune keeps the newest keep fits for key and returns how many were removed
func (s *Store) Prune(ctx context.Context, key model.GroupKey, keep int) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if keep < 0 {
		keep = 0
	}
	query := s.db.Rebind(`
		DELETE FROM curves
		WHERE client = ? AND lob = ? AND id NOT IN (
			SELECT id FROM curves WHERE client = ? AND lob = ?
			ORDER BY fitted_at DESC, id DESC LIMIT ?
		)`)
	res, err := s.db.ExecContext(ctx, query, key.Client, key.LOB, key.Client, key.LOB, keep)
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", key, err)
	}
	return res.RowsAffected()
}
