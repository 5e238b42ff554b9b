package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"

	"codeshield/pkg/db"
)

// PostgresStore keeps records in the scans table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &PostgresStore{pool: pool}, nil
}

type scanRow struct {
	ID        string    `db:"id"`
	Target    string    `db:"target"`
	CodeHash  string    `db:"code_hash"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
	Result    []byte    `db:"result"`
	Error     []byte    `db:"error"`
	Warnings  []byte    `db:"warnings"`
}

const selectScans = `SELECT id::text AS id, target, code_hash, status, created_at, updated_at, result, error, warnings FROM scans`

// jsonParam encodes v for a jsonb parameter. Strings are used because the
// pool runs in simple protocol mode, where []byte would be sent as bytea.
func jsonParam(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func rowParams(rec Record) (result, scanErr, warnings *string, err error) {
	if rec.Result != nil {
		if result, err = jsonParam(rec.Result); err != nil {
			return nil, nil, nil, fmt.Errorf("encode result: %w", err)
		}
	}
	if rec.Error != nil {
		if scanErr, err = jsonParam(rec.Error); err != nil {
			return nil, nil, nil, fmt.Errorf("encode error: %w", err)
		}
	}
	ws := rec.Warnings
	if ws == nil {
		ws = []Warning{}
	}
	if warnings, err = jsonParam(ws); err != nil {
		return nil, nil, nil, fmt.Errorf("encode warnings: %w", err)
	}
	return result, scanErr, warnings, nil
}

func (p *PostgresStore) Create(ctx context.Context, rec Record) error {
	result, scanErr, warnings, err := rowParams(rec)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, p.pool, `
INSERT INTO scans (id, target, code_hash, status, created_at, updated_at, result, error, warnings)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9::jsonb)`,
		rec.ID, rec.Target, rec.CodeHash, string(rec.Status), rec.CreatedAt, rec.UpdatedAt, result, scanErr, warnings)
	return err
}

func (p *PostgresStore) Update(ctx context.Context, rec Record) error {
	result, scanErr, warnings, err := rowParams(rec)
	if err != nil {
		return err
	}
	tag, err := db.Exec(ctx, p.pool, `
UPDATE scans SET status = $2, updated_at = $3, result = $4::jsonb, error = $5::jsonb, warnings = $6::jsonb
WHERE id = $1::uuid`,
		rec.ID, string(rec.Status), rec.UpdatedAt, result, scanErr, warnings)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	var row scanRow
	err := db.Get(ctx, p.pool, &row, selectScans+` WHERE id::text = $1`, id)
	if pgxscan.NotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec, err := row.record()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *PostgresStore) List(ctx context.Context) ([]Record, error) {
	var rows []scanRow
	if err := db.Select(ctx, p.pool, &rows, selectScans+` ORDER BY created_at ASC`); err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r scanRow) record() (Record, error) {
	rec := Record{
		ID:        r.ID,
		Target:    r.Target,
		CodeHash:  r.CodeHash,
		Status:    Status(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Warnings:  []Warning{},
	}
	if len(r.Result) > 0 {
		rec.Result = &Result{}
		if err := json.Unmarshal(r.Result, rec.Result); err != nil {
			return Record{}, fmt.Errorf("decode result for %s: %w", r.ID, err)
		}
	}
	if len(r.Error) > 0 {
		rec.Error = &ScanError{}
		if err := json.Unmarshal(r.Error, rec.Error); err != nil {
			return Record{}, fmt.Errorf("decode error for %s: %w", r.ID, err)
		}
	}
	if len(r.Warnings) > 0 {
		if err := json.Unmarshal(r.Warnings, &rec.Warnings); err != nil {
			return Record{}, fmt.Errorf("decode warnings for %s: %w", r.ID, err)
		}
	}
	return rec, nil
}
