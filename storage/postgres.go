// Package storage persists terminal coordinator state: settlement records,
// archived jobs, and the slash audit trail. The live state machine never
// reads from here; this is the durable archive behind the retention window.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"cosmossdk.io/math"
	_ "github.com/lib/pq"

	"github.com/gridmesh/gridmesh/core/types"
)

// PostgresArchive stores archived coordinator records in PostgreSQL.
type PostgresArchive struct {
	db *sql.DB
}

// NewPostgresArchive opens the archive database and ensures its schema.
func NewPostgresArchive(connString string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	a := &PostgresArchive{db: db}
	if err := a.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return a, nil
}

// Close releases the connection pool.
func (a *PostgresArchive) Close() error {
	return a.db.Close()
}

func (a *PostgresArchive) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settlement_records (
		job_id        TEXT PRIMARY KEY,
		assignment_id TEXT,
		worker_id     TEXT,
		disposition   TEXT NOT NULL,
		payout        NUMERIC NOT NULL,
		refund        NUMERIC NOT NULL,
		fee           NUMERIC NOT NULL,
		slashed       NUMERIC NOT NULL,
		settled_at    TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS archived_jobs (
		job_id     TEXT PRIMARY KEY,
		requester  TEXT NOT NULL,
		status     TEXT NOT NULL,
		record     JSONB NOT NULL,
		settled_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS slash_audit (
		id         BIGINT,
		worker_id  TEXT NOT NULL,
		job_id     TEXT,
		amount     NUMERIC NOT NULL,
		reason     TEXT NOT NULL,
		slashed_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (worker_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_settlements_worker ON settlement_records (worker_id);
	CREATE INDEX IF NOT EXISTS idx_slash_audit_worker ON slash_audit (worker_id);
	`
	_, err := a.db.Exec(schema)
	return err
}

// SaveSettlement persists a settlement record. Idempotent on job ID; a
// replayed event overwrites with identical content.
func (a *PostgresArchive) SaveSettlement(ctx context.Context, rec types.SettlementRecord) error {
	query := `
		INSERT INTO settlement_records (
			job_id, assignment_id, worker_id, disposition,
			payout, refund, fee, slashed, settled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (job_id) DO NOTHING
	`
	_, err := a.db.ExecContext(ctx, query,
		rec.JobID.String(),
		rec.AssignmentID.String(),
		rec.WorkerID.String(),
		string(rec.Disposition),
		rec.Payout.String(),
		rec.Refund.String(),
		rec.Fee.String(),
		rec.Slashed.String(),
		rec.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert settlement record: %w", err)
	}
	return nil
}

// SaveJob archives a terminal job snapshot.
func (a *PostgresArchive) SaveJob(ctx context.Context, job *types.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	query := `
		INSERT INTO archived_jobs (job_id, requester, status, record, settled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id) DO UPDATE SET status = EXCLUDED.status,
			record = EXCLUDED.record, settled_at = EXCLUDED.settled_at
	`
	var settledAt sql.NullTime
	if job.SettledAt != nil {
		settledAt = sql.NullTime{Time: *job.SettledAt, Valid: true}
	}
	_, err = a.db.ExecContext(ctx, query,
		job.ID.String(), job.Requester, string(job.Status), raw, settledAt, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to archive job: %w", err)
	}
	return nil
}

// SaveSlash appends a slash record to the audit trail.
func (a *PostgresArchive) SaveSlash(ctx context.Context, rec types.SlashRecord) error {
	query := `
		INSERT INTO slash_audit (id, worker_id, job_id, amount, reason, slashed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (worker_id, id) DO NOTHING
	`
	_, err := a.db.ExecContext(ctx, query,
		int64(rec.ID),
		rec.WorkerID.String(),
		rec.JobID.String(),
		rec.Amount.String(),
		string(rec.Reason),
		rec.SlashedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert slash record: %w", err)
	}
	return nil
}

func parseAmount(s string) (math.Int, error) {
	v, ok := math.NewIntFromString(s)
	if !ok {
		return math.Int{}, fmt.Errorf("invalid amount in archive: %q", s)
	}
	return v, nil
}

// Settlement loads one archived settlement record.
func (a *PostgresArchive) Settlement(ctx context.Context, jobID types.JobID) (*types.SettlementRecord, error) {
	query := `
		SELECT job_id, assignment_id, worker_id, disposition,
		       payout, refund, fee, slashed, settled_at
		FROM settlement_records WHERE job_id = $1
	`
	row := a.db.QueryRowContext(ctx, query, jobID.String())

	var rec types.SettlementRecord
	var job, assignment, worker, disposition string
	var payout, refund, fee, slashed string
	if err := row.Scan(&job, &assignment, &worker, &disposition,
		&payout, &refund, &fee, &slashed, &rec.SettledAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, types.ErrJobNotFound.Wrapf("no archived settlement for job %s", jobID)
		}
		return nil, fmt.Errorf("failed to load settlement record: %w", err)
	}
	rec.JobID = types.JobID(job)
	rec.AssignmentID = types.AssignmentID(assignment)
	rec.WorkerID = types.WorkerID(worker)
	rec.Disposition = types.Disposition(disposition)
	var err error
	if rec.Payout, err = parseAmount(payout); err != nil {
		return nil, err
	}
	if rec.Refund, err = parseAmount(refund); err != nil {
		return nil, err
	}
	if rec.Fee, err = parseAmount(fee); err != nil {
		return nil, err
	}
	if rec.Slashed, err = parseAmount(slashed); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SlashHistory loads the archived slash trail for a worker, oldest first.
func (a *PostgresArchive) SlashHistory(ctx context.Context, worker types.WorkerID) ([]types.SlashRecord, error) {
	query := `
		SELECT id, worker_id, job_id, amount, reason, slashed_at
		FROM slash_audit WHERE worker_id = $1 ORDER BY id ASC
	`
	rows, err := a.db.QueryContext(ctx, query, worker.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query slash audit: %w", err)
	}
	defer rows.Close()

	var out []types.SlashRecord
	for rows.Next() {
		var rec types.SlashRecord
		var id int64
		var w, job, amount, reason string
		if err := rows.Scan(&id, &w, &job, &amount, &reason, &rec.SlashedAt); err != nil {
			return nil, fmt.Errorf("failed to scan slash record: %w", err)
		}
		rec.ID = uint64(id)
		rec.WorkerID = types.WorkerID(w)
		rec.JobID = types.JobID(job)
		rec.Reason = types.SlashReason(reason)
		if rec.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
