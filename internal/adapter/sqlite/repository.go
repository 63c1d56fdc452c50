package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cwygoda/haul/internal/domain"
	_ "modernc.org/sqlite"
)

// PositionGap is the spacing between queue positions assigned by a reorder.
const PositionGap int64 = 1024

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id               TEXT PRIMARY KEY,
    url              TEXT NOT NULL,
    type             TEXT NOT NULL,
    format_spec      TEXT,
    title            TEXT NOT NULL DEFAULT '',
    thumbnail_url    TEXT NOT NULL DEFAULT '',
    webpage_url      TEXT NOT NULL DEFAULT '',
    extractor        TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL DEFAULT 'QUEUED',
    progress_percent REAL NOT NULL DEFAULT 0,
    speed            INTEGER NOT NULL DEFAULT 0,
    eta              INTEGER NOT NULL DEFAULT 0,
    size_bytes       INTEGER NOT NULL DEFAULT 0,
    peers            INTEGER,
    upload_speed     INTEGER,
    ratio            REAL,
    error_message    TEXT NOT NULL DEFAULT '',
    error_kind       TEXT NOT NULL DEFAULT '',
    retry_count      INTEGER NOT NULL DEFAULT 0,
    cancel_requested INTEGER NOT NULL DEFAULT 0,
    output_path      TEXT NOT NULL DEFAULT '',
    added_at         INTEGER NOT NULL,
    started_at       INTEGER,
    completed_at     INTEGER,
    queue_position   INTEGER NOT NULL,
    retry_at         INTEGER
);
CREATE INDEX IF NOT EXISTS idx_jobs_status_order ON jobs(status, queue_position, added_at);
`

const jobColumns = `id, url, type, format_spec, title, thumbnail_url, webpage_url, extractor,
	status, progress_percent, speed, eta, size_bytes, peers, upload_speed, ratio,
	error_message, error_kind, retry_count, cancel_requested, output_path,
	added_at, started_at, completed_at, queue_position, retry_at`

const orderBy = ` ORDER BY queue_position ASC, added_at ASC`

const upsertSQL = `INSERT INTO jobs (` + jobColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    url = excluded.url,
    type = excluded.type,
    format_spec = excluded.format_spec,
    title = excluded.title,
    thumbnail_url = excluded.thumbnail_url,
    webpage_url = excluded.webpage_url,
    extractor = excluded.extractor,
    status = excluded.status,
    progress_percent = excluded.progress_percent,
    speed = excluded.speed,
    eta = excluded.eta,
    size_bytes = excluded.size_bytes,
    peers = excluded.peers,
    upload_speed = excluded.upload_speed,
    ratio = excluded.ratio,
    error_message = excluded.error_message,
    error_kind = excluded.error_kind,
    retry_count = excluded.retry_count,
    cancel_requested = excluded.cancel_requested,
    output_path = excluded.output_path,
    added_at = excluded.added_at,
    started_at = excluded.started_at,
    completed_at = excluded.completed_at,
    queue_position = excluded.queue_position,
    retry_at = excluded.retry_at`

// Repository implements domain.JobLedger using SQLite.
type Repository struct {
	db *sql.DB

	mu       sync.Mutex
	watchers map[*watcher]struct{}
}

// New creates a new SQLite repository, initializing the schema if needed.
func New(dbPath string) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer at a time; readers queue behind it instead of failing busy.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Repository{db: db, watchers: make(map[*watcher]struct{})}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Get retrieves a job by ID.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// List returns all jobs in queue order.
func (r *Repository) List(ctx context.Context) ([]domain.Job, error) {
	return r.query(ctx, `SELECT `+jobColumns+` FROM jobs`+orderBy)
}

// ListByStatus returns jobs with the given status in queue order.
func (r *Repository) ListByStatus(ctx context.Context, status domain.JobStatus) ([]domain.Job, error) {
	return r.query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = ?`+orderBy, string(status))
}

func (r *Repository) query(ctx context.Context, q string, args ...any) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []domain.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// Upsert inserts or overwrites a job by ID.
func (r *Repository) Upsert(ctx context.Context, job *domain.Job) error {
	if _, err := r.db.ExecContext(ctx, upsertSQL, jobArgs(job)...); err != nil {
		return fmt.Errorf("upsert job %s: %w", job.ID, err)
	}
	r.notify()
	return nil
}

// UpsertAll overwrites all given jobs in one transaction.
func (r *Repository) UpsertAll(ctx context.Context, jobs []domain.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range jobs {
		if _, err := stmt.ExecContext(ctx, jobArgs(&jobs[i])...); err != nil {
			return fmt.Errorf("upsert job %s: %w", jobs[i].ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	r.notify()
	return nil
}

// Remove permanently deletes a job. Missing IDs are ignored.
func (r *Repository) Remove(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n > 0 {
		r.notify()
	}
	return nil
}

// RemoveByStatuses deletes every job in one of the statuses.
func (r *Repository) RemoveByStatuses(ctx context.Context, statuses ...domain.JobStatus) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	result, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE status IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.notify()
	}
	return n, nil
}

// ReorderQueued moves the queued job at index from to index to and rewrites
// the positions of all queued jobs with sparse, increasing keys.
func (r *Repository) ReorderQueued(ctx context.Context, from, to int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM jobs WHERE status = ?`+orderBy, string(domain.StatusQueued))
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if from < 0 || from >= len(ids) || to < 0 || to >= len(ids) || from == to {
		return nil
	}
	ids = move(ids, from, to)

	var maxPos int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(queue_position), 0) FROM jobs`).Scan(&maxPos); err != nil {
		return err
	}
	base := maxPos + PositionGap

	for i, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET queue_position = ? WHERE id = ? AND status = ?`,
			base+int64(i)*PositionGap, id, string(domain.StatusQueued),
		); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	r.notify()
	return nil
}

func move(ids []string, from, to int) []string {
	item := ids[from]
	out := make([]string, 0, len(ids))
	out = append(out, ids[:from]...)
	out = append(out, ids[from+1:]...)
	out = append(out[:to], append([]string{item}, out[to:]...)...)
	return out
}

// Claim atomically claims a queued job for execution.
func (r *Repository) Claim(ctx context.Context, id string, at time.Time) (*domain.Job, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, started_at = COALESCE(started_at, ?),
		        speed = 0, eta = 0, cancel_requested = 0
		 WHERE id = ? AND status = ?`,
		string(domain.StatusActive), at.UnixNano(), id, string(domain.StatusQueued),
	)
	if err != nil {
		return nil, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, domain.ErrNotClaimable
	}
	r.notify()
	return r.Get(ctx, id)
}

// MaxQueuePosition returns the highest queue position in the ledger.
func (r *Repository) MaxQueuePosition(ctx context.Context) (int64, error) {
	var pos int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(queue_position), 0) FROM jobs`).Scan(&pos)
	return pos, err
}

// RecoverStale settles jobs left ACTIVE by a previous run. Jobs with a
// pending cancel become CANCELLED; the rest go back to QUEUED.
func (r *Repository) RecoverStale(ctx context.Context) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	cancelled, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, speed = 0, eta = 0, completed_at = ?
		 WHERE status = ? AND cancel_requested = 1`,
		string(domain.StatusCancelled), time.Now().UnixNano(), string(domain.StatusActive),
	)
	if err != nil {
		return 0, err
	}
	requeued, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, speed = 0, eta = 0
		 WHERE status = ?`,
		string(domain.StatusQueued), string(domain.StatusActive),
	)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	nc, _ := cancelled.RowsAffected()
	nq, _ := requeued.RowsAffected()
	if n := nc + nq; n > 0 {
		r.notify()
		return n, nil
	}
	return 0, nil
}

// migrate adds columns introduced after a ledger was first created.
func migrate(db *sql.DB) error {
	rows, err := db.Query(`PRAGMA table_info(jobs)`)
	if err != nil {
		return err
	}
	defer rows.Close()

	have := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return err
		}
		have[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	if !have["retry_at"] {
		if _, err := db.Exec(`ALTER TABLE jobs ADD COLUMN retry_at INTEGER`); err != nil {
			return err
		}
	}
	return nil
}

func jobArgs(j *domain.Job) []any {
	return []any{
		j.ID, j.URL, string(j.Type), nullString(j.FormatSpec),
		j.Title, j.ThumbnailURL, j.WebpageURL, j.Extractor,
		string(j.Status), j.ProgressPercent, j.Speed, j.ETA, j.SizeBytes,
		nullInt(j.Peers), nullInt64(j.UploadSpeed), nullFloat(j.Ratio),
		j.ErrorMessage, string(j.ErrorKind), j.RetryCount, j.CancelRequested, j.OutputPath,
		j.AddedAt.UnixNano(), nullTime(j.StartedAt), nullTime(j.CompletedAt), j.QueuePosition,
		nullTime(j.RetryAt),
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var (
		job                 domain.Job
		typ, status, kind   string
		formatSpec          sql.NullString
		peers, upload       sql.NullInt64
		ratio               sql.NullFloat64
		addedAt             int64
		startedAt, complete sql.NullInt64
		retryAt             sql.NullInt64
	)
	err := row.Scan(
		&job.ID, &job.URL, &typ, &formatSpec,
		&job.Title, &job.ThumbnailURL, &job.WebpageURL, &job.Extractor,
		&status, &job.ProgressPercent, &job.Speed, &job.ETA, &job.SizeBytes,
		&peers, &upload, &ratio,
		&job.ErrorMessage, &kind, &job.RetryCount, &job.CancelRequested, &job.OutputPath,
		&addedAt, &startedAt, &complete, &job.QueuePosition,
		&retryAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	job.Type = domain.JobType(typ)
	job.Status = domain.JobStatus(status)
	job.ErrorKind = domain.ErrorKind(kind)
	job.AddedAt = time.Unix(0, addedAt)
	if formatSpec.Valid {
		v := formatSpec.String
		job.FormatSpec = &v
	}
	if peers.Valid {
		v := int(peers.Int64)
		job.Peers = &v
	}
	if upload.Valid {
		v := upload.Int64
		job.UploadSpeed = &v
	}
	if ratio.Valid {
		v := ratio.Float64
		job.Ratio = &v
	}
	job.StartedAt = timePtr(startedAt)
	job.CompletedAt = timePtr(complete)
	job.RetryAt = timePtr(retryAt)
	return &job, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64)
	return &t
}
