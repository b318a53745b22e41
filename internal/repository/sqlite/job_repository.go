package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"videograb/internal/domain"
	"videograb/internal/repository"
)

const (
	createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	format TEXT NOT NULL,
	requested_quality TEXT NOT NULL,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	current_quality TEXT NOT NULL DEFAULT '',
	file_name TEXT NOT NULL DEFAULT '',
	file_size INTEGER NOT NULL DEFAULT 0,
	actual_quality TEXT NOT NULL DEFAULT '',
	fallback_occurred INTEGER NOT NULL DEFAULT 0,
	attempted_qualities TEXT NOT NULL DEFAULT '',
	video_only INTEGER NOT NULL DEFAULT 0,
	error_kind TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	hint TEXT NOT NULL DEFAULT '',
	remote_location TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	finished_at DATETIME NULL
);
`
	createJobsStatusIndex = `CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, finished_at);`

	jobColumns = `id, url, title, format, requested_quality, status, progress, current_quality, file_name, file_size, actual_quality, fallback_occurred, attempted_qualities, video_only, error_kind, error_message, hint, remote_location, created_at, updated_at, finished_at`
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) repository.JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createJobsTable); err != nil {
		return fmt.Errorf("create jobs table: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, createJobsStatusIndex); err != nil {
		return fmt.Errorf("create jobs status index: %w", err)
	}
	return nil
}

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
INSERT INTO jobs (`+jobColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.URL,
		job.Title,
		string(job.Format),
		string(job.RequestedQuality),
		string(job.Status),
		job.Progress,
		string(job.CurrentQuality),
		job.FileName,
		job.FileSize,
		string(job.ActualQuality),
		job.FallbackOccurred,
		joinQualities(job.AttemptedQualities),
		job.VideoOnly,
		job.ErrorKind,
		job.ErrorMessage,
		job.Hint,
		job.RemoteLocation,
		job.CreatedAt,
		job.UpdatedAt,
		nullTime(job.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) Update(ctx context.Context, job *domain.Job) error {
	job.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET url=?, title=?, format=?, requested_quality=?, status=?, progress=?, current_quality=?, file_name=?, file_size=?, actual_quality=?, fallback_occurred=?, attempted_qualities=?, video_only=?, error_kind=?, error_message=?, hint=?, remote_location=?, updated_at=?, finished_at=?
WHERE id=?`,
		job.URL,
		job.Title,
		string(job.Format),
		string(job.RequestedQuality),
		string(job.Status),
		job.Progress,
		string(job.CurrentQuality),
		job.FileName,
		job.FileSize,
		string(job.ActualQuality),
		job.FallbackOccurred,
		joinQualities(job.AttemptedQualities),
		job.VideoOnly,
		job.ErrorKind,
		job.ErrorMessage,
		job.Hint,
		job.RemoteLocation,
		job.UpdatedAt,
		nullTime(job.FinishedAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("job update rows affected: %w", err)
	}
	if aff == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	return scanJob(row)
}

func (r *JobRepository) List(ctx context.Context) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	return collectJobs(rows)
}

func (r *JobRepository) ListByStatuses(ctx context.Context, statuses ...domain.JobStatus) ([]domain.Job, error) {
	if len(statuses) == 0 {
		return []domain.Job{}, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args[i] = string(status)
	}

	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE status IN (%s) ORDER BY created_at ASC`,
		jobColumns, strings.Join(placeholders, ","))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs by status: %w", err)
	}
	jobs, err := collectJobs(rows)
	if jobs == nil && err == nil {
		jobs = []domain.Job{}
	}
	return jobs, err
}

func (r *JobRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("job delete rows affected: %w", err)
	}
	if aff == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *JobRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
DELETE FROM jobs
WHERE status IN (?, ?, ?) AND finished_at IS NOT NULL AND finished_at < ?`,
		string(domain.JobStatusCompleted),
		string(domain.JobStatusFailed),
		string(domain.JobStatusCanceled),
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("finished jobs rows affected: %w", err)
	}
	return int(aff), nil
}

func collectJobs(rows *sql.Rows) ([]domain.Job, error) {
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(scanner interface {
	Scan(dest ...any) error
}) (*domain.Job, error) {
	var (
		job            domain.Job
		format         string
		requested      string
		status         string
		current        string
		actual         string
		attempted      string
		createdAt      time.Time
		updatedAt      time.Time
		finishedAtNull sql.NullTime
	)

	if err := scanner.Scan(
		&job.ID,
		&job.URL,
		&job.Title,
		&format,
		&requested,
		&status,
		&job.Progress,
		&current,
		&job.FileName,
		&job.FileSize,
		&actual,
		&job.FallbackOccurred,
		&attempted,
		&job.VideoOnly,
		&job.ErrorKind,
		&job.ErrorMessage,
		&job.Hint,
		&job.RemoteLocation,
		&createdAt,
		&updatedAt,
		&finishedAtNull,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.Format = domain.Format(format)
	job.RequestedQuality = domain.Quality(requested)
	job.Status = domain.JobStatus(status)
	job.CurrentQuality = domain.Quality(current)
	job.ActualQuality = domain.Quality(actual)
	job.AttemptedQualities = splitQualities(attempted)
	job.CreatedAt = createdAt.UTC()
	job.UpdatedAt = updatedAt.UTC()
	if finishedAtNull.Valid {
		t := finishedAtNull.Time.UTC()
		job.FinishedAt = &t
	}

	return &job, nil
}

func joinQualities(qs []domain.Quality) string {
	parts := make([]string, len(qs))
	for i, q := range qs {
		parts[i] = string(q)
	}
	return strings.Join(parts, ",")
}

func splitQualities(s string) []domain.Quality {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	qs := make([]domain.Quality, len(parts))
	for i, p := range parts {
		qs[i] = domain.Quality(p)
	}
	return qs
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
