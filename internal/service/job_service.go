package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"videograb/internal/domain"
	"videograb/internal/repository"
)

// ErrAlreadyFinished is returned when a write targets a job that already
// reached a terminal status.
var ErrAlreadyFinished = errors.New("job already finished")

// Completion carries the result fields recorded when a job succeeds.
type Completion struct {
	FileName           string
	FileSize           int64
	ActualQuality      domain.Quality
	FallbackOccurred   bool
	AttemptedQualities []domain.Quality
	VideoOnly          bool
	RemoteLocation     string
}

// Failure carries the error fields recorded when a job fails.
type Failure struct {
	Kind               string
	Message            string
	Hint               string
	AttemptedQualities []domain.Quality
}

// JobService coordinates job level operations backed by repositories.
// A job leaves the processing status exactly once.
type JobService interface {
	CreateJob(ctx context.Context, req domain.DownloadRequest) (*domain.Job, error)
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context) ([]domain.Job, error)
	ListByStatuses(ctx context.Context, statuses ...domain.JobStatus) ([]domain.Job, error)
	UpdateProgress(ctx context.Context, id string, progress int, current domain.Quality) error
	Complete(ctx context.Context, id string, c Completion) error
	Fail(ctx context.Context, id string, f Failure) error
	Cancel(ctx context.Context, id string) error
	DeleteJob(ctx context.Context, id string) error
	PurgeFinished(ctx context.Context, olderThan time.Duration) (int, error)
}

type jobService struct {
	jobs repository.JobRepository
	mu   sync.Mutex
	now  func() time.Time
}

func NewJobService(jobs repository.JobRepository) JobService {
	return &jobService{
		jobs: jobs,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *jobService) CreateJob(ctx context.Context, req domain.DownloadRequest) (*domain.Job, error) {
	if req.URL == "" {
		return nil, errors.New("url is required")
	}

	job := &domain.Job{
		ID:               uuid.NewString(),
		URL:              req.URL,
		Title:            req.Title,
		Format:           req.Format,
		RequestedQuality: req.Quality,
		CurrentQuality:   req.Quality,
		Status:           domain.JobStatusProcessing,
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *jobService) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return s.jobs.Get(ctx, id)
}

func (s *jobService) ListJobs(ctx context.Context) ([]domain.Job, error) {
	return s.jobs.List(ctx)
}

func (s *jobService) ListByStatuses(ctx context.Context, statuses ...domain.JobStatus) ([]domain.Job, error) {
	return s.jobs.ListByStatuses(ctx, statuses...)
}

func (s *jobService) UpdateProgress(ctx context.Context, id string, progress int, current domain.Quality) error {
	return s.mutate(ctx, id, func(job *domain.Job) {
		if progress < 0 {
			progress = 0
		} else if progress > 100 {
			progress = 100
		}
		job.Progress = progress
		if current != "" {
			job.CurrentQuality = current
		}
	})
}

func (s *jobService) Complete(ctx context.Context, id string, c Completion) error {
	return s.mutate(ctx, id, func(job *domain.Job) {
		job.Status = domain.JobStatusCompleted
		job.Progress = 100
		job.FileName = c.FileName
		job.FileSize = c.FileSize
		job.ActualQuality = c.ActualQuality
		job.CurrentQuality = c.ActualQuality
		job.FallbackOccurred = c.FallbackOccurred
		job.AttemptedQualities = c.AttemptedQualities
		job.VideoOnly = c.VideoOnly
		job.RemoteLocation = c.RemoteLocation
		s.finish(job)
	})
}

func (s *jobService) Fail(ctx context.Context, id string, f Failure) error {
	return s.mutate(ctx, id, func(job *domain.Job) {
		job.Status = domain.JobStatusFailed
		job.ErrorKind = f.Kind
		job.ErrorMessage = f.Message
		job.Hint = f.Hint
		job.AttemptedQualities = f.AttemptedQualities
		s.finish(job)
	})
}

func (s *jobService) Cancel(ctx context.Context, id string) error {
	return s.mutate(ctx, id, func(job *domain.Job) {
		job.Status = domain.JobStatusCanceled
		job.ErrorMessage = "download canceled"
		s.finish(job)
	})
}

func (s *jobService) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs.Delete(ctx, id)
}

func (s *jobService) PurgeFinished(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs.DeleteFinishedBefore(ctx, s.now().Add(-olderThan))
}

// mutate applies fn to a processing job and persists it. Terminal jobs are
// left untouched.
func (s *jobService) mutate(ctx context.Context, id string, fn func(job *domain.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyFinished, id, job.Status)
	}

	fn(job)
	return s.jobs.Update(ctx, job)
}

func (s *jobService) finish(job *domain.Job) {
	now := s.now()
	job.FinishedAt = &now
}
