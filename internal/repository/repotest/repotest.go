// Package repotest holds behaviour checks shared by every JobRepository driver.
package repotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"videograb/internal/domain"
	"videograb/internal/repository"
)

// Run exercises repo against the JobRepository contract.
func Run(t *testing.T, newRepo func(t *testing.T) repository.JobRepository) {
	t.Helper()

	t.Run("create and get", func(t *testing.T) {
		repo := newInit(t, newRepo)
		ctx := context.Background()

		job := processingJob("job-a")
		if err := repo.Create(ctx, job); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if job.CreatedAt.IsZero() {
			t.Fatal("Create() should stamp CreatedAt")
		}

		got, err := repo.Get(ctx, "job-a")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.URL != job.URL || got.Status != domain.JobStatusProcessing || got.RequestedQuality != domain.Quality1080 {
			t.Errorf("Get() = %+v", got)
		}
	})

	t.Run("duplicate create fails", func(t *testing.T) {
		repo := newInit(t, newRepo)
		ctx := context.Background()

		if err := repo.Create(ctx, processingJob("dup")); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if err := repo.Create(ctx, processingJob("dup")); err == nil {
			t.Fatal("second Create() should fail")
		}
	})

	t.Run("missing job", func(t *testing.T) {
		repo := newInit(t, newRepo)
		ctx := context.Background()

		if _, err := repo.Get(ctx, "nope"); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
		if err := repo.Update(ctx, processingJob("nope")); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("Update() error = %v, want ErrNotFound", err)
		}
		if err := repo.Delete(ctx, "nope"); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("Delete() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("update keeps result fields", func(t *testing.T) {
		repo := newInit(t, newRepo)
		ctx := context.Background()

		job := processingJob("job-b")
		if err := repo.Create(ctx, job); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		finished := time.Now().UTC()
		job.Status = domain.JobStatusCompleted
		job.Progress = 100
		job.FileName = "clip-jobb.mp4"
		job.FileSize = 4096
		job.ActualQuality = domain.Quality720
		job.FallbackOccurred = true
		job.AttemptedQualities = []domain.Quality{domain.Quality1080, domain.Quality720}
		job.VideoOnly = true
		job.FinishedAt = &finished
		if err := repo.Update(ctx, job); err != nil {
			t.Fatalf("Update() error = %v", err)
		}

		got, err := repo.Get(ctx, "job-b")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Status != domain.JobStatusCompleted || got.FileSize != 4096 || got.ActualQuality != domain.Quality720 {
			t.Errorf("Get() = %+v", got)
		}
		if !got.FallbackOccurred || !got.VideoOnly {
			t.Errorf("flags lost: %+v", got)
		}
		if len(got.AttemptedQualities) != 2 || got.AttemptedQualities[1] != domain.Quality720 {
			t.Errorf("AttemptedQualities = %v", got.AttemptedQualities)
		}
		if got.FinishedAt == nil {
			t.Error("FinishedAt lost")
		}
	})

	t.Run("list and filter", func(t *testing.T) {
		repo := newInit(t, newRepo)
		ctx := context.Background()

		for _, id := range []string{"l1", "l2", "l3"} {
			if err := repo.Create(ctx, processingJob(id)); err != nil {
				t.Fatalf("Create(%s) error = %v", id, err)
			}
		}
		failed, _ := repo.Get(ctx, "l2")
		failed.Status = domain.JobStatusFailed
		if err := repo.Update(ctx, failed); err != nil {
			t.Fatalf("Update() error = %v", err)
		}

		all, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(all) != 3 {
			t.Errorf("List() returned %d jobs, want 3", len(all))
		}

		active, err := repo.ListByStatuses(ctx, domain.JobStatusProcessing)
		if err != nil {
			t.Fatalf("ListByStatuses() error = %v", err)
		}
		if len(active) != 2 {
			t.Errorf("ListByStatuses(processing) returned %d jobs, want 2", len(active))
		}

		none, err := repo.ListByStatuses(ctx)
		if err != nil || len(none) != 0 {
			t.Errorf("ListByStatuses() = %v, %v; want empty", none, err)
		}
	})

	t.Run("delete finished before cutoff", func(t *testing.T) {
		repo := newInit(t, newRepo)
		ctx := context.Background()

		old := time.Now().UTC().Add(-2 * time.Hour)
		recent := time.Now().UTC()

		cases := []struct {
			id       string
			status   domain.JobStatus
			finished *time.Time
		}{
			{id: "old-done", status: domain.JobStatusCompleted, finished: &old},
			{id: "old-failed", status: domain.JobStatusFailed, finished: &old},
			{id: "recent-done", status: domain.JobStatusCompleted, finished: &recent},
			{id: "running", status: domain.JobStatusProcessing},
		}
		for _, c := range cases {
			job := processingJob(c.id)
			if err := repo.Create(ctx, job); err != nil {
				t.Fatalf("Create(%s) error = %v", c.id, err)
			}
			job.Status = c.status
			job.FinishedAt = c.finished
			if err := repo.Update(ctx, job); err != nil {
				t.Fatalf("Update(%s) error = %v", c.id, err)
			}
		}

		removed, err := repo.DeleteFinishedBefore(ctx, time.Now().UTC().Add(-time.Hour))
		if err != nil {
			t.Fatalf("DeleteFinishedBefore() error = %v", err)
		}
		if removed != 2 {
			t.Errorf("removed %d jobs, want 2", removed)
		}
		for _, id := range []string{"recent-done", "running"} {
			if _, err := repo.Get(ctx, id); err != nil {
				t.Errorf("Get(%s) error = %v, want kept", id, err)
			}
		}
		if _, err := repo.Get(ctx, "old-done"); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("Get(old-done) error = %v, want ErrNotFound", err)
		}
	})
}

func newInit(t *testing.T, newRepo func(t *testing.T) repository.JobRepository) repository.JobRepository {
	t.Helper()
	repo := newRepo(t)
	if err := repo.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return repo
}

func processingJob(id string) *domain.Job {
	return &domain.Job{
		ID:               id,
		URL:              "https://youtu.be/dQw4w9WgXcQ",
		Format:           domain.FormatMP4,
		RequestedQuality: domain.Quality1080,
		Status:           domain.JobStatusProcessing,
	}
}
