package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"videograb/internal/domain"
	"videograb/internal/repository"
	"videograb/internal/repository/repotest"
)

func newTestRepo(t *testing.T, ttl time.Duration) (repository.JobRepository, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewJobRepository(client, ttl), srv
}

func TestJobRepository(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repository.JobRepository {
		repo, _ := newTestRepo(t, time.Hour)
		return repo
	})
}

func TestFinishedJobsExpire(t *testing.T) {
	repo, srv := newTestRepo(t, 10*time.Minute)
	ctx := context.Background()

	job := &domain.Job{ID: "ttl", Status: domain.JobStatusProcessing}
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if ttl := srv.TTL(jobKey("ttl")); ttl != 0 {
		t.Fatalf("processing job TTL = %v, want none", ttl)
	}

	now := time.Now().UTC()
	job.Status = domain.JobStatusCompleted
	job.FinishedAt = &now
	if err := repo.Update(ctx, job); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if ttl := srv.TTL(jobKey("ttl")); ttl != 10*time.Minute {
		t.Fatalf("finished job TTL = %v, want 10m", ttl)
	}

	srv.FastForward(11 * time.Minute)

	if _, err := repo.Get(ctx, "ttl"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound after expiry", err)
	}
	jobs, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("List() = %v, want expired job pruned", jobs)
	}
}
