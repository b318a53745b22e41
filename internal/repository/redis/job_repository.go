package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"videograb/internal/domain"
	"videograb/internal/repository"
)

const (
	jobKeyPrefix = "videograb:job:"
	jobIndexKey  = "videograb:jobs"
)

// JobRepository stores jobs as JSON values. Finished jobs carry a key TTL so
// redis evicts them on its own; the index is pruned lazily.
type JobRepository struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewJobRepository(client *goredis.Client, ttl time.Duration) repository.JobRepository {
	return &JobRepository{client: client, ttl: ttl}
}

func (r *JobRepository) Init(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	ok, err := r.client.SetNX(ctx, jobKey(job.ID), payload, r.expiration(job)).Result()
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if !ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if err := r.client.ZAdd(ctx, jobIndexKey, goredis.Z{
		Score:  float64(job.CreatedAt.UnixNano()),
		Member: job.ID,
	}).Err(); err != nil {
		return fmt.Errorf("index job: %w", err)
	}
	return nil
}

func (r *JobRepository) Update(ctx context.Context, job *domain.Job) error {
	job.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	ok, err := r.client.SetXX(ctx, jobKey(job.ID), payload, r.expiration(job)).Result()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if !ok {
		return repository.ErrNotFound
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (*domain.Job, error) {
	payload, err := r.client.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}

	var job domain.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

func (r *JobRepository) List(ctx context.Context) ([]domain.Job, error) {
	ids, err := r.client.ZRevRange(ctx, jobIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list job ids: %w", err)
	}

	jobs := make([]domain.Job, 0, len(ids))
	var stale []any
	for _, id := range ids {
		job, err := r.Get(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}

	if len(stale) > 0 {
		if err := r.client.ZRem(ctx, jobIndexKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("prune job index: %w", err)
		}
	}

	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

func (r *JobRepository) ListByStatuses(ctx context.Context, statuses ...domain.JobStatus) ([]domain.Job, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	jobs := []domain.Job{}
	for _, job := range all {
		for _, s := range statuses {
			if job.Status == s {
				jobs = append(jobs, job)
				break
			}
		}
	}
	return jobs, nil
}

func (r *JobRepository) Delete(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, jobKey(id)).Result()
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if err := r.client.ZRem(ctx, jobIndexKey, id).Err(); err != nil {
		return fmt.Errorf("unindex job: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *JobRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	jobs, err := r.List(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, job := range jobs {
		if !job.Status.IsTerminal() || job.FinishedAt == nil || !job.FinishedAt.Before(cutoff) {
			continue
		}
		if err := r.Delete(ctx, job.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (r *JobRepository) expiration(job *domain.Job) time.Duration {
	if job.Status.IsTerminal() && r.ttl > 0 {
		return r.ttl
	}
	return 0
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
