package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"videograb/internal/domain"
	"videograb/internal/service"
	"videograb/internal/storage"
)

// ErrNotActive is returned by Cancel when the job is not running.
var ErrNotActive = errors.New("job is not running")

// Manager owns job lifecycles: admission, background execution, cancellation,
// mirroring to object storage and cleanup of expired jobs and files.
type Manager interface {
	Start(ctx context.Context) error
	Shutdown()
	Submit(ctx context.Context, req domain.DownloadRequest) (*domain.Job, error)
	Resume(ctx context.Context) error
	Cancel(ctx context.Context, jobID string) error
	Remove(ctx context.Context, jobID string) error
	OutputDir() string
}

type Config struct {
	DownloadRoot    string
	MaxFileAge      time.Duration
	CleanupInterval time.Duration
	JobTTL          time.Duration
	SweepInterval   time.Duration
	UploadOptions   storage.UploadOptions
	Logger          *logrus.Logger
}

type manager struct {
	cfg          Config
	orchestrator *Orchestrator
	jobService   service.JobService
	storage      storage.Service

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	active map[string]*jobHandle
}

type jobHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager wires the orchestrator to the job store. storage may be nil, in
// which case finished files stay local only.
func NewManager(cfg Config, orchestrator *Orchestrator, jobService service.JobService, storage storage.Service) Manager {
	if cfg.MaxFileAge == 0 {
		cfg.MaxFileAge = 24 * time.Hour
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 30 * time.Minute
	}
	if cfg.JobTTL == 0 {
		cfg.JobTTL = time.Hour
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &manager{
		cfg:          cfg,
		orchestrator: orchestrator,
		jobService:   jobService,
		storage:      storage,
		active:       make(map[string]*jobHandle),
	}
}

func (m *manager) Start(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.DownloadRoot, 0o755); err != nil {
		return fmt.Errorf("create download root: %w", err)
	}

	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.janitor()
	}()

	m.cfg.Logger.Infof("download manager started, data dir: %s", m.cfg.DownloadRoot)
	return nil
}

func (m *manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.cfg.Logger.Info("download manager stopped")
}

func (m *manager) OutputDir() string {
	return m.cfg.DownloadRoot
}

// Submit admits the request and starts it in the background. It returns
// ErrAdmissionRejected without creating a job when every slot is taken.
func (m *manager) Submit(ctx context.Context, req domain.DownloadRequest) (*domain.Job, error) {
	if m.ctx == nil {
		return nil, errors.New("download manager not started")
	}

	ticket, err := m.orchestrator.Admit()
	if err != nil {
		return nil, err
	}

	job, err := m.jobService.CreateJob(ctx, req)
	if err != nil {
		ticket.Release()
		return nil, fmt.Errorf("create job: %w", err)
	}

	m.spawnJob(job.ID, req, ticket)
	return job, nil
}

// Resume fails jobs a previous process left in the processing state; their
// child processes died with it.
func (m *manager) Resume(ctx context.Context) error {
	jobs, err := m.jobService.ListByStatuses(ctx, domain.JobStatusProcessing)
	if err != nil {
		return err
	}

	for i := range jobs {
		if _, running := m.getJobHandle(jobs[i].ID); running {
			continue
		}
		m.failJob(ctx, jobs[i].ID, &ExtractionError{
			Kind:    KindToolingFailure,
			Message: "download interrupted by server restart",
		}, jobs[i].AttemptedQualities)
	}
	return nil
}

func (m *manager) spawnJob(jobID string, req domain.DownloadRequest, ticket *Ticket) {
	jobCtx, cancel := context.WithCancel(m.ctx)
	handle := &jobHandle{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.registerJob(jobID, handle)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			cancel()
			m.unregisterJob(jobID)
			close(handle.done)
		}()
		m.handleJob(jobCtx, jobID, req, ticket)
	}()
}

func (m *manager) registerJob(id string, handle *jobHandle) {
	m.mu.Lock()
	m.active[id] = handle
	m.mu.Unlock()
}

func (m *manager) unregisterJob(id string) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

func (m *manager) getJobHandle(id string) (*jobHandle, bool) {
	m.mu.Lock()
	handle, ok := m.active[id]
	m.mu.Unlock()
	return handle, ok
}

// Cancel kills the job's extractor process and waits for the job to record
// its canceled state.
func (m *manager) Cancel(ctx context.Context, jobID string) error {
	handle, ok := m.getJobHandle(jobID)
	if !ok {
		return ErrNotActive
	}

	handle.cancel()

	select {
	case <-handle.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Remove deletes a finished job together with its local and mirrored files.
func (m *manager) Remove(ctx context.Context, jobID string) error {
	job, err := m.jobService.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("job %s is still %s", jobID, job.Status)
	}

	logger := m.cfg.Logger.WithField("job_id", jobID)
	if job.FileName != "" {
		if path, ok := ResolveOutputPath(m.cfg.DownloadRoot, job.FileName); ok {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				logger.Warnf("remove local file: %v", err)
			}
		}
	}
	if job.RemoteLocation != "" && m.storage != nil {
		if bucket, key, ok := storage.ParseLocation(job.RemoteLocation); ok {
			if err := m.storage.DeletePrefix(ctx, bucket, key); err != nil {
				logger.Warnf("remove remote copy: %v", err)
			}
		}
	}

	return m.jobService.DeleteJob(ctx, jobID)
}

func (m *manager) handleJob(ctx context.Context, jobID string, req domain.DownloadRequest, ticket *Ticket) {
	logger := m.cfg.Logger.WithField("job_id", jobID)
	logger.Infof("download started: %s (%s, %s)", req.URL, req.Quality, req.Format)

	// store writes must outlive a canceled job context
	storeCtx := context.WithoutCancel(ctx)

	result := m.orchestrator.Execute(ctx, ticket, jobID, req, Observer{
		TierStart: func(q domain.Quality, fallback bool) {
			if err := m.jobService.UpdateProgress(storeCtx, jobID, 0, q); err != nil {
				logger.Warnf("update tier: %v", err)
			}
		},
		Progress: func(pct int) {
			if err := m.jobService.UpdateProgress(storeCtx, jobID, pct, ""); err != nil {
				logger.Debugf("update progress: %v", err)
			}
		},
	})

	if !result.Success {
		if result.Err.Kind == KindCanceled {
			if err := m.jobService.Cancel(storeCtx, jobID); err != nil {
				logger.Errorf("persist canceled status: %v", err)
			}
			logger.Info("download canceled")
			return
		}
		m.failJob(storeCtx, jobID, result.Err, result.AttemptedQualities)
		return
	}

	remote := m.mirror(ctx, logger, jobID, result.FilePath)

	if err := m.jobService.Complete(storeCtx, jobID, service.Completion{
		FileName:           result.FileName,
		FileSize:           result.FileSize,
		ActualQuality:      result.ActualQuality,
		FallbackOccurred:   result.FallbackOccurred,
		AttemptedQualities: result.AttemptedQualities,
		VideoOnly:          result.VideoOnly,
		RemoteLocation:     remote,
	}); err != nil {
		logger.Errorf("persist completed status: %v", err)
		return
	}
	logger.Infof("download completed: %s (%s)", result.FileName, formatBytes(result.FileSize))
}

// mirror uploads a finished file when object storage is configured. Upload
// failures are logged; the local copy still serves the job.
func (m *manager) mirror(ctx context.Context, logger *logrus.Entry, jobID, localPath string) string {
	if m.storage == nil || m.cfg.UploadOptions.Bucket == "" {
		return ""
	}

	opts := m.cfg.UploadOptions
	opts.KeyPrefix = storage.ObjectKey(opts.KeyPrefix, jobID)
	opts.ProgressCallback = newUploadProgressLogger(logger)

	logger.Infof("upload started from %s", localPath)
	dest, err := m.storage.UploadFile(ctx, localPath, opts)
	if err != nil {
		logger.Warnf("upload: %v", err)
		return ""
	}
	logger.Infof("uploaded to %s", dest)
	return dest
}

func (m *manager) failJob(ctx context.Context, jobID string, failErr *ExtractionError, attempted []domain.Quality) {
	logger := m.cfg.Logger.WithField("job_id", jobID)
	if err := m.jobService.Fail(ctx, jobID, service.Failure{
		Kind:               string(failErr.Kind),
		Message:            failErr.Error(),
		Hint:               failErr.Hint,
		AttemptedQualities: attempted,
	}); err != nil {
		logger.Errorf("persist failure status: %v", err)
	}
	logger.Error(failErr.Error())
}

func (m *manager) janitor() {
	sweep := time.NewTicker(m.cfg.SweepInterval)
	defer sweep.Stop()
	cleanup := time.NewTicker(m.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-sweep.C:
			removed, err := m.jobService.PurgeFinished(m.ctx, m.cfg.JobTTL)
			if err != nil {
				m.cfg.Logger.Warnf("purge finished jobs: %v", err)
			} else if removed > 0 {
				m.cfg.Logger.Infof("purged %d finished jobs", removed)
			}
		case <-cleanup.C:
			if removed := m.cleanupOldFiles(time.Now().Add(-m.cfg.MaxFileAge)); removed > 0 {
				m.cfg.Logger.Infof("removed %d expired files", removed)
			}
		}
	}
}

// cleanupOldFiles deletes files in the output directory last modified before
// cutoff, skipping files that belong to running jobs.
func (m *manager) cleanupOldFiles(cutoff time.Time) int {
	entries, err := os.ReadDir(m.cfg.DownloadRoot)
	if err != nil {
		m.cfg.Logger.Warnf("read download dir: %v", err)
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || m.belongsToActiveJob(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(m.cfg.DownloadRoot, entry.Name())); err != nil {
			m.cfg.Logger.Warnf("remove expired file %s: %v", entry.Name(), err)
			continue
		}
		removed++
	}
	return removed
}

func (m *manager) belongsToActiveJob(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.active {
		short := id
		if len(short) > 8 {
			short = short[:8]
		}
		if strings.HasPrefix(name, id) || strings.Contains(name, "-"+short+".") {
			return true
		}
	}
	return false
}

// ResolveOutputPath joins name onto root and reports whether the result stays
// inside root.
func ResolveOutputPath(root, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	target, err := filepath.Abs(filepath.Join(absRoot, name))
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(absRoot, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", false
	}
	return target, true
}

func newUploadProgressLogger(logger *logrus.Entry) func(done, total int64) {
	var (
		lastLog time.Time
	)
	return func(done, total int64) {
		now := time.Now()
		if total == 0 {
			if now.Sub(lastLog) < 500*time.Millisecond && done != 0 {
				return
			}
			lastLog = now
			logger.Infof("upload progress: %s uploaded", formatBytes(done))
			return
		}

		percent := float64(done) / float64(total) * 100
		if now.Sub(lastLog) < 500*time.Millisecond && done != total {
			return
		}
		lastLog = now
		logger.Infof("upload progress: %.1f%% (%s/%s)", percent, formatBytes(done), formatBytes(total))
	}
}

var _ Manager = (*manager)(nil)
