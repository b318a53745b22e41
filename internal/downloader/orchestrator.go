package downloader

import (
	"context"
	"iter"
	"sync"

	"github.com/sirupsen/logrus"

	"videograb/internal/domain"
)

// DownloadResult is the terminal outcome of one orchestrated download.
type DownloadResult struct {
	Success            bool
	FilePath           string
	FileName           string
	FileSize           int64
	VideoOnly          bool
	ActualQuality      domain.Quality
	FallbackOccurred   bool
	AttemptedQualities []domain.Quality
	Err                *ExtractionError
}

// Observer receives progress while the ladder runs. Either field may be nil.
type Observer struct {
	// TierStart fires once per tier; fallback is true for every tier after the first.
	TierStart func(q domain.Quality, fallback bool)
	Progress  func(pct int)
}

func (o Observer) tierStart(q domain.Quality, fallback bool) {
	if o.TierStart != nil {
		o.TierStart(q, fallback)
	}
}

// Ticket is a held extraction slot. Release is idempotent.
type Ticket struct {
	once    sync.Once
	release func()
}

func (t *Ticket) Release() {
	if t == nil {
		return
	}
	t.once.Do(t.release)
}

// Orchestrator walks strategies and quality tiers until one attempt succeeds.
type Orchestrator struct {
	builder    *StrategyBuilder
	runner     Runner
	limiter    *RateLimiter
	governor   *Governor
	proxies    *ProxyRotator
	strategies []StrategyName
	logger     *logrus.Logger
}

type OrchestratorConfig struct {
	Builder    *StrategyBuilder
	Runner     Runner
	Limiter    *RateLimiter
	Governor   *Governor
	Proxies    *ProxyRotator
	Strategies []StrategyName
	Logger     *logrus.Logger
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Proxies == nil {
		cfg.Proxies = NewProxyRotator(nil)
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewRateLimiter(0)
	}
	if cfg.Governor == nil {
		cfg.Governor = NewGovernor(3)
	}
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = DefaultStrategies
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Orchestrator{
		builder:    cfg.Builder,
		runner:     cfg.Runner,
		limiter:    cfg.Limiter,
		governor:   cfg.Governor,
		proxies:    cfg.Proxies,
		strategies: cfg.Strategies,
		logger:     cfg.Logger,
	}
}

// Admit takes an extraction slot or fails with ErrAdmissionRejected without waiting.
func (o *Orchestrator) Admit() (*Ticket, error) {
	if !o.governor.TryAdmit() {
		return nil, ErrAdmissionRejected
	}
	return &Ticket{release: o.governor.Release}, nil
}

// Download admits and executes in one call.
func (o *Orchestrator) Download(ctx context.Context, jobID string, req domain.DownloadRequest, obs Observer) DownloadResult {
	ticket, err := o.Admit()
	if err != nil {
		return DownloadResult{
			AttemptedQualities: []domain.Quality{domain.ParseQuality(string(req.Quality))},
			Err:                ErrAdmissionRejected,
		}
	}
	return o.Execute(ctx, ticket, jobID, req, obs)
}

// Execute runs the fallback ladder for an admitted job and releases the ticket
// on every return path.
func (o *Orchestrator) Execute(ctx context.Context, ticket *Ticket, jobID string, req domain.DownloadRequest, obs Observer) DownloadResult {
	defer ticket.Release()

	if !req.Quality.Valid() {
		req.Quality = domain.ParseQuality(string(req.Quality))
	}
	logger := o.logger.WithField("job_id", jobID)
	target := Target{
		URL:     req.URL,
		JobID:   jobID,
		Title:   req.Title,
		Quality: req.Quality,
		Format:  req.Format,
	}
	stem := OutputStem(req.Title, jobID)

	var (
		attempted []domain.Quality
		lastErr   *ExtractionError
	)
	for q, strategy := range o.attempts(req) {
		if len(attempted) == 0 || attempted[len(attempted)-1] != q {
			attempted = append(attempted, q)
			fallback := len(attempted) > 1
			if fallback {
				logger.Infof("all strategies failed, trying lower quality %s", q)
			}
			obs.tierStart(q, fallback)
		}

		target.Quality = q
		args, err := o.builder.Build(strategy, target)
		if err != nil {
			lastErr = toolingFailure("build arguments", err.Error())
			continue
		}

		if err := o.limiter.Acquire(ctx); err != nil {
			return o.canceled(attempted)
		}

		attempt := o.runner.Run(ctx, Invocation{
			JobID:     jobID,
			Strategy:  strategy,
			Quality:   q,
			Format:    req.Format,
			OutputDir: o.builder.OutputDir(),
			Stem:      stem,
			Args:      args,
		}, obs.Progress)

		if attempt.Success() {
			logger.WithFields(logrus.Fields{"strategy": strategy, "quality": q}).Infof("download succeeded: %s", attempt.FileName)
			return DownloadResult{
				Success:            true,
				FilePath:           attempt.FilePath,
				FileName:           attempt.FileName,
				FileSize:           attempt.FileSize,
				VideoOnly:          attempt.VideoOnly,
				ActualQuality:      q,
				FallbackOccurred:   q != req.Quality,
				AttemptedQualities: attempted,
			}
		}
		if attempt.Err.Kind == KindCanceled || ctx.Err() != nil {
			return o.canceled(attempted)
		}

		lastErr = attempt.Err
		logger.WithFields(logrus.Fields{"strategy": strategy, "quality": q}).Debugf("strategy failed: %v", attempt.Err)
	}

	if lastErr == nil {
		lastErr = toolingFailure("no strategies configured", "")
	}
	failure := *lastErr
	failure.Hint = Hint(failure.Kind, o.proxies.Configured())
	logger.Warnf("download failed after %d tiers: %v", len(attempted), &failure)

	return DownloadResult{
		AttemptedQualities: attempted,
		Err:                &failure,
	}
}

// attempts yields (tier, strategy) pairs in the order they should be tried.
// Audio selectors ignore the tier, so audio stays on the requested one.
func (o *Orchestrator) attempts(req domain.DownloadRequest) iter.Seq2[domain.Quality, StrategyName] {
	tiers := domain.LadderFrom(req.Quality)
	if req.Format.IsAudio() {
		tiers = tiers[:1]
	}
	return skipTried(func(yield func(domain.Quality, StrategyName) bool) {
		for _, q := range tiers {
			for _, s := range o.strategies {
				if !yield(q, s) {
					return
				}
			}
		}
	})
}

// skipTried drops any (tier, strategy) pair that was already yielded.
func skipTried(seq iter.Seq2[domain.Quality, StrategyName]) iter.Seq2[domain.Quality, StrategyName] {
	return func(yield func(domain.Quality, StrategyName) bool) {
		type key struct {
			q domain.Quality
			s StrategyName
		}
		tried := make(map[key]struct{})
		for q, s := range seq {
			k := key{q, s}
			if _, ok := tried[k]; ok {
				continue
			}
			tried[k] = struct{}{}
			if !yield(q, s) {
				return
			}
		}
	}
}

func (o *Orchestrator) canceled(attempted []domain.Quality) DownloadResult {
	return DownloadResult{
		AttemptedQualities: attempted,
		Err:                &ExtractionError{Kind: KindCanceled, Message: "download canceled"},
	}
}

// ProxyStatus reports the rotator state for introspection.
func (o *Orchestrator) ProxyStatus() ProxyStatus {
	return o.proxies.Status()
}

func (o *Orchestrator) ActiveDownloads() int {
	return o.governor.Active()
}

func (o *Orchestrator) MaxConcurrent() int {
	return o.governor.Max()
}

// RequestInterval is the launch spacing in milliseconds.
func (o *Orchestrator) RequestInterval() int64 {
	return o.limiter.Interval().Milliseconds()
}
