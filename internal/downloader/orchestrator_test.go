package downloader

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"videograb/internal/domain"
)

type fakeRunner struct {
	mu       sync.Mutex
	calls    []Invocation
	launches []time.Time
	outcome  func(inv Invocation) Attempt
}

func (f *fakeRunner) Run(ctx context.Context, inv Invocation, progress func(int)) Attempt {
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	f.launches = append(f.launches, time.Now())
	f.mu.Unlock()
	if progress != nil {
		progress(50)
	}
	return f.outcome(inv)
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func blocked(Invocation) Attempt {
	return Attempt{Err: &ExtractionError{Kind: KindBlockedByUpstream, Message: "upstream blocked the request"}}
}

func newTestOrchestrator(runner Runner, proxies []string, interval time.Duration, max int) *Orchestrator {
	rotator := NewProxyRotator(proxies)
	return NewOrchestrator(OrchestratorConfig{
		Builder:  NewStrategyBuilder(StrategyConfig{OutputDir: "/out"}, rotator),
		Runner:   runner,
		Limiter:  NewRateLimiter(interval),
		Governor: NewGovernor(max),
		Proxies:  rotator,
		Logger:   quietLogger(),
	})
}

func request(q domain.Quality, f domain.Format) domain.DownloadRequest {
	return domain.DownloadRequest{URL: "https://youtu.be/dQw4w9WgXcQ", Quality: q, Format: f}
}

func TestOrchestratorFallsBackToLowerTier(t *testing.T) {
	const interval = 20 * time.Millisecond
	runner := &fakeRunner{outcome: func(inv Invocation) Attempt {
		if inv.Quality == domain.Quality720 && inv.Strategy == StrategyAndroid {
			return Attempt{FilePath: "/out/job.mp4", FileName: "job.mp4", FileSize: 1024}
		}
		return Attempt{Err: &ExtractionError{Kind: KindFormatUnavailable, Message: "requested format is not available"}}
	}}
	o := newTestOrchestrator(runner, []string{"http://p1", "http://p2"}, interval, 3)

	var tiers []domain.Quality
	var fallbacks []bool
	res := o.Download(context.Background(), "job", request(domain.Quality1080, domain.FormatMP4), Observer{
		TierStart: func(q domain.Quality, fallback bool) {
			tiers = append(tiers, q)
			fallbacks = append(fallbacks, fallback)
		},
	})

	if !res.Success {
		t.Fatalf("Download() failed: %v", res.Err)
	}
	if res.ActualQuality != domain.Quality720 || !res.FallbackOccurred {
		t.Errorf("ActualQuality = %s, FallbackOccurred = %v", res.ActualQuality, res.FallbackOccurred)
	}
	want := []domain.Quality{domain.Quality1080, domain.Quality720}
	if !reflect.DeepEqual(res.AttemptedQualities, want) {
		t.Errorf("AttemptedQualities = %v, want %v", res.AttemptedQualities, want)
	}
	if !reflect.DeepEqual(tiers, want) || !reflect.DeepEqual(fallbacks, []bool{false, true}) {
		t.Errorf("observer saw tiers %v fallbacks %v", tiers, fallbacks)
	}
	if res.FileName == "" || res.FileSize <= 0 {
		t.Errorf("success without file: %+v", res)
	}

	if n := runner.callCount(); n != 5 {
		t.Fatalf("runner called %d times, want 5", n)
	}
	order := []StrategyName{StrategyAndroid, StrategyIOS, StrategyWeb, StrategyBasic, StrategyAndroid}
	wantProxies := []string{"http://p1", "http://p2", "http://p1", "", "http://p2"}
	for i, call := range runner.calls {
		if call.Strategy != order[i] {
			t.Errorf("call %d strategy = %s, want %s", i, call.Strategy, order[i])
		}
		proxy, _ := argValue(call.Args, "--proxy")
		if proxy != wantProxies[i] {
			t.Errorf("call %d proxy = %q, want %q", i, proxy, wantProxies[i])
		}
	}
	for i := 1; i < len(runner.launches); i++ {
		if gap := runner.launches[i].Sub(runner.launches[i-1]); gap < interval-5*time.Millisecond {
			t.Errorf("launch %d followed the previous one after %v, want >= %v", i, gap, interval)
		}
	}
	if o.ActiveDownloads() != 0 {
		t.Errorf("slot leaked: active = %d", o.ActiveDownloads())
	}
}

func TestOrchestratorSucceedsAtRequestedTier(t *testing.T) {
	runner := &fakeRunner{outcome: func(inv Invocation) Attempt {
		return Attempt{FileName: "a.mp4", FileSize: 1, VideoOnly: true}
	}}
	o := newTestOrchestrator(runner, nil, 0, 3)

	res := o.Download(context.Background(), "job", request(domain.Quality480, domain.FormatMP4), Observer{})
	if !res.Success || res.FallbackOccurred || res.ActualQuality != domain.Quality480 {
		t.Fatalf("Download() = %+v", res)
	}
	if !res.VideoOnly {
		t.Error("video-only flag should pass through")
	}
	if runner.callCount() != 1 {
		t.Errorf("runner called %d times, want 1", runner.callCount())
	}
}

func TestOrchestratorExhaustsLadderWithProxyHint(t *testing.T) {
	runner := &fakeRunner{outcome: blocked}
	o := newTestOrchestrator(runner, nil, 0, 3)

	res := o.Download(context.Background(), "job", request(domain.Quality4320, domain.FormatMP4), Observer{})

	if res.Success {
		t.Fatal("Download() should fail")
	}
	if res.ActualQuality != "" || res.FileName != "" || res.FileSize != 0 {
		t.Errorf("failure carries result fields: %+v", res)
	}
	if !reflect.DeepEqual(res.AttemptedQualities, domain.Ladder) {
		t.Errorf("AttemptedQualities = %v, want full ladder", res.AttemptedQualities)
	}
	if res.Err.Kind != KindBlockedByUpstream {
		t.Errorf("Err.Kind = %s", res.Err.Kind)
	}
	if !strings.Contains(res.Err.Hint, "PROXY_LIST") {
		t.Errorf("hint %q should recommend configuring proxies", res.Err.Hint)
	}
	if n := runner.callCount(); n != len(domain.Ladder)*len(DefaultStrategies) {
		t.Errorf("runner called %d times", n)
	}
}

func TestOrchestratorBlockedWithProxiesSuggestsRotation(t *testing.T) {
	o := newTestOrchestrator(&fakeRunner{outcome: blocked}, []string{"http://p1"}, 0, 3)

	res := o.Download(context.Background(), "job", request(domain.Quality360, domain.FormatMP4), Observer{})
	if res.Success || !strings.Contains(res.Err.Hint, "Rotate") {
		t.Fatalf("Download() = %+v", res.Err)
	}
}

func TestOrchestratorAttemptedQualitiesProperty(t *testing.T) {
	for _, tier := range domain.Ladder {
		t.Run(string(tier), func(t *testing.T) {
			o := newTestOrchestrator(&fakeRunner{outcome: blocked}, nil, 0, 1)
			res := o.Download(context.Background(), "job", request(tier, domain.FormatMP4), Observer{})

			if !reflect.DeepEqual(res.AttemptedQualities, domain.LadderFrom(tier)) {
				t.Fatalf("AttemptedQualities = %v", res.AttemptedQualities)
			}
			seen := map[domain.Quality]bool{}
			for i, q := range res.AttemptedQualities {
				if seen[q] {
					t.Fatalf("%s attempted twice", q)
				}
				seen[q] = true
				if i > 0 && q.Height() >= res.AttemptedQualities[i-1].Height() {
					t.Fatalf("not descending: %v", res.AttemptedQualities)
				}
			}
		})
	}
}

func TestOrchestratorAudioStaysOnRequestedTier(t *testing.T) {
	runner := &fakeRunner{outcome: blocked}
	o := newTestOrchestrator(runner, nil, 0, 1)

	res := o.Download(context.Background(), "job", request(domain.Quality1080, domain.FormatMP3), Observer{})
	if !reflect.DeepEqual(res.AttemptedQualities, []domain.Quality{domain.Quality1080}) {
		t.Fatalf("AttemptedQualities = %v", res.AttemptedQualities)
	}
	if runner.callCount() != len(DefaultStrategies) {
		t.Fatalf("runner called %d times", runner.callCount())
	}
}

func TestOrchestratorRejectsWhenFull(t *testing.T) {
	runner := &fakeRunner{outcome: blocked}
	o := newTestOrchestrator(runner, nil, time.Hour, 7)

	// drain the limiter's burst so any acquire would block
	if err := o.limiter.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	var tickets []*Ticket
	for i := 0; i < 7; i++ {
		ticket, err := o.Admit()
		if err != nil {
			t.Fatalf("Admit() %d error = %v", i, err)
		}
		tickets = append(tickets, ticket)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	res := o.Download(ctx, "eighth", request(domain.Quality720, domain.FormatMP4), Observer{})

	if res.Success || res.Err == nil || res.Err.Kind != KindAdmissionRejected {
		t.Fatalf("Download() = %+v, want AdmissionRejected", res)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("rejection should not wait")
	}
	if runner.callCount() != 0 {
		t.Errorf("runner invoked %d times", runner.callCount())
	}
	if o.ActiveDownloads() != 7 {
		t.Errorf("active = %d, want 7", o.ActiveDownloads())
	}

	for _, ticket := range tickets {
		ticket.Release()
		ticket.Release()
	}
	if o.ActiveDownloads() != 0 {
		t.Errorf("active after release = %d", o.ActiveDownloads())
	}
}

func TestOrchestratorCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{outcome: func(inv Invocation) Attempt {
		cancel()
		return Attempt{Err: &ExtractionError{Kind: KindCanceled, Message: "download canceled"}}
	}}
	o := newTestOrchestrator(runner, nil, 0, 1)

	res := o.Download(ctx, "job", request(domain.Quality1080, domain.FormatMP4), Observer{})
	if res.Success || res.Err.Kind != KindCanceled {
		t.Fatalf("Download() = %+v", res)
	}
	if runner.callCount() != 1 {
		t.Errorf("ladder continued after cancel: %d calls", runner.callCount())
	}
	if o.ActiveDownloads() != 0 {
		t.Errorf("slot leaked after cancel")
	}
}

func TestOrchestratorReleasesOnPanic(t *testing.T) {
	runner := &fakeRunner{outcome: func(Invocation) Attempt { panic("boom") }}
	o := newTestOrchestrator(runner, nil, 0, 1)

	func() {
		defer func() { _ = recover() }()
		o.Download(context.Background(), "job", request(domain.Quality360, domain.FormatMP4), Observer{})
	}()

	if o.ActiveDownloads() != 0 {
		t.Fatalf("slot leaked after panic: active = %d", o.ActiveDownloads())
	}
}

func TestSkipTried(t *testing.T) {
	seq := func(yield func(domain.Quality, StrategyName) bool) {
		pairs := []struct {
			q domain.Quality
			s StrategyName
		}{
			{domain.Quality720, StrategyAndroid},
			{domain.Quality720, StrategyAndroid},
			{domain.Quality720, StrategyIOS},
			{domain.Quality480, StrategyAndroid},
		}
		for _, p := range pairs {
			if !yield(p.q, p.s) {
				return
			}
		}
	}

	var got []string
	for q, s := range skipTried(seq) {
		got = append(got, string(q)+"/"+string(s))
	}
	want := []string{"720p/android", "720p/ios", "480p/android"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("skipTried() = %v, want %v", got, want)
	}
}

func TestOrchestratorRejectionReportsCoercedQuality(t *testing.T) {
	runner := &fakeRunner{outcome: func(Invocation) Attempt { return Attempt{} }}
	o := newTestOrchestrator(runner, nil, 0, 1)

	ticket, err := o.Admit()
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	defer ticket.Release()

	res := o.Download(context.Background(), "job", request(domain.Quality("1000"), domain.FormatMP4), Observer{})
	if res.Err == nil || res.Err.Kind != KindAdmissionRejected {
		t.Fatalf("Download() = %+v, want AdmissionRejected", res)
	}
	if len(res.AttemptedQualities) != 1 || res.AttemptedQualities[0] != domain.Quality720 {
		t.Fatalf("AttemptedQualities = %v, want [720p]", res.AttemptedQualities)
	}
}
