package downloader

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alessio/shellescape"
	"github.com/sirupsen/logrus"

	"videograb/internal/domain"
)

// Invocation is one extractor run: a strategy at a quality tier.
type Invocation struct {
	JobID     string
	Strategy  StrategyName
	Quality   domain.Quality
	Format    domain.Format
	OutputDir string
	Stem      string
	Args      []string
}

// Attempt is the outcome of a single invocation.
type Attempt struct {
	FilePath  string
	FileName  string
	FileSize  int64
	VideoOnly bool
	Err       *ExtractionError
}

func (a Attempt) Success() bool {
	return a.Err == nil
}

// Runner executes extractor invocations.
type Runner interface {
	Run(ctx context.Context, inv Invocation, progress func(pct int)) Attempt
}

// ExecRunner runs the extractor binary as a child process.
type ExecRunner struct {
	binary string
	logger *logrus.Logger
}

func NewExecRunner(binary string, logger *logrus.Logger) *ExecRunner {
	if binary == "" {
		binary = "yt-dlp"
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ExecRunner{binary: binary, logger: logger}
}

func (r *ExecRunner) Binary() string {
	return r.binary
}

// Run has no timeout of its own; it ends when the process exits or ctx is canceled.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation, progress func(pct int)) Attempt {
	logger := r.logger.WithFields(logrus.Fields{
		"job_id":   inv.JobID,
		"strategy": inv.Strategy,
		"quality":  inv.Quality,
	})
	logger.Debugf("exec %s", commandLine(r.binary, inv.Args))

	cmd := exec.CommandContext(ctx, r.binary, inv.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Attempt{Err: toolingFailure("failed to start "+r.binary, err.Error())}
	}
	stderr := newTailBuffer(64 << 10)
	cmd.Stderr = stderr
	cmd.WaitDelay = 5 * time.Second

	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return Attempt{Err: &ExtractionError{Kind: KindCanceled, Message: "download canceled"}}
		}
		return Attempt{Err: toolingFailure("failed to start "+r.binary, err.Error())}
	}

	var (
		tracker  outputTracker
		reporter = newProgressReporter(progress)
	)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := ParseLine(scanner.Text())
		switch line.Kind {
		case LineProgress:
			reporter.report(line.Percent)
		case LineOther:
		default:
			tracker.observe(line)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warnf("read extractor output: %v", err)
	}
	// the child blocks on a full pipe unless stdout is read to EOF
	_, _ = io.Copy(io.Discard, stdout)

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return Attempt{Err: &ExtractionError{Kind: KindCanceled, Message: "download canceled"}}
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return Attempt{Err: classifyFailure(stderr.String(), exitErr.ExitCode())}
		}
		return Attempt{Err: toolingFailure(r.binary+" did not exit cleanly", waitErr.Error())}
	}

	path, size, locErr := locateOutput(inv.OutputDir, inv.Stem, tracker.path())
	if locErr != nil {
		return Attempt{Err: locErr}
	}

	attempt := Attempt{
		FilePath: path,
		FileName: filepath.Base(path),
		FileSize: size,
	}
	if !inv.Format.IsAudio() {
		attempt.VideoOnly = readVideoOnly(filepath.Join(inv.OutputDir, inv.Stem+".info.json"))
	}
	reporter.finish()
	logger.Infof("extracted %s (%s)", attempt.FileName, formatBytes(size))
	return attempt
}

// Probe runs a short auxiliary command such as a version check or a metadata
// dump, bounded by timeout.
func (r *ExecRunner) Probe(ctx context.Context, timeout time.Duration, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.binary, args...)
	stderr := newTailBuffer(16 << 10)
	cmd.Stderr = stderr

	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return out, toolingFailure(r.binary+" timed out", ctx.Err().Error())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, classifyFailure(stderr.String(), exitErr.ExitCode())
	}
	return out, toolingFailure("failed to start "+r.binary, err.Error())
}

// locateOutput resolves the produced file, preferring the path announced on
// stdout and falling back to a directory scan by stem.
func locateOutput(dir, stem, announced string) (string, int64, *ExtractionError) {
	if announced != "" {
		if info, err := os.Stat(announced); err == nil && info.Mode().IsRegular() {
			return checkSize(announced, info.Size())
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, toolingFailure("download completed but file not found", err.Error())
	}

	var candidates []os.FileInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !matchesStem(name, stem) || isAuxiliary(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, info)
	}
	if len(candidates) == 0 {
		return "", 0, toolingFailure("download completed but file not found", "")
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Size() > candidates[j].Size()
	})
	best := candidates[0]
	return checkSize(filepath.Join(dir, best.Name()), best.Size())
}

// matchesStem reports whether name is stem itself or stem plus extensions.
// Another job's stem may start with this one, so a bare prefix is not enough.
func matchesStem(name, stem string) bool {
	return name == stem || strings.HasPrefix(name, stem+".")
}

func checkSize(path string, size int64) (string, int64, *ExtractionError) {
	if size <= 0 {
		return "", 0, toolingFailure("downloaded file is empty", filepath.Base(path))
	}
	return path, size, nil
}

var auxiliarySuffixes = []string{".info.json", ".json", ".part", ".ytdl", ".temp", ".tmp", ".description", ".vtt", ".srt"}

func isAuxiliary(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range auxiliarySuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return strings.Contains(lower, ".part-frag")
}

// readVideoOnly inspects the info json side channel and reports whether the
// chosen format carries no audio track.
func readVideoOnly(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	defer os.Remove(path)

	var info struct {
		ACodec           string `json:"acodec"`
		RequestedFormats []struct {
			ACodec string `json:"acodec"`
		} `json:"requested_formats"`
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return false
	}
	if len(info.RequestedFormats) > 0 {
		for _, f := range info.RequestedFormats {
			if f.ACodec != "" && f.ACodec != "none" {
				return false
			}
		}
		return true
	}
	return info.ACodec == "none"
}

func commandLine(binary string, args []string) string {
	redacted := make([]string, 0, len(args)+1)
	redacted = append(redacted, binary)
	for i := 0; i < len(args); i++ {
		redacted = append(redacted, args[i])
		if args[i] == "--proxy" && i+1 < len(args) {
			i++
			redacted = append(redacted, redactProxy(args[i]))
		}
	}
	return shellescape.QuoteCommand(redacted)
}

func redactProxy(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<proxy>"
	}
	return u.Redacted()
}

// progressReporter forwards whole-percent steps only.
type progressReporter struct {
	fn   func(int)
	last int
}

func newProgressReporter(fn func(int)) *progressReporter {
	return &progressReporter{fn: fn, last: -1}
}

func (p *progressReporter) report(pct float64) {
	if p.fn == nil {
		return
	}
	whole := int(pct)
	if whole <= p.last {
		return
	}
	p.last = whole
	p.fn(whole)
}

func (p *progressReporter) finish() {
	if p.fn != nil && p.last < 100 {
		p.last = 100
		p.fn(100)
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB",
		float64(b)/float64(div),
		"KMGTPE"[exp],
	)
}
