package downloader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"videograb/internal/domain"
)

// fakeTool writes an executable shell script standing in for the extractor.
func fakeTool(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ytdlp")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake tool: %v", err)
	}
	return path
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func TestExecRunnerRun(t *testing.T) {
	tests := []struct {
		name        string
		script      func(dir string) string
		format      domain.Format
		wantErrKind ErrorKind
		wantName    string
		wantSize    int64
		wantVideo   bool
	}{
		{
			name: "destination line",
			script: func(dir string) string {
				return `printf 'hello' > "` + dir + `/clip.mp4"
echo "[download] Destination: ` + dir + `/clip.mp4"`
			},
			wantName: "clip.mp4",
			wantSize: 5,
		},
		{
			name: "merge supersedes destination",
			script: func(dir string) string {
				return `printf 'v' > "` + dir + `/clip.f137.mp4"
printf 'merged!' > "` + dir + `/clip.mp4"
echo "[download] Destination: ` + dir + `/clip.f137.mp4"
echo "[Merger] Merging formats into \"` + dir + `/clip.mp4\""`
			},
			wantName: "clip.mp4",
			wantSize: 7,
		},
		{
			name: "audio extraction",
			script: func(dir string) string {
				return `printf 'abc' > "` + dir + `/clip.mp3"
echo "[download] Destination: ` + dir + `/clip.webm"
echo "[ExtractAudio] Destination: ` + dir + `/clip.mp3"`
			},
			format:   domain.FormatMP3,
			wantName: "clip.mp3",
			wantSize: 3,
		},
		{
			name: "directory scan fallback skips metadata",
			script: func(dir string) string {
				return `printf '{"acodec":"mp4a"}' > "` + dir + `/clip.info.json"
printf 'webmdata' > "` + dir + `/clip.webm"
echo "some unexpected output format"`
			},
			wantName: "clip.webm",
			wantSize: 8,
		},
		{
			name: "video only flagged from info json",
			script: func(dir string) string {
				return `printf '{"requested_formats":[{"acodec":"none"}]}' > "` + dir + `/clip.info.json"
printf 'xx' > "` + dir + `/clip.mp4"
echo "[download] Destination: ` + dir + `/clip.mp4"`
			},
			wantName:  "clip.mp4",
			wantSize:  2,
			wantVideo: true,
		},
		{
			name: "exit zero without file",
			script: func(dir string) string {
				return `echo "[youtube] dQw4w9WgXcQ: Downloading webpage"`
			},
			wantErrKind: KindToolingFailure,
		},
		{
			name: "empty file",
			script: func(dir string) string {
				return `: > "` + dir + `/clip.mp4"
echo "[download] Destination: ` + dir + `/clip.mp4"`
			},
			wantErrKind: KindToolingFailure,
		},
		{
			name: "blocked",
			script: func(dir string) string {
				return `echo "ERROR: [youtube] dQw4w9WgXcQ: Sign in to confirm you're not a bot" >&2
exit 1`
			},
			wantErrKind: KindBlockedByUpstream,
		},
		{
			name: "unavailable",
			script: func(dir string) string {
				return `echo "ERROR: [youtube] dQw4w9WgXcQ: Video unavailable" >&2
exit 1`
			},
			wantErrKind: KindContentUnavailable,
		},
		{
			name: "unknown failure",
			script: func(dir string) string {
				return `echo "something odd" >&2
exit 3`
			},
			wantErrKind: KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			runner := NewExecRunner(fakeTool(t, tt.script(dir)), quietLogger())

			format := tt.format
			if format == "" {
				format = domain.FormatMP4
			}
			attempt := runner.Run(context.Background(), Invocation{
				JobID:     "job",
				Strategy:  StrategyAndroid,
				Quality:   domain.Quality1080,
				Format:    format,
				OutputDir: dir,
				Stem:      "clip",
			}, nil)

			if tt.wantErrKind != "" {
				if attempt.Success() {
					t.Fatalf("Run() succeeded with %+v, want %s", attempt, tt.wantErrKind)
				}
				if attempt.Err.Kind != tt.wantErrKind {
					t.Fatalf("Err.Kind = %s, want %s (%v)", attempt.Err.Kind, tt.wantErrKind, attempt.Err)
				}
				if attempt.FileName != "" || attempt.FileSize != 0 {
					t.Errorf("failed attempt carries file %q/%d", attempt.FileName, attempt.FileSize)
				}
				return
			}

			if !attempt.Success() {
				t.Fatalf("Run() error = %v", attempt.Err)
			}
			if attempt.FileName != tt.wantName || attempt.FileSize != tt.wantSize {
				t.Errorf("Run() = %s/%d, want %s/%d", attempt.FileName, attempt.FileSize, tt.wantName, tt.wantSize)
			}
			if attempt.VideoOnly != tt.wantVideo {
				t.Errorf("VideoOnly = %v, want %v", attempt.VideoOnly, tt.wantVideo)
			}
		})
	}
}

func TestExecRunnerMissingBinary(t *testing.T) {
	runner := NewExecRunner(filepath.Join(t.TempDir(), "does-not-exist"), quietLogger())

	attempt := runner.Run(context.Background(), Invocation{OutputDir: t.TempDir(), Stem: "x"}, nil)
	if attempt.Success() {
		t.Fatal("Run() should fail for a missing binary")
	}
	if attempt.Err.Kind != KindToolingFailure || !strings.Contains(attempt.Err.Message, "failed to start") {
		t.Fatalf("Err = %+v", attempt.Err)
	}
}

func TestExecRunnerProgress(t *testing.T) {
	dir := t.TempDir()
	tool := fakeTool(t, `echo "  10.0%"
echo "  10.4%"
echo "[download]  55.2% of 10.00MiB at 1.00MiB/s ETA 00:05"
printf 'data' > "`+dir+`/clip.mp4"
echo "[download] Destination: `+dir+`/clip.mp4"`)
	runner := NewExecRunner(tool, quietLogger())

	var got []int
	attempt := runner.Run(context.Background(), Invocation{
		Format:    domain.FormatMP4,
		OutputDir: dir,
		Stem:      "clip",
	}, func(pct int) { got = append(got, pct) })

	if !attempt.Success() {
		t.Fatalf("Run() error = %v", attempt.Err)
	}
	want := []int{10, 55, 100}
	if len(got) != len(want) {
		t.Fatalf("progress = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("progress = %v, want %v", got, want)
		}
	}
}

func TestExecRunnerCanceled(t *testing.T) {
	runner := NewExecRunner(fakeTool(t, "sleep 5"), quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempt := runner.Run(ctx, Invocation{OutputDir: t.TempDir(), Stem: "x"}, nil)
	if attempt.Success() || attempt.Err.Kind != KindCanceled {
		t.Fatalf("Run() = %+v, want canceled", attempt)
	}
}

func TestExecRunnerProbe(t *testing.T) {
	runner := NewExecRunner(fakeTool(t, `echo "2025.01.15"`), quietLogger())

	out, err := runner.Probe(context.Background(), defaultProbeTimeout, "--version")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if strings.TrimSpace(string(out)) != "2025.01.15" {
		t.Fatalf("Probe() = %q", out)
	}

	failing := NewExecRunner(fakeTool(t, `echo "ERROR: HTTP Error 429: Too Many Requests" >&2; exit 1`), quietLogger())
	_, err = failing.Probe(context.Background(), defaultProbeTimeout, "-J", "url")
	var extErr *ExtractionError
	if !errors.As(err, &extErr) || extErr.Kind != KindBlockedByUpstream {
		t.Fatalf("Probe() error = %v, want BlockedByUpstream", err)
	}
}

func TestLocateOutputPrefersLargestCandidate(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"stem.f251.webm": "a",
		"stem.mp4":       "bbbbbb",
		"stem.info.json": "{}{}{}{}{}{}{}{}",
		"stem.mp4.part":  "cccccccccccccc",
		"other-stem.mp4": "dddddddddddddddd",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	path, size, err := locateOutput(dir, "stem", "")
	if err != nil {
		t.Fatalf("locateOutput() error = %v", err)
	}
	if filepath.Base(path) != "stem.mp4" || size != 6 {
		t.Fatalf("locateOutput() = %s/%d", path, size)
	}
}

func TestLocateOutputIgnoresLongerStems(t *testing.T) {
	tests := []struct {
		name  string
		stem  string
		files map[string]string
		want  string
	}{
		{
			name: "titled stem",
			stem: "Clip-1234abcd",
			files: map[string]string{
				"Clip-1234abcd.mp4":                "aa",
				"Clip-1234abcd extra-ffffffff.mp4": "bbbbbbbbbb",
			},
			want: "Clip-1234abcd.mp4",
		},
		{
			name: "no own file",
			stem: "Clip-1234abcd",
			files: map[string]string{
				"Clip-1234abcd extra-ffffffff.mp4": "bbbbbbbbbb",
				"Clip-1234abcdef.mp4":              "cc",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, body := range tt.files {
				if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
					t.Fatal(err)
				}
			}

			path, _, err := locateOutput(dir, tt.stem, "")
			if tt.want == "" {
				if err == nil {
					t.Fatalf("locateOutput() = %s, want not found", path)
				}
				return
			}
			if err != nil {
				t.Fatalf("locateOutput() error = %v", err)
			}
			if filepath.Base(path) != tt.want {
				t.Fatalf("locateOutput() = %s, want %s", filepath.Base(path), tt.want)
			}
		})
	}
}

func TestExecRunnerSurvivesOversizedOutputLine(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "stem.mp4")
	tool := fakeTool(t, `head -c 3000000 /dev/zero | tr '\0' 'a'
echo
printf 'video' > "`+target+`"
echo "[download] Destination: `+target+`"`)
	runner := NewExecRunner(tool, quietLogger())

	done := make(chan Attempt, 1)
	go func() {
		done <- runner.Run(context.Background(), Invocation{
			OutputDir: dir,
			Stem:      "stem",
			Format:    domain.FormatMP4,
		}, nil)
	}()

	select {
	case attempt := <-done:
		if !attempt.Success() {
			t.Fatalf("Run() = %+v, want success", attempt)
		}
		if attempt.FileName != "stem.mp4" {
			t.Fatalf("FileName = %q", attempt.FileName)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return after an oversized output line")
	}
}
