package downloader

import (
	"errors"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		stderr string
		want   ErrorKind
	}{
		{stderr: "ERROR: [youtube] abc: Sign in to confirm you're not a bot. Use --cookies", want: KindBlockedByUpstream},
		{stderr: "ERROR: unable to download video data: HTTP Error 403: Forbidden", want: KindBlockedByUpstream},
		{stderr: "ERROR: HTTP Error 429: Too Many Requests", want: KindBlockedByUpstream},
		{stderr: "ERROR: [youtube] abc: Video unavailable. This video has been removed by the uploader", want: KindContentUnavailable},
		{stderr: "ERROR: [youtube] abc: Private video. Sign in if you've been granted access", want: KindContentUnavailable},
		{stderr: "ERROR: [youtube] abc: The uploader has not made this video available in your country", want: KindContentUnavailable},
		{stderr: "ERROR: [youtube] abc: This video is not available in your country", want: KindContentUnavailable},
		{stderr: "ERROR: [youtube] abc: Requested format is not available. Use --list-formats", want: KindFormatUnavailable},
		{stderr: "Traceback (most recent call last):", want: KindUnknown},
		{stderr: "", want: KindUnknown},
	}

	for _, tt := range tests {
		t.Run(string(tt.want)+"/"+tt.stderr, func(t *testing.T) {
			if got := Classify(tt.stderr); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifyFailureDetail(t *testing.T) {
	stderr := "WARNING: something\nERROR: [youtube] abc: Video unavailable\n"
	err := classifyFailure(stderr, 1)
	if err.Kind != KindContentUnavailable {
		t.Fatalf("Kind = %s", err.Kind)
	}
	if err.Detail != "[youtube] abc: Video unavailable" {
		t.Errorf("Detail = %q", err.Detail)
	}

	unknown := classifyFailure("boom", 2)
	if !strings.Contains(unknown.Error(), "exit code 2") {
		t.Errorf("Error() = %q", unknown.Error())
	}
}

func TestHint(t *testing.T) {
	if h := Hint(KindBlockedByUpstream, false); !strings.Contains(h, "PROXY_LIST") {
		t.Errorf("hint without proxies = %q", h)
	}
	if h := Hint(KindBlockedByUpstream, true); !strings.Contains(h, "Rotate") {
		t.Errorf("hint with proxies = %q", h)
	}
	if h := Hint(KindUnknown, false); h != "" {
		t.Errorf("unknown hint = %q", h)
	}
}

func TestExtractionErrorIs(t *testing.T) {
	err := error(&ExtractionError{Kind: KindAdmissionRejected, Message: "busy"})
	if !errors.Is(err, ErrAdmissionRejected) {
		t.Fatal("errors.Is should match on kind")
	}
	if errors.Is(&ExtractionError{Kind: KindUnknown}, ErrAdmissionRejected) {
		t.Fatal("different kinds must not match")
	}
}
