package downloader

import (
	"bufio"
	"context"
	"os"
	"strings"
	"time"
)

const (
	defaultProbeTimeout   = 5 * time.Second
	recommendedIntervalMs = 2000
)

// Prober runs short, time-bounded extractor commands.
type Prober interface {
	Probe(ctx context.Context, timeout time.Duration, args ...string) ([]byte, error)
}

type ToolStatus struct {
	Binary    string
	Available bool
	Version   string
	Error     string
}

type CookieStatus struct {
	Configured   bool
	Path         string
	Exists       bool
	Entries      int
	HasLoginInfo bool
	Error        string
}

// DiagnosticReport summarises whether the service can reach the upstream site.
type DiagnosticReport struct {
	Tool              ToolStatus
	Cookies           CookieStatus
	Proxy             ProxyStatus
	RequestIntervalMs int64
	MaxConcurrent     int
	ActiveDownloads   int
	Recommendations   []string
	Healthy           bool
	CheckedAt         time.Time
}

type Diagnostics struct {
	prober       Prober
	binary       string
	cookiesFile  string
	orchestrator *Orchestrator
}

func NewDiagnostics(prober Prober, binary, cookiesFile string, orchestrator *Orchestrator) *Diagnostics {
	return &Diagnostics{
		prober:       prober,
		binary:       binary,
		cookiesFile:  cookiesFile,
		orchestrator: orchestrator,
	}
}

func (d *Diagnostics) Run(ctx context.Context) DiagnosticReport {
	report := DiagnosticReport{
		Tool:              d.checkTool(ctx),
		Cookies:           inspectCookies(d.cookiesFile),
		Proxy:             d.orchestrator.ProxyStatus(),
		RequestIntervalMs: d.orchestrator.RequestInterval(),
		MaxConcurrent:     d.orchestrator.MaxConcurrent(),
		ActiveDownloads:   d.orchestrator.ActiveDownloads(),
		CheckedAt:         time.Now().UTC(),
	}
	report.Recommendations = recommendations(report)
	report.Healthy = report.Tool.Available
	return report
}

func (d *Diagnostics) checkTool(ctx context.Context) ToolStatus {
	status := ToolStatus{Binary: d.binary}
	out, err := d.prober.Probe(ctx, defaultProbeTimeout, "--version")
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Available = true
	status.Version = strings.TrimSpace(string(out))
	return status
}

// inspectCookies reads a Netscape format cookie file without logging values.
func inspectCookies(path string) CookieStatus {
	status := CookieStatus{Path: path, Configured: path != ""}
	if path == "" {
		return status
	}

	f, err := os.Open(path)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	defer f.Close()
	status.Exists = true

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") && !strings.HasPrefix(line, "#HttpOnly_") {
			continue
		}
		status.Entries++
		fields := strings.Split(line, "\t")
		if len(fields) >= 6 {
			switch fields[5] {
			case "LOGIN_INFO", "SID", "__Secure-3PSID":
				status.HasLoginInfo = true
			}
		}
	}
	if err := scanner.Err(); err != nil {
		status.Error = err.Error()
	}
	return status
}

func recommendations(r DiagnosticReport) []string {
	var recs []string
	if !r.Tool.Available {
		recs = append(recs, "yt-dlp could not be run. Install it and make sure it is on PATH, or set extractor.binary.")
	}
	switch {
	case !r.Cookies.Configured:
		recs = append(recs, "No cookies file configured. Export signed-in browser cookies in Netscape format and set YTDLP_COOKIES.")
	case !r.Cookies.Exists:
		recs = append(recs, "The configured cookies file does not exist: "+r.Cookies.Path)
	case r.Cookies.Entries == 0:
		recs = append(recs, "The cookies file contains no cookies.")
	case !r.Cookies.HasLoginInfo:
		recs = append(recs, "The cookies file has no LOGIN_INFO or SID entries; export it from a signed-in session.")
	}
	if !r.Proxy.Configured {
		recs = append(recs, "No proxies configured. Set PROXY_LIST to a comma separated list of residential proxies to avoid IP blocks.")
	}
	if r.RequestIntervalMs < recommendedIntervalMs {
		recs = append(recs, "MIN_REQUEST_INTERVAL is below 2000ms; raise it to reduce the chance of rate limiting.")
	}
	return recs
}
