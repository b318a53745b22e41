package downloader

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"videograb/internal/domain"
)

// StrategyName identifies a client-impersonation profile for the extractor.
type StrategyName string

const (
	StrategyAndroid StrategyName = "android"
	StrategyIOS     StrategyName = "ios"
	StrategyWeb     StrategyName = "web"
	StrategyBasic   StrategyName = "basic"
)

// DefaultStrategies is the order strategies are tried at every quality tier.
var DefaultStrategies = []StrategyName{
	StrategyAndroid,
	StrategyIOS,
	StrategyWeb,
	StrategyBasic,
}

const (
	androidUserAgent = "com.google.android.youtube/17.36.4 (Linux; U; Android 12; GB) gzip"
	iosUserAgent     = "com.google.ios.youtube/17.36.4 (iPhone14,3; U; CPU iOS 15_6 like Mac OS X)"
	webUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	progressTemplate = "download:%(progress._percent_str)s"
	maxStemLength    = 100
)

type strategyProfile struct {
	userAgent     string
	playerClient  string
	cookies       bool
	proxy         bool
	socketTimeout int
	retries       int
	singleFile    bool
}

var profiles = map[StrategyName]strategyProfile{
	StrategyAndroid: {userAgent: androidUserAgent, playerClient: "android", cookies: true, proxy: true, socketTimeout: 30, retries: 3},
	StrategyIOS:     {userAgent: iosUserAgent, playerClient: "ios", cookies: true, proxy: true, socketTimeout: 30, retries: 3},
	StrategyWeb:     {userAgent: webUserAgent, cookies: true, proxy: true, socketTimeout: 45, retries: 5},
	StrategyBasic:   {socketTimeout: 20, retries: 1, singleFile: true},
}

// Target is everything a strategy needs to know about one attempt.
type Target struct {
	URL     string
	JobID   string
	Title   string
	Quality domain.Quality
	Format  domain.Format
}

type StrategyConfig struct {
	OutputDir      string
	CookiesFile    string
	POToken        string
	POTProviderURL string
}

// StrategyBuilder turns a strategy name and target into extractor arguments.
type StrategyBuilder struct {
	cfg     StrategyConfig
	proxies *ProxyRotator
}

func NewStrategyBuilder(cfg StrategyConfig, proxies *ProxyRotator) *StrategyBuilder {
	if proxies == nil {
		proxies = NewProxyRotator(nil)
	}
	return &StrategyBuilder{cfg: cfg, proxies: proxies}
}

func (b *StrategyBuilder) OutputDir() string {
	return b.cfg.OutputDir
}

// Build returns the ordered argument list for one extractor invocation.
// Proxy-capable strategies advance the shared proxy cursor.
func (b *StrategyBuilder) Build(name StrategyName, t Target) ([]string, error) {
	profile, ok := profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}

	stem := OutputStem(t.Title, t.JobID)
	args := []string{
		"--newline",
		"--no-playlist",
		"--output", filepath.Join(b.cfg.OutputDir, stem+".%(ext)s"),
	}
	args = append(args, formatArgs(t.Quality, t.Format, profile.singleFile)...)
	args = append(args,
		"--write-info-json",
		"--progress-template", progressTemplate,
		"--socket-timeout", strconv.Itoa(profile.socketTimeout),
		"--retries", strconv.Itoa(profile.retries),
		"--fragment-retries", strconv.Itoa(profile.retries),
	)

	if profile.userAgent != "" {
		args = append(args, "--user-agent", profile.userAgent)
	}
	if extractorArgs := b.extractorArgs(profile); extractorArgs != "" {
		args = append(args, "--extractor-args", extractorArgs)
	}
	if profile.cookies && b.cookiesAvailable() {
		args = append(args, "--cookies", b.cfg.CookiesFile)
	}
	if profile.proxy {
		if proxy, ok := b.proxies.Next(); ok {
			args = append(args, "--proxy", proxy)
		}
		args = append(args, "--no-check-certificates")
	}

	args = append(args, "--", t.URL)
	return args, nil
}

func (b *StrategyBuilder) extractorArgs(profile strategyProfile) string {
	if profile.playerClient == "" {
		return ""
	}
	parts := []string{"player_client=" + profile.playerClient}
	if profile.playerClient == "android" {
		switch {
		case b.cfg.POTProviderURL != "":
			parts = append(parts, "pot_provider_url="+b.cfg.POTProviderURL)
		case b.cfg.POToken != "":
			parts = append(parts, "po_token=android.gvs+"+b.cfg.POToken)
		default:
			parts = append(parts, "formats=missing_pot")
		}
	}
	return "youtube:" + strings.Join(parts, ";")
}

func (b *StrategyBuilder) cookiesAvailable() bool {
	if b.cfg.CookiesFile == "" {
		return false
	}
	info, err := os.Stat(b.cfg.CookiesFile)
	return err == nil && !info.IsDir()
}

// formatArgs maps a tier and container onto a format selector. Audio ignores the tier.
func formatArgs(q domain.Quality, f domain.Format, singleFile bool) []string {
	if f.IsAudio() {
		return []string{
			"--format", "ba[ext=m4a]/ba/b",
			"--extract-audio",
			"--audio-format", "mp3",
		}
	}

	h := q.Height()
	if h == 0 {
		h = domain.Ladder[0].Height()
	}
	if singleFile {
		return []string{"--format", fmt.Sprintf("b[height<=%d]/b", h)}
	}

	selector := strings.Join([]string{
		fmt.Sprintf("bv*[height=%d][ext=mp4]+ba[ext=m4a]", h),
		fmt.Sprintf("bv*[height=%d]+ba", h),
		fmt.Sprintf("bv*[height<=%d][ext=mp4]+ba[ext=m4a]", h),
		fmt.Sprintf("bv*[height<=%d]+ba", h),
		fmt.Sprintf("b[height=%d]", h),
		fmt.Sprintf("b[height<=%d]", h),
		"b",
	}, "/")
	return []string{"--format", selector, "--merge-output-format", "mp4"}
}

// OutputStem is the file name without extension for a job's output.
func OutputStem(title, jobID string) string {
	clean := SanitizeFilename(title)
	if clean == "" {
		return jobID
	}
	short := jobID
	if len(short) > 8 {
		short = short[:8]
	}
	return clean + "-" + short
}

// SanitizeFilename keeps ASCII letters, digits, dash, underscore, dot and
// space, collapses runs of whitespace and trims leading/trailing dots and spaces.
func SanitizeFilename(title string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
			lastSpace = false
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}

	out := strings.Trim(b.String(), ". ")
	if len(out) > maxStemLength {
		out = strings.TrimRight(out[:maxStemLength], ". ")
	}
	return out
}
