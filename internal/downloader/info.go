package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"videograb/internal/domain"
)

const infoProbeTimeout = 45 * time.Second

// VideoInfo is the metadata shown before a download is requested.
type VideoInfo struct {
	ID                 string
	Title              string
	Thumbnail          string
	Duration           int
	HighestQuality     domain.Quality
	AvailableQualities []domain.Quality
	Placeholder        bool
}

// InfoProber fetches metadata with the extractor's JSON dump mode and falls
// back to placeholder data when the probe fails.
type InfoProber struct {
	prober      Prober
	limiter     *RateLimiter
	proxies     *ProxyRotator
	cookiesFile string
	timeout     time.Duration
	logger      *logrus.Logger
}

func NewInfoProber(prober Prober, limiter *RateLimiter, proxies *ProxyRotator, cookiesFile string, logger *logrus.Logger) *InfoProber {
	if limiter == nil {
		limiter = NewRateLimiter(0)
	}
	if proxies == nil {
		proxies = NewProxyRotator(nil)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &InfoProber{
		prober:      prober,
		limiter:     limiter,
		proxies:     proxies,
		cookiesFile: cookiesFile,
		timeout:     infoProbeTimeout,
		logger:      logger,
	}
}

type ytdlpInfo struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Thumbnail string  `json:"thumbnail"`
	Duration  float64 `json:"duration"`
	Height    int     `json:"height"`
	Formats   []struct {
		Height int    `json:"height"`
		VCodec string `json:"vcodec"`
	} `json:"formats"`
}

// Fetch validates the URL and returns metadata. Only an invalid URL or a
// canceled context is an error.
func (p *InfoProber) Fetch(ctx context.Context, rawURL string) (VideoInfo, error) {
	if err := domain.ValidateURL(rawURL); err != nil {
		return VideoInfo{}, err
	}
	videoID, _ := domain.ExtractVideoID(rawURL)

	if err := p.limiter.Acquire(ctx); err != nil {
		return VideoInfo{}, err
	}

	args := []string{"-J", "--no-playlist", "--no-warnings", "--skip-download"}
	if proxy, ok := p.proxies.Next(); ok {
		args = append(args, "--proxy", proxy)
	}
	if p.cookiesFile != "" {
		args = append(args, "--cookies", p.cookiesFile)
	}
	args = append(args, "--", rawURL)

	out, err := p.prober.Probe(ctx, p.timeout, args...)
	if err != nil {
		if ctx.Err() != nil {
			return VideoInfo{}, ctx.Err()
		}
		p.logger.WithField("video_id", videoID).Warnf("metadata probe failed, using placeholder: %v", err)
		return placeholderInfo(videoID), nil
	}

	var raw ytdlpInfo
	if err := json.Unmarshal(out, &raw); err != nil {
		p.logger.WithField("video_id", videoID).Warnf("decode metadata: %v", err)
		return placeholderInfo(videoID), nil
	}
	return infoFromJSON(raw, videoID), nil
}

func infoFromJSON(raw ytdlpInfo, fallbackID string) VideoInfo {
	info := VideoInfo{
		ID:        raw.ID,
		Title:     raw.Title,
		Thumbnail: raw.Thumbnail,
		Duration:  int(math.Round(raw.Duration)),
	}
	if info.ID == "" {
		info.ID = fallbackID
	}
	if info.Thumbnail == "" && info.ID != "" {
		info.Thumbnail = thumbnailURL(info.ID)
	}

	maxHeight := raw.Height
	for _, f := range raw.Formats {
		if f.VCodec == "none" {
			continue
		}
		if f.Height > maxHeight {
			maxHeight = f.Height
		}
	}
	info.AvailableQualities = qualitiesUpTo(maxHeight)
	if len(info.AvailableQualities) == 0 {
		info.AvailableQualities = domain.LadderFrom(domain.Quality1080)
	}
	info.HighestQuality = info.AvailableQualities[0]
	return info
}

// qualitiesUpTo lists the ladder tiers a source of the given height can serve.
func qualitiesUpTo(height int) []domain.Quality {
	if height <= 0 {
		return nil
	}
	for _, q := range domain.Ladder {
		if q.Height() <= height {
			return domain.LadderFrom(q)
		}
	}
	return []domain.Quality{domain.Ladder[len(domain.Ladder)-1]}
}

func placeholderInfo(videoID string) VideoInfo {
	info := VideoInfo{
		ID:                 videoID,
		Title:              "Video",
		AvailableQualities: domain.LadderFrom(domain.Quality1080),
		HighestQuality:     domain.Quality1080,
		Placeholder:        true,
	}
	if videoID != "" {
		info.Title = fmt.Sprintf("Video %s", videoID)
		info.Thumbnail = thumbnailURL(videoID)
	}
	return info
}

func thumbnailURL(videoID string) string {
	return fmt.Sprintf("https://img.youtube.com/vi/%s/maxresdefault.jpg", videoID)
}
