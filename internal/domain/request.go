package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type Format string

const (
	FormatMP4 Format = "mp4"
	FormatMP3 Format = "mp3"
)

// IsAudio reports whether the format extracts audio only.
func (f Format) IsAudio() bool {
	return f == FormatMP3
}

var (
	ErrInvalidURL    = errors.New("invalid or unsupported video URL")
	ErrInvalidFormat = errors.New("unsupported format")
)

var (
	supportedURL   = regexp.MustCompile(`^(https?://)?(www\.|m\.|music\.)?(youtube\.com|youtu\.be)/.+`)
	videoIDPattern = regexp.MustCompile(`(?:youtube\.com/(?:watch\?(?:.*&)?v=|shorts/|embed/|live/)|youtu\.be/)([A-Za-z0-9_-]{6,})`)
)

// DownloadRequest is what a caller asks for. It is not modified after submission.
type DownloadRequest struct {
	URL     string
	Quality Quality
	Format  Format
	Title   string
}

// NewDownloadRequest validates raw input and coerces quality onto the ladder.
func NewDownloadRequest(rawURL, quality, format, title string) (DownloadRequest, error) {
	rawURL = strings.TrimSpace(rawURL)
	if err := ValidateURL(rawURL); err != nil {
		return DownloadRequest{}, err
	}

	f, err := ParseFormat(format)
	if err != nil {
		return DownloadRequest{}, err
	}

	return DownloadRequest{
		URL:     rawURL,
		Quality: ParseQuality(quality),
		Format:  f,
		Title:   strings.TrimSpace(title),
	}, nil
}

// ParseFormat accepts "mp4" or "mp3"; empty input means mp4.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatMP4:
		return FormatMP4, nil
	case FormatMP3:
		return FormatMP3, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, raw)
	}
}

// ValidateURL checks that the URL points at a supported video site.
func ValidateURL(rawURL string) error {
	if rawURL == "" || !supportedURL.MatchString(rawURL) {
		return ErrInvalidURL
	}
	return nil
}

// ExtractVideoID returns the site video identifier embedded in the URL.
func ExtractVideoID(rawURL string) (string, bool) {
	m := videoIDPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}
