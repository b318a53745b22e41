package downloader

import (
	"regexp"
	"strconv"
	"strings"
)

type LineKind int

const (
	LineOther LineKind = iota
	LineDestination
	LineAlreadyDownloaded
	LineMerged
	LineAudioExtracted
	LineProgress
)

// OutputLine is one classified line of extractor stdout.
type OutputLine struct {
	Kind    LineKind
	Path    string
	Percent float64
}

var (
	destinationLine = regexp.MustCompile(`^\[download\] Destination: (.+)$`)
	alreadyLine     = regexp.MustCompile(`^\[download\] (.+) has already been downloaded(?: and merged)?$`)
	mergeLine       = regexp.MustCompile(`^\[Merger\] Merging formats into "(.+)"$`)
	extractLine     = regexp.MustCompile(`^\[ExtractAudio\] Destination: (.+)$`)
	progressLine    = regexp.MustCompile(`^\[download\]\s+(\d+(?:\.\d+)?)%`)
	templateLine    = regexp.MustCompile(`^(\d+(?:\.\d+)?)%$`)
)

// ParseLine recognises the extractor output lines the runner cares about.
func ParseLine(line string) OutputLine {
	line = strings.TrimRight(line, "\r\n")
	trimmed := strings.TrimSpace(line)

	if m := mergeLine.FindStringSubmatch(trimmed); m != nil {
		return OutputLine{Kind: LineMerged, Path: m[1]}
	}
	if m := extractLine.FindStringSubmatch(trimmed); m != nil {
		return OutputLine{Kind: LineAudioExtracted, Path: m[1]}
	}
	if m := destinationLine.FindStringSubmatch(trimmed); m != nil {
		return OutputLine{Kind: LineDestination, Path: m[1]}
	}
	if m := alreadyLine.FindStringSubmatch(trimmed); m != nil {
		return OutputLine{Kind: LineAlreadyDownloaded, Path: m[1]}
	}
	if m := progressLine.FindStringSubmatch(trimmed); m != nil {
		return progress(m[1])
	}
	if m := templateLine.FindStringSubmatch(trimmed); m != nil {
		return progress(m[1])
	}
	return OutputLine{Kind: LineOther}
}

func progress(raw string) OutputLine {
	pct, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return OutputLine{Kind: LineOther}
	}
	if pct > 100 {
		pct = 100
	}
	return OutputLine{Kind: LineProgress, Percent: pct}
}

// outputTracker remembers the authoritative output path across lines. Merge
// and audio extraction lines win over plain destination lines.
type outputTracker struct {
	destination string
	final       string
}

func (o *outputTracker) observe(l OutputLine) {
	switch l.Kind {
	case LineDestination, LineAlreadyDownloaded:
		o.destination = l.Path
	case LineMerged, LineAudioExtracted:
		o.final = l.Path
	}
}

func (o *outputTracker) path() string {
	if o.final != "" {
		return o.final
	}
	return o.destination
}
