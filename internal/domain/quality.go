package domain

import (
	"strconv"
	"strings"
)

// Quality is a named video height tier such as "1080p".
type Quality string

const (
	Quality4320 Quality = "4320p"
	Quality2160 Quality = "2160p"
	Quality1440 Quality = "1440p"
	Quality1080 Quality = "1080p"
	Quality720  Quality = "720p"
	Quality480  Quality = "480p"
	Quality360  Quality = "360p"
)

// Ladder lists every supported tier, highest first.
var Ladder = []Quality{
	Quality4320,
	Quality2160,
	Quality1440,
	Quality1080,
	Quality720,
	Quality480,
	Quality360,
}

// Height returns the pixel height of the tier, or 0 for an unknown value.
func (q Quality) Height() int {
	h, err := strconv.Atoi(strings.TrimSuffix(string(q), "p"))
	if err != nil {
		return 0
	}
	return h
}

// Valid reports whether q is one of the ladder tiers.
func (q Quality) Valid() bool {
	return ladderIndex(q) >= 0
}

// ParseQuality maps free-form input onto a ladder tier: the highest tier whose
// height does not exceed the requested one. Input that names no height, or a
// height below the lowest tier, yields the highest tier.
func ParseQuality(raw string) Quality {
	s := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(raw)), "p")
	h, err := strconv.Atoi(s)
	if err != nil || h <= 0 {
		return Ladder[0]
	}
	for _, q := range Ladder {
		if q.Height() <= h {
			return q
		}
	}
	return Ladder[0]
}

// LadderFrom returns q followed by every lower tier.
func LadderFrom(q Quality) []Quality {
	idx := ladderIndex(q)
	if idx < 0 {
		idx = 0
	}
	out := make([]Quality, len(Ladder)-idx)
	copy(out, Ladder[idx:])
	return out
}

func ladderIndex(q Quality) int {
	for i, candidate := range Ladder {
		if candidate == q {
			return i
		}
	}
	return -1
}
