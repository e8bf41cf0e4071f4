// Package lyrics parses LRC-style timed lyrics.
package lyrics

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Line is one timed lyric line
type Line struct {
	Time float64 `json:"time"` // seconds
	Text string  `json:"text"`
}

// Lyrics is a parsed lyric sheet sorted by time
type Lyrics struct {
	Lines []Line
}

var stampRe = regexp.MustCompile(`\[(\d{1,3}):(\d{1,2})(?:[.:](\d{1,3}))?\]`)

// Parse parses "[mm:ss.xx]text" lines. A line may carry several stamps.
// Lines without a stamp (including [ar:...] style tags) are ignored.
func Parse(src string) *Lyrics {
	var lines []Line
	for _, raw := range strings.Split(src, "\n") {
		raw = strings.TrimSpace(raw)
		stamps := stampRe.FindAllStringSubmatchIndex(raw, -1)
		if len(stamps) == 0 {
			continue
		}

		// Text follows the last leading stamp
		text := strings.TrimSpace(raw[stamps[len(stamps)-1][1]:])
		for _, s := range stamps {
			mins, _ := strconv.Atoi(raw[s[2]:s[3]])
			secs, _ := strconv.Atoi(raw[s[4]:s[5]])
			t := float64(mins*60 + secs)
			if s[6] >= 0 {
				frac := raw[s[6]:s[7]]
				f, _ := strconv.Atoi(frac)
				div := 1.0
				for range frac {
					div *= 10
				}
				t += float64(f) / div
			}
			lines = append(lines, Line{Time: t, Text: text})
		}
	}

	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].Time < lines[j].Time
	})
	return &Lyrics{Lines: lines}
}

// IndexAt returns the index of the line active at position, or -1
func (l *Lyrics) IndexAt(position float64) int {
	if l == nil {
		return -1
	}
	i := sort.Search(len(l.Lines), func(i int) bool {
		return l.Lines[i].Time > position
	})
	return i - 1
}

// LineAt returns the line active at position
func (l *Lyrics) LineAt(position float64) (Line, bool) {
	i := l.IndexAt(position)
	if i < 0 {
		return Line{}, false
	}
	return l.Lines[i], true
}
