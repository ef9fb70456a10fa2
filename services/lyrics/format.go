// Package lyrics converts Spotify lyric lines into LRC, SRT and raw text shapes.
package lyrics

import (
	"fmt"
	"regexp"
	"strings"

	"spotify-lyrics-api-go/services/spotify"
)

const (
	FormatLRC = "lrc"
	FormatSRT = "srt"
	FormatRaw = "raw"
)

// LRCLine is one line in LRC shape
type LRCLine struct {
	TimeTag string `json:"timeTag"`
	Words   string `json:"words"`
}

// SRTLine is one subtitle entry. It ends where the next line starts.
type SRTLine struct {
	Index     int    `json:"index"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Words     string `json:"words"`
}

var trackIDPattern = regexp.MustCompile(`track[/:]+([A-Za-z0-9]+)`)

// ExtractTrackID pulls the track id out of an open.spotify.com URL or a spotify:track: URI
func ExtractTrackID(s string) (string, bool) {
	m := trackIDPattern.FindStringSubmatch(s)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

// ResolveTrackID picks the track id from the request parameters. A URL wins over a bare id.
func ResolveTrackID(trackID, url string) (string, error) {
	if url != "" {
		if id, ok := ExtractTrackID(url); ok {
			return id, nil
		}
		if trackID == "" {
			return "", fmt.Errorf("could not find a track id in %q", url)
		}
	}
	trackID = strings.TrimSpace(trackID)
	if trackID == "" {
		return "", fmt.Errorf("track id is required")
	}
	return trackID, nil
}

// FormatLRCTime renders ms as mm:ss.xx (hundredths truncated)
func FormatLRCTime(ms int64) string {
	totalSeconds := ms / 1000
	return fmt.Sprintf("%02d:%02d.%02d", totalSeconds/60, totalSeconds%60, (ms%1000)/10)
}

// FormatSRTTime renders ms as hh:mm:ss,mmm
func FormatSRTTime(ms int64) string {
	hours := ms / 3600000
	rem := ms % 3600000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, rem/60000, (rem%60000)/1000, rem%1000)
}

func ToLRC(lines []spotify.Line) []LRCLine {
	out := make([]LRCLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, LRCLine{
			TimeTag: FormatLRCTime(int64(line.StartTimeMs)),
			Words:   line.Words,
		})
	}
	return out
}

// ToSRT pairs each line with the next one, so n lines give n-1 entries
func ToSRT(lines []spotify.Line) []SRTLine {
	if len(lines) < 2 {
		return []SRTLine{}
	}
	out := make([]SRTLine, 0, len(lines)-1)
	for i := 1; i < len(lines); i++ {
		out = append(out, SRTLine{
			Index:     i,
			StartTime: FormatSRTTime(int64(lines[i-1].StartTimeMs)),
			EndTime:   FormatSRTTime(int64(lines[i].StartTimeMs)),
			Words:     lines[i-1].Words,
		})
	}
	return out
}

// ToRaw joins the words of every line, each followed by a newline
func ToRaw(lines []spotify.Line) string {
	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString(line.Words)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Convert returns the lines in the requested format. Unknown or empty formats return the lines unchanged.
func Convert(format string, lines []spotify.Line) interface{} {
	switch strings.ToLower(format) {
	case FormatLRC:
		return ToLRC(lines)
	case FormatSRT:
		return ToSRT(lines)
	case FormatRaw:
		return ToRaw(lines)
	default:
		if lines == nil {
			return []spotify.Line{}
		}
		return lines
	}
}
