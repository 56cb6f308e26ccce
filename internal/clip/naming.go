package clip

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"media-clipper/internal/domain"
)

const (
	maxTitleRunes    = 50
	maxTimecodeRunes = 16
	fallbackTitle    = "trimmed_video"
	tempPrefix       = "temp_"
	outputExt        = ".mp4"
	partialSuffix    = ".part"
	nameTimeLayout   = "20060102T150405Z"
)

// SanitizeTitle replaces every rune that is not a letter, digit, '_', '-',
// '.' or space with '_' and truncates to 50 runes. An empty result falls back
// to "trimmed_video".
func SanitizeTitle(title string) string {
	out := sanitize(strings.TrimSpace(title), maxTitleRunes)
	if strings.Trim(out, " ._") == "" {
		return fallbackTitle
	}
	return out
}

func sanitizeTimecode(raw string) string {
	return sanitize(strings.ReplaceAll(strings.TrimSpace(raw), ":", "-"), maxTimecodeRunes)
}

func sanitize(raw string, limit int) string {
	var b strings.Builder
	b.Grow(len(raw))
	n := 0
	for _, r := range raw {
		if n == limit {
			break
		}
		n++
		switch {
		case unicode.IsLetter(r), unicode.IsNumber(r):
			b.WriteRune(r)
		case r == '_', r == '-', r == '.', r == ' ':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// BaseName builds the unique stem shared by a run's temp and output files.
// The UTC timestamp keeps names sortable and the run ID keeps them distinct
// within the same second.
func BaseName(title string, r domain.TimeRange, now time.Time, runID uuid.UUID) string {
	id := strings.ReplaceAll(runID.String(), "-", "")
	// the v7 prefix is timestamp bits, so take the random tail
	suffix := id[len(id)-8:]

	return strings.Join([]string{
		now.UTC().Format(nameTimeLayout) + "-" + suffix,
		SanitizeTitle(title),
		sanitizeTimecode(r.Start),
		sanitizeTimecode(r.Duration),
	}, "_")
}

// OutputName returns the final MP4 file name for a stem.
func OutputName(base string) string {
	return base + outputExt
}

// TempName returns the temp download file name for a stem.
func TempName(base string) string {
	return tempPrefix + base + outputExt
}
