package clip

import (
	"context"
	"strconv"
	"strings"
	"time"

	"media-clipper/internal/domain"
)

// SegmentExtractor copies a time range of remote streams into a local file.
type SegmentExtractor interface {
	ExtractSegment(ctx context.Context, streams []string, r domain.TimeRange, dest string, onTick func(elapsed time.Duration)) (CommandLog, error)
}

// FFmpegExtractor fetches segments with ffmpeg stream copy.
type FFmpegExtractor struct {
	ffmpegPath string
	runner     commandRunner
}

// NewFFmpegExtractor constructs the production segment fetcher.
func NewFFmpegExtractor(ffmpegPath string) *FFmpegExtractor {
	return &FFmpegExtractor{
		ffmpegPath: defaultString(ffmpegPath, "ffmpeg"),
		runner:     &execRunner{},
	}
}

// ExtractSegment seeks every input to the range start and copies the range
// without re-encoding. onTick receives the output position parsed from
// ffmpeg's progress stream and may be nil.
func (f *FFmpegExtractor) ExtractSegment(ctx context.Context, streams []string, r domain.TimeRange, dest string, onTick func(elapsed time.Duration)) (CommandLog, error) {
	stage := string(domain.JobStatusDownloading)
	if len(streams) == 0 || strings.TrimSpace(streams[0]) == "" {
		return CommandLog{}, newPipelineError(stage, ErrInvalidRequest, "at least one stream location is required", CommandLog{}, nil)
	}
	if !r.Valid() {
		return CommandLog{}, newPipelineError(stage, ErrInvalidRequest, "start and duration are required", CommandLog{}, nil)
	}
	if strings.TrimSpace(dest) == "" {
		return CommandLog{}, newPipelineError(stage, ErrInvalidRequest, "destination path is required", CommandLog{}, nil)
	}

	args := buildExtractArgs(streams, r, dest)
	result, runErr := f.runner.Stream(ctx, func(line string) {
		if onTick == nil {
			return
		}
		if elapsed, ok := parseProgressLine(line); ok {
			onTick(elapsed)
		}
	}, f.ffmpegPath, args...)
	log := newCommandLog(f.ffmpegPath, args, result)
	if runErr != nil {
		return log, newPipelineError(stage, ErrDownload, "ffmpeg segment download failed", log, runErr)
	}
	return log, nil
}

// buildExtractArgs builds the stream-copy command. With a separate audio
// stream the first video and first audio track are mapped from their own
// inputs; otherwise audio is mapped optionally from the single input.
func buildExtractArgs(streams []string, r domain.TimeRange, dest string) []string {
	start := strings.TrimSpace(r.Start)
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-ss", start,
		"-i", streams[0],
	}
	separateAudio := domain.MediaSource{StreamLocations: streams}.HasSeparateAudio()
	if separateAudio {
		args = append(args, "-ss", start, "-i", streams[1])
	}

	args = append(args, "-t", strings.TrimSpace(r.Duration))
	if separateAudio {
		args = append(args, "-map", "0:v:0", "-map", "1:a:0")
	} else {
		args = append(args, "-map", "0:v:0", "-map", "0:a:0?")
	}

	return append(args,
		"-c", "copy",
		"-progress", "pipe:1",
		"-nostats",
		dest,
	)
}

// parseProgressLine reads out_time_us (or the identically scaled
// out_time_ms) from one ffmpeg -progress line.
func parseProgressLine(line string) (time.Duration, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok || (key != "out_time_us" && key != "out_time_ms") {
		return 0, false
	}
	micros, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || micros < 0 {
		return 0, false
	}
	return time.Duration(micros) * time.Microsecond, true
}

func defaultString(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
