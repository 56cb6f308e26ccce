package clip

import (
	"context"
	"strings"

	"media-clipper/internal/domain"
)

// Reencoder converts a file into the editor-compatible target format.
type Reencoder interface {
	Reencode(ctx context.Context, in, out string, profile domain.CodecProfile) (CommandLog, error)
}

// FFmpegReencoder transcodes to H.264 / AAC MP4 with ffmpeg.
type FFmpegReencoder struct {
	ffmpegPath string
	runner     commandRunner
}

// NewFFmpegReencoder constructs the production transcoder.
func NewFFmpegReencoder(ffmpegPath string) *FFmpegReencoder {
	return &FFmpegReencoder{
		ffmpegPath: defaultString(ffmpegPath, "ffmpeg"),
		runner:     &execRunner{},
	}
}

// Reencode writes out from in. The audio track is copied when it is already
// AAC or MP3 and is optional, so silent sources succeed.
func (t *FFmpegReencoder) Reencode(ctx context.Context, in, out string, profile domain.CodecProfile) (CommandLog, error) {
	stage := string(domain.JobStatusFinalizing)
	if strings.TrimSpace(in) == "" || strings.TrimSpace(out) == "" {
		return CommandLog{}, newPipelineError(stage, ErrInvalidRequest, "input and output paths are required", CommandLog{}, nil)
	}

	args := buildTranscodeArgs(in, out, profile)
	result, runErr := t.runner.Run(ctx, t.ffmpegPath, args...)
	log := newCommandLog(t.ffmpegPath, args, result)
	if runErr != nil {
		return log, newPipelineError(stage, ErrTranscode, "ffmpeg transcode failed", log, runErr)
	}
	return log, nil
}

func buildTranscodeArgs(in, out string, profile domain.CodecProfile) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", in,
		"-map", "0:v:0",
		"-map", "0:a:0?",
		"-c:v", "libx264",
		"-crf", "18",
		"-preset", "fast",
		"-pix_fmt", "yuv420p",
	}

	switch strings.ToLower(strings.TrimSpace(profile.AudioCodec)) {
	case "aac", "mp3":
		args = append(args, "-c:a", "copy")
	default:
		args = append(args, "-c:a", "aac", "-b:a", "256k")
	}

	return append(args,
		"-movflags", "+faststart",
		"-threads", "4",
		"-f", "mp4",
		out,
	)
}
