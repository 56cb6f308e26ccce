package clip

import (
	"context"
	"encoding/json"
	"strings"

	"media-clipper/internal/domain"
)

var (
	compatibleVideoCodecs = map[string]struct{}{
		"h264": {}, "avc": {}, "prores": {}, "dnxhd": {},
		"dnxhr": {}, "mpeg4": {}, "h265": {}, "hevc": {},
	}
	compatibleAudioCodecs = map[string]struct{}{
		"aac": {}, "mp3": {}, "pcm_s16le": {}, "pcm_s24le": {}, "flac": {},
	}
)

// Inspector probes a local file and decides editor compatibility.
type Inspector interface {
	Inspect(ctx context.Context, path string) (domain.CodecProfile, bool, CommandLog)
}

// CompatibilityPolicy decides whether a codec profile needs a transcode.
type CompatibilityPolicy struct {
	// AcceptSilentVideo lets a segment without audio pass the audio check.
	AcceptSilentVideo bool
}

// Compatible reports whether both codecs are on the editor allow-lists.
func (p CompatibilityPolicy) Compatible(profile domain.CodecProfile) bool {
	video := strings.ToLower(strings.TrimSpace(profile.VideoCodec))
	audio := strings.ToLower(strings.TrimSpace(profile.AudioCodec))

	if _, ok := compatibleVideoCodecs[video]; !ok {
		return false
	}
	if audio == "" {
		return p.AcceptSilentVideo
	}
	_, ok := compatibleAudioCodecs[audio]
	return ok
}

// IsCompatible applies the default policy, where absent audio fails.
func IsCompatible(profile domain.CodecProfile) bool {
	return CompatibilityPolicy{}.Compatible(profile)
}

// FFprobeInspector reads codec names with one ffprobe call.
type FFprobeInspector struct {
	ffprobePath string
	runner      commandRunner
	policy      CompatibilityPolicy
}

// NewFFprobeInspector constructs the production inspector.
func NewFFprobeInspector(ffprobePath string, policy CompatibilityPolicy) *FFprobeInspector {
	return &FFprobeInspector{
		ffprobePath: defaultString(ffprobePath, "ffprobe"),
		runner:      &execRunner{},
		policy:      policy,
	}
}

// Inspect never fails. A probe error or unreadable output reports the file
// as incompatible so the pipeline falls back to transcoding.
func (i *FFprobeInspector) Inspect(ctx context.Context, path string) (domain.CodecProfile, bool, CommandLog) {
	args := buildProbeArgs(path)
	result, err := i.runner.Run(ctx, i.ffprobePath, args...)
	log := newCommandLog(i.ffprobePath, args, result)
	if err != nil {
		return domain.CodecProfile{}, false, log
	}

	profile, ok := parseProbeOutput(result.Stdout)
	if !ok {
		return domain.CodecProfile{}, false, log
	}
	return profile, i.policy.Compatible(profile), log
}

func buildProbeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "stream=codec_type,codec_name",
		"-of", "json",
		path,
	}
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
	} `json:"streams"`
}

// parseProbeOutput keeps the first video and first audio codec names.
func parseProbeOutput(stdout string) (domain.CodecProfile, bool) {
	var out probeOutput
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		return domain.CodecProfile{}, false
	}

	var profile domain.CodecProfile
	for _, s := range out.Streams {
		name := strings.ToLower(strings.TrimSpace(s.CodecName))
		switch strings.ToLower(s.CodecType) {
		case "video":
			if profile.VideoCodec == "" {
				profile.VideoCodec = name
			}
		case "audio":
			if profile.AudioCodec == "" {
				profile.AudioCodec = name
			}
		}
	}
	return profile, true
}
