package clip

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"media-clipper/internal/domain"
)

// fakeRunner simulates command execution outcomes.
type fakeRunner struct {
	run   func(ctx context.Context, name string, args ...string) (commandResult, error)
	lines []string
	name  string
	args  []string
}

// Run delegates to injected behavior.
func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	f.name = name
	f.args = append([]string{}, args...)
	if f.run == nil {
		return commandResult{}, nil
	}
	return f.run(ctx, name, args...)
}

// Stream replays lines before delegating to Run.
func (f *fakeRunner) Stream(ctx context.Context, onLine func(string), name string, args ...string) (commandResult, error) {
	if onLine != nil {
		for _, line := range f.lines {
			onLine(line)
		}
	}
	return f.Run(ctx, name, args...)
}

// TestFFmpegExtractorSeparateAudioMapping checks two-input argument layout.
func TestFFmpegExtractorSeparateAudioMapping(t *testing.T) {
	runner := &fakeRunner{lines: []string{"frame=10", "out_time_us=2500000", "progress=continue", "out_time_ms=bad"}}
	extractor := &FFmpegExtractor{ffmpegPath: "ffmpeg-custom", runner: runner}

	var ticks []time.Duration
	_, err := extractor.ExtractSegment(
		context.Background(),
		[]string{"https://cdn/v", "https://cdn/a"},
		domain.TimeRange{Start: "00:01:00", Duration: "00:00:30"},
		"/tmp/temp_x.mp4",
		func(d time.Duration) { ticks = append(ticks, d) },
	)
	if err != nil {
		t.Fatalf("ExtractSegment() error = %v", err)
	}

	if runner.name != "ffmpeg-custom" {
		t.Fatalf("command = %q", runner.name)
	}
	joined := strings.Join(runner.args, " ")
	for _, want := range []string{
		"-ss 00:01:00 -i https://cdn/v -ss 00:01:00 -i https://cdn/a -t 00:00:30",
		"-map 0:v:0 -map 1:a:0",
		"-c copy",
		"-progress pipe:1 -nostats",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args %q missing %q", joined, want)
		}
	}
	if runner.args[len(runner.args)-1] != "/tmp/temp_x.mp4" {
		t.Fatalf("destination must be last arg, args=%v", runner.args)
	}
	if len(ticks) != 1 || ticks[0] != 2500*time.Millisecond {
		t.Fatalf("ticks = %v", ticks)
	}
}

// TestFFmpegExtractorSingleStreamOptionalAudio checks one-input mapping.
func TestFFmpegExtractorSingleStreamOptionalAudio(t *testing.T) {
	for _, streams := range [][]string{{"https://cdn/muxed"}, {"https://cdn/muxed", " "}} {
		runner := &fakeRunner{}
		extractor := &FFmpegExtractor{ffmpegPath: "ffmpeg", runner: runner}

		if _, err := extractor.ExtractSegment(context.Background(), streams, domain.TimeRange{Start: "5", Duration: "10"}, "/tmp/out.mp4", nil); err != nil {
			t.Fatalf("ExtractSegment() error = %v", err)
		}

		joined := strings.Join(runner.args, " ")
		if !strings.Contains(joined, "-map 0:v:0 -map 0:a:0?") {
			t.Fatalf("expected optional audio mapping, args=%q", joined)
		}
		if strings.Count(joined, "-ss ") != 1 || strings.Count(joined, "-i ") != 1 {
			t.Fatalf("expected a single seeked input, args=%q", joined)
		}
	}
}

// TestFFmpegExtractorRejectsEmptyInputs checks defensive validation.
func TestFFmpegExtractorRejectsEmptyInputs(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
		t.Fatal("runner must not be invoked")
		return commandResult{}, nil
	}}
	extractor := &FFmpegExtractor{ffmpegPath: "ffmpeg", runner: runner}

	_, err := extractor.ExtractSegment(context.Background(), nil, domain.TimeRange{Start: "0", Duration: "5"}, "/tmp/x.mp4", nil)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("empty streams error = %v", err)
	}
	_, err = extractor.ExtractSegment(context.Background(), []string{"https://cdn/v"}, domain.TimeRange{Start: "0"}, "/tmp/x.mp4", nil)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("empty duration error = %v", err)
	}
}

// TestFFmpegExtractorFailureReturnsDownloadError checks non-zero exit handling.
func TestFFmpegExtractorFailureReturnsDownloadError(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
		return commandResult{Stderr: "403 Forbidden", ExitCode: 1}, errors.New("exit status 1")
	}}
	extractor := &FFmpegExtractor{ffmpegPath: "ffmpeg", runner: runner}

	log, err := extractor.ExtractSegment(context.Background(), []string{"https://cdn/v"}, domain.TimeRange{Start: "0", Duration: "5"}, "/tmp/x.mp4", nil)
	if !errors.Is(err, ErrDownload) {
		t.Fatalf("expected ErrDownload, got %v", err)
	}
	var pipeErr *PipelineError
	if !errors.As(err, &pipeErr) || pipeErr.Stage != "downloading" {
		t.Fatalf("expected downloading PipelineError, got %#v", err)
	}
	if log.ExitCode != 1 || log.Stderr != "403 Forbidden" {
		t.Fatalf("log = %+v", log)
	}
}

// TestFFprobeInspectorParsesCodecs checks the probe happy path.
func TestFFprobeInspectorParsesCodecs(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
		return commandResult{Stdout: `{"streams":[{"codec_type":"video","codec_name":"H264"},{"codec_type":"audio","codec_name":"aac"},{"codec_type":"audio","codec_name":"opus"}]}`}, nil
	}}
	inspector := &FFprobeInspector{ffprobePath: "ffprobe", runner: runner}

	profile, ok, log := inspector.Inspect(context.Background(), "/tmp/x.mp4")
	if !ok {
		t.Fatalf("expected compatible profile, got %+v", profile)
	}
	if profile.VideoCodec != "h264" || profile.AudioCodec != "aac" {
		t.Fatalf("profile = %+v", profile)
	}
	if log.Command != "ffprobe" || !hasArg(log.Args, "stream=codec_type,codec_name") {
		t.Fatalf("log = %+v", log)
	}
}

// TestFFprobeInspectorMalformedOutputIsIncompatible checks probe degradation.
func TestFFprobeInspectorMalformedOutputIsIncompatible(t *testing.T) {
	cases := []func(ctx context.Context, name string, args ...string) (commandResult, error){
		func(ctx context.Context, name string, args ...string) (commandResult, error) {
			return commandResult{Stdout: "not json {"}, nil
		},
		func(ctx context.Context, name string, args ...string) (commandResult, error) {
			return commandResult{ExitCode: 1, Stderr: "Invalid data"}, errors.New("exit status 1")
		},
	}
	for i, run := range cases {
		inspector := &FFprobeInspector{ffprobePath: "ffprobe", runner: &fakeRunner{run: run}}
		if _, ok, _ := inspector.Inspect(context.Background(), "/tmp/x.mp4"); ok {
			t.Fatalf("case %d: expected incompatible", i)
		}
	}
}

// TestCompatibilityDecision covers the allow-lists and the silent video policy.
func TestCompatibilityDecision(t *testing.T) {
	cases := []struct {
		video, audio string
		want         bool
	}{
		{"h264", "aac", true},
		{"HEVC", "PCM_S24LE", true},
		{"prores", "flac", true},
		{"vp9", "opus", false},
		{"h264", "opus", false},
		{"av1", "aac", false},
		{"h264", "", false},
		{"", "aac", false},
	}
	for _, tc := range cases {
		got := IsCompatible(domain.CodecProfile{VideoCodec: tc.video, AudioCodec: tc.audio})
		if got != tc.want {
			t.Fatalf("IsCompatible(%q, %q) = %v, want %v", tc.video, tc.audio, got, tc.want)
		}
	}

	silent := CompatibilityPolicy{AcceptSilentVideo: true}
	if !silent.Compatible(domain.CodecProfile{VideoCodec: "h264"}) {
		t.Fatal("silent h264 should pass when AcceptSilentVideo is set")
	}
	if silent.Compatible(domain.CodecProfile{VideoCodec: "vp9"}) {
		t.Fatal("silent vp9 must still fail")
	}
}

// TestFFmpegReencoderAudioHandling checks copy vs. re-encode of audio.
func TestFFmpegReencoderAudioHandling(t *testing.T) {
	cases := []struct {
		audio    string
		wantArgs string
	}{
		{audio: "aac", wantArgs: "-c:a copy"},
		{audio: "mp3", wantArgs: "-c:a copy"},
		{audio: "opus", wantArgs: "-c:a aac -b:a 256k"},
		{audio: "", wantArgs: "-c:a aac -b:a 256k"},
	}
	for _, tc := range cases {
		runner := &fakeRunner{}
		reencoder := &FFmpegReencoder{ffmpegPath: "ffmpeg", runner: runner}
		if _, err := reencoder.Reencode(context.Background(), "/tmp/in.mp4", "/out/.x.mp4.part", domain.CodecProfile{VideoCodec: "vp9", AudioCodec: tc.audio}); err != nil {
			t.Fatalf("Reencode() error = %v", err)
		}
		joined := strings.Join(runner.args, " ")
		if !strings.Contains(joined, tc.wantArgs) {
			t.Fatalf("audio %q: args %q missing %q", tc.audio, joined, tc.wantArgs)
		}
		for _, want := range []string{"-map 0:v:0 -map 0:a:0?", "-c:v libx264 -crf 18 -preset fast -pix_fmt yuv420p", "-movflags +faststart", "-threads 4", "-f mp4"} {
			if !strings.Contains(joined, want) {
				t.Fatalf("args %q missing %q", joined, want)
			}
		}
		if argValue(runner.args, "-i") != "/tmp/in.mp4" || runner.args[len(runner.args)-1] != "/out/.x.mp4.part" {
			t.Fatalf("unexpected io args: %v", runner.args)
		}
	}
}

// TestFFmpegReencoderFailureReturnsTranscodeError checks non-zero exit handling.
func TestFFmpegReencoderFailureReturnsTranscodeError(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
		return commandResult{ExitCode: 1, Stderr: "Unknown encoder 'libx264'"}, errors.New("exit status 1")
	}}
	reencoder := &FFmpegReencoder{ffmpegPath: "ffmpeg", runner: runner}

	_, err := reencoder.Reencode(context.Background(), "/tmp/in.mp4", "/tmp/out.mp4", domain.CodecProfile{})
	if !errors.Is(err, ErrTranscode) {
		t.Fatalf("expected ErrTranscode, got %v", err)
	}
	if !strings.Contains(err.Error(), "cmd=ffmpeg exit=1") {
		t.Fatalf("error text = %q", err.Error())
	}
}

// TestParseResolverOutput covers extractor output shapes.
func TestParseResolverOutput(t *testing.T) {
	source, err := parseResolverOutput("My Talk: Part 1/2\nhttps://cdn/v?sig=1\nhttps://cdn/a?sig=2\nhttps://cdn/extra\n")
	if err != nil {
		t.Fatalf("parse error = %v", err)
	}
	if source.Title != "My Talk_ Part 1_2" {
		t.Fatalf("title = %q", source.Title)
	}
	if len(source.StreamLocations) != 2 || !source.HasSeparateAudio() {
		t.Fatalf("streams = %v", source.StreamLocations)
	}

	single, err := parseResolverOutput("Clip\r\nhttps://cdn/muxed\r\n")
	if err != nil || len(single.StreamLocations) != 1 || single.Title != "Clip" {
		t.Fatalf("single = %+v, err = %v", single, err)
	}

	untitled, err := parseResolverOutput("\nhttps://cdn/muxed\n")
	if err != nil || untitled.Title != "trimmed_video" || len(untitled.StreamLocations) != 1 {
		t.Fatalf("untitled = %+v, err = %v", untitled, err)
	}

	urlTitle, err := parseResolverOutput("https://example.com/promo\nhttps://cdn.example.com/v\nhttps://cdn.example.com/a")
	if err != nil {
		t.Fatalf("parse error = %v", err)
	}
	if urlTitle.Title != "https___example.com_promo" {
		t.Fatalf("title = %q", urlTitle.Title)
	}
	wantStreams := []string{"https://cdn.example.com/v", "https://cdn.example.com/a"}
	if len(urlTitle.StreamLocations) != 2 || urlTitle.StreamLocations[0] != wantStreams[0] || urlTitle.StreamLocations[1] != wantStreams[1] {
		t.Fatalf("streams = %v, want %v", urlTitle.StreamLocations, wantStreams)
	}

	for _, bad := range []string{"", "\n\n", "Only a title\n", "Title\nnot-a-url\n", "https://cdn/muxed\n"} {
		if _, err := parseResolverOutput(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

// TestYTDLPResolverCookiesAndFailures checks argument building and error mapping.
func TestYTDLPResolverCookiesAndFailures(t *testing.T) {
	root := t.TempDir()
	cookies := filepath.Join(root, "cookies.txt")
	mustWriteFile(t, cookies, "# Netscape HTTP Cookie File")

	var gotCookies string
	resolver := NewYTDLPResolver(ResolverOptions{Executable: "yt-dlp-custom", CookiesPath: cookies})
	if resolver.format != DefaultStreamFormat {
		t.Fatalf("format = %q", resolver.format)
	}
	resolver.run = func(ctx context.Context, sourceURL, cookies string) (CommandLog, error) {
		gotCookies = cookies
		return CommandLog{
			Command: "/opt/bin/yt-dlp-custom",
			Args:    []string{"--format", DefaultStreamFormat, "--cookies", cookies, sourceURL},
			Stdout:  "Title\nhttps://cdn/v",
		}, nil
	}

	source, log, err := resolver.Resolve(context.Background(), "https://video.example.com/watch?v=1")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if source.Title != "Title" || len(source.StreamLocations) != 1 {
		t.Fatalf("source = %+v", source)
	}
	if gotCookies != cookies {
		t.Fatalf("cookies = %q, want %q", gotCookies, cookies)
	}
	if log.Command != "/opt/bin/yt-dlp-custom" || log.Args[len(log.Args)-1] != "https://video.example.com/watch?v=1" {
		t.Fatalf("log = %+v", log)
	}

	missing := NewYTDLPResolver(ResolverOptions{CookiesPath: filepath.Join(root, "absent.txt"), Format: "best"})
	missing.run = func(ctx context.Context, sourceURL, cookies string) (CommandLog, error) {
		gotCookies = cookies
		return CommandLog{Command: "yt-dlp", ExitCode: 1, Stderr: "ERROR: Unsupported URL"}, errors.New("exit status 1")
	}
	_, log, err = missing.Resolve(context.Background(), "https://video.example.com/x")
	if !errors.Is(err, ErrResolution) {
		t.Fatalf("expected ErrResolution, got %v", err)
	}
	if gotCookies != "" || missing.format != "best" {
		t.Fatalf("cookies = %q, format = %q", gotCookies, missing.format)
	}
	if log.ExitCode != 1 || log.Stderr != "ERROR: Unsupported URL" {
		t.Fatalf("log = %+v", log)
	}

	empty := NewYTDLPResolver(ResolverOptions{})
	empty.run = func(ctx context.Context, sourceURL, cookies string) (CommandLog, error) {
		return CommandLog{Stdout: "Title only"}, nil
	}
	if _, _, err := empty.Resolve(context.Background(), "https://video.example.com/x"); !errors.Is(err, ErrResolution) {
		t.Fatalf("expected ErrResolution for missing streams, got %v", err)
	}
}

// TestYTDLPResolverLogsExecutedCommand runs a stand-in executable through
// go-ytdlp and checks the log mirrors the real invocation.
func TestYTDLPResolverLogsExecutedCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script executable")
	}
	root := t.TempDir()
	cookies := filepath.Join(root, "cookies.txt")
	mustWriteFile(t, cookies, "# Netscape HTTP Cookie File")
	script := filepath.Join(root, "yt-dlp")
	mustWriteFile(t, script, "#!/bin/sh\nprintf '\\nhttps://cdn/v\\nhttps://cdn/a\\n'\n")
	if err := os.Chmod(script, 0o755); err != nil {
		t.Fatalf("chmod: %v", err)
	}

	resolver := NewYTDLPResolver(ResolverOptions{Executable: script, CookiesPath: cookies})
	source, log, err := resolver.Resolve(context.Background(), "https://video.example.com/watch?v=1")
	if err != nil {
		t.Fatalf("Resolve() error = %v, log = %+v", err, log)
	}
	if source.Title != "trimmed_video" || !source.HasSeparateAudio() {
		t.Fatalf("source = %+v", source)
	}
	if log.Command != script || log.ExitCode != 0 {
		t.Fatalf("log = %+v", log)
	}
	if argValue(log.Args, "--cookies") != cookies || !hasArg(log.Args, "--get-title") {
		t.Fatalf("args = %v", log.Args)
	}
	if log.Args[len(log.Args)-1] != "https://video.example.com/watch?v=1" {
		t.Fatalf("args = %v", log.Args)
	}
}

// TestSanitizeTitle covers allowed characters, truncation and fallback.
func TestSanitizeTitle(t *testing.T) {
	cases := map[string]string{
		"Hello World - v1.2_final": "Hello World - v1.2_final",
		"a/b\\c:d*e?":              "a_b_c_d_e_",
		"   ":                      "trimmed_video",
		"???":                      "trimmed_video",
		"Café ☕ Ñandú":              "Café _ Ñandú",
		"第1話":                      "第1話",
		strings.Repeat("x", 80):    strings.Repeat("x", 50),
		strings.Repeat("é", 80):    strings.Repeat("é", 50),
	}
	for in, want := range cases {
		if got := SanitizeTitle(in); got != want {
			t.Fatalf("SanitizeTitle(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestBaseNameIsStableAndUnique checks naming layout and uniqueness.
func TestBaseNameIsStableAndUnique(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 30, 45, 0, time.FixedZone("CET", 3600))
	r := domain.TimeRange{Start: "00:01:00", Duration: "00:00:30"}
	first := uuid.MustParse("0195521b-7c00-7000-8000-0000aaaa0001")
	second := uuid.MustParse("0195521b-7c00-7000-8000-0000aaaa0002")

	a := BaseName("Talk", r, now, first)
	if a != "20250301T113045Z-aaaa0001_Talk_00-01-00_00-00-30" {
		t.Fatalf("BaseName = %q", a)
	}
	if a != BaseName("Talk", r, now, first) {
		t.Fatal("BaseName must be deterministic")
	}
	if a == BaseName("Talk", r, now, second) {
		t.Fatal("distinct run ids must yield distinct names")
	}
	if TempName(a) != "temp_"+a+".mp4" || OutputName(a) != a+".mp4" {
		t.Fatalf("temp/output names = %q / %q", TempName(a), OutputName(a))
	}
}

// TestWorkspacePromoteAndRemove checks file moves within the workspace.
func TestWorkspacePromoteAndRemove(t *testing.T) {
	root := t.TempDir()
	ws := NewWorkspace(filepath.Join(root, "tmp"), filepath.Join(root, "out"))
	if err := ws.Ensure(); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	src := ws.TempPath("temp_a.mp4")
	dst := ws.OutputPath("a.mp4")
	mustWriteFile(t, src, "data")
	if err := ws.Promote(src, dst); err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("source should be gone, stat err = %v", err)
	}
	if mustReadFile(t, dst) != "data" {
		t.Fatal("destination content mismatch")
	}

	if got := ws.PartialPath("a.mp4"); got != filepath.Join(root, "out", ".a.mp4.part") {
		t.Fatalf("PartialPath = %q", got)
	}
	if err := ws.Remove(dst, filepath.Join(root, "missing"), ""); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	assertEmptyDir(t, ws.OutputDir)

	if err := (Workspace{}).Ensure(); err == nil {
		t.Fatal("expected error for empty workspace")
	}
}

// TestExecRunnerCapturesOutput runs a real shell when available.
func TestExecRunnerCapturesOutput(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	runner := &execRunner{}

	var lines []string
	result, err := runner.Stream(context.Background(), func(line string) { lines = append(lines, line) }, "/bin/sh", "-c", "echo one; echo two; echo err 1>&2")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Fatalf("lines = %v", lines)
	}
	if result.Stdout != "one\ntwo\n" || strings.TrimSpace(result.Stderr) != "err" {
		t.Fatalf("result = %+v", result)
	}

	result, err = runner.Run(context.Background(), "/bin/sh", "-c", "exit 3")
	if err == nil || result.ExitCode != 3 {
		t.Fatalf("exit code = %d, err = %v", result.ExitCode, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := runner.Run(ctx, "/bin/sh", "-c", "sleep 5"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

// argValue returns the value following flag in args.
func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func hasArg(args []string, target string) bool {
	for _, arg := range args {
		if arg == target {
			return true
		}
	}
	return false
}
