package clip

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/lrstanley/go-ytdlp"

	"media-clipper/internal/domain"
)

// DefaultStreamFormat picks separate best video and audio streams and falls
// back to a single muxed stream.
const DefaultStreamFormat = "bestvideo+bestaudio/best"

const maxStreamLocations = 2

// Resolver turns a page URL into a title and direct stream locations.
type Resolver interface {
	Resolve(ctx context.Context, sourceURL string) (domain.MediaSource, CommandLog, error)
}

// ResolverOptions configures YTDLPResolver.
type ResolverOptions struct {
	Executable  string
	Format      string
	CookiesPath string
	Logger      hclog.Logger
}

// YTDLPResolver resolves sources with one yt-dlp invocation printing the
// title followed by one or two stream URLs.
type YTDLPResolver struct {
	executable  string
	format      string
	cookiesPath string
	logger      hclog.Logger
	run         func(ctx context.Context, sourceURL, cookies string) (CommandLog, error)
	stat        func(name string) (os.FileInfo, error)
}

// NewYTDLPResolver constructs the production resolver.
func NewYTDLPResolver(opts ResolverOptions) *YTDLPResolver {
	r := &YTDLPResolver{
		executable:  strings.TrimSpace(opts.Executable),
		format:      strings.TrimSpace(opts.Format),
		cookiesPath: strings.TrimSpace(opts.CookiesPath),
		logger:      opts.Logger,
		stat:        os.Stat,
	}
	if r.format == "" {
		r.format = DefaultStreamFormat
	}
	if r.logger == nil {
		r.logger = hclog.NewNullLogger()
	}
	r.run = r.runYTDLP
	return r
}

// Resolve runs the extractor and parses its output.
func (r *YTDLPResolver) Resolve(ctx context.Context, sourceURL string) (domain.MediaSource, CommandLog, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" {
		return domain.MediaSource{}, CommandLog{}, newPipelineError(
			string(domain.JobStatusResolving), ErrInvalidRequest, "source url is required", CommandLog{}, nil,
		)
	}

	log, runErr := r.run(ctx, sourceURL, r.usableCookies())
	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.MediaSource{}, log, newPipelineError(
				string(domain.JobStatusResolving), ErrResolution, "media resolution cancelled", log, ctxErr,
			)
		}
		return domain.MediaSource{}, log, newPipelineError(
			string(domain.JobStatusResolving), ErrResolution, "yt-dlp could not resolve the source", log, runErr,
		)
	}

	source, err := parseResolverOutput(log.Stdout)
	if err != nil {
		return domain.MediaSource{}, log, newPipelineError(
			string(domain.JobStatusResolving), ErrResolution, err.Error(), log, err,
		)
	}
	return source, log, nil
}

// usableCookies returns the cookies file when it exists, logging otherwise.
func (r *YTDLPResolver) usableCookies() string {
	if r.cookiesPath == "" {
		r.logger.Warn("no cookies file configured, resolving unauthenticated")
		return ""
	}
	if _, err := r.stat(r.cookiesPath); err != nil {
		r.logger.Warn("cookies file not found, resolving unauthenticated", "path", r.cookiesPath)
		return ""
	}
	return r.cookiesPath
}

func (r *YTDLPResolver) commandName() string {
	if r.executable != "" {
		return r.executable
	}
	return "yt-dlp"
}

// runYTDLP drives the extractor through go-ytdlp's command builder. The
// returned log carries the executable and arguments go-ytdlp actually ran.
func (r *YTDLPResolver) runYTDLP(ctx context.Context, sourceURL, cookies string) (CommandLog, error) {
	cmd := ytdlp.New().
		Format(r.format).
		GetTitle().
		GetURL()
	if r.executable != "" {
		cmd = cmd.SetExecutable(r.executable)
	}
	if cookies != "" {
		cmd = cmd.Cookies(cookies)
	}

	res, err := cmd.Run(ctx, sourceURL)
	log := CommandLog{Command: r.commandName(), ExitCode: -1}
	if res != nil {
		log = CommandLog{
			Command:  res.Executable,
			Args:     res.Args,
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
		}
	}
	if err != nil {
		return log, err
	}
	if log.ExitCode != 0 {
		return log, fmt.Errorf("yt-dlp exited with code %d", log.ExitCode)
	}
	return log, nil
}

// parseResolverOutput reads the title line and up to two absolute stream
// URLs from extractor output. go-ytdlp keeps an empty title as an empty
// first line, so line 0 is always the title even when it looks like a URL.
func parseResolverOutput(stdout string) (domain.MediaSource, error) {
	trimmed := strings.TrimRight(strings.ReplaceAll(stdout, "\r\n", "\n"), "\n")
	if strings.TrimSpace(trimmed) == "" {
		return domain.MediaSource{}, errors.New("yt-dlp produced no output")
	}

	lines := strings.Split(trimmed, "\n")
	title := strings.TrimSpace(lines[0])

	streams := make([]string, 0, maxStreamLocations)
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if !isStreamURL(line) {
			continue
		}
		streams = append(streams, line)
		if len(streams) == maxStreamLocations {
			break
		}
	}
	if len(streams) == 0 {
		return domain.MediaSource{}, errors.New("yt-dlp returned no stream locations")
	}

	return domain.MediaSource{
		Title:           SanitizeTitle(title),
		StreamLocations: streams,
	}, nil
}

func isStreamURL(line string) bool {
	u, err := url.Parse(line)
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Host != ""
}
