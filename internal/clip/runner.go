package clip

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"time"
)

// processWaitDelay bounds how long Wait blocks on pipes after the process
// group has been killed.
const processWaitDelay = 5 * time.Second

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
	// Stream behaves like Run and also hands every stdout line to onLine
	// while the process is running.
	Stream(ctx context.Context, onLine func(line string), name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	return r.Stream(ctx, nil, name, args...)
}

// Stream executes one command, forwarding stdout lines as they arrive.
func (r *execRunner) Stream(ctx context.Context, onLine func(line string), name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	configureProcessGroup(cmd)
	cmd.WaitDelay = processWaitDelay

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	var (
		pw       *io.PipeWriter
		pipeDone chan struct{}
	)
	if onLine == nil {
		cmd.Stdout = &stdout
	} else {
		var pr *io.PipeReader
		pr, pw = io.Pipe()
		cmd.Stdout = pw
		pipeDone = make(chan struct{})
		go func() {
			defer close(pipeDone)
			scanner := bufio.NewScanner(pr)
			for scanner.Scan() {
				line := scanner.Text()
				stdout.WriteString(line)
				stdout.WriteByte('\n')
				onLine(strings.TrimSpace(line))
			}
			// keep the writer unblocked if the scanner gave up on a long line
			_, _ = io.Copy(io.Discard, pr)
		}()
	}

	err := cmd.Run()
	if pw != nil {
		_ = pw.Close()
		<-pipeDone
	}

	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		return result, err
	}

	return result, nil
}

// newCommandLog pairs an invocation with its captured result.
func newCommandLog(name string, args []string, result commandResult) CommandLog {
	return CommandLog{
		Command:  name,
		Args:     args,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}
}
