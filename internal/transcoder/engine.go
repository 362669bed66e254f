package transcoder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// EngineRequest is the invocation handed to the external transcoding
// engine: input, output, resolved preset parameters, and any opaque extra
// parameters the caller supplied.
type EngineRequest struct {
	InputPath  string
	OutputPath string
	Format     string
	Preset     Preset
	Parameters map[string]string
}

// Engine is the black-box boundary to the external transcoding process.
// Run emits zero or more progress callbacks (percent complete, 0.0-100.0)
// and exactly one terminal signal: a nil return on success or an error.
// Cancelling the context stops the underlying invocation.
type Engine interface {
	Run(ctx context.Context, req EngineRequest, onProgress func(percent float64)) error
}

// CommandStarter abstracts process execution so tests can substitute a
// fake engine process.
type CommandStarter interface {
	Command(ctx context.Context, name string, args ...string) *exec.Cmd
}

type execStarter struct{}

func (execStarter) Command(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}

// FFmpegEngine invokes ffmpeg as a subprocess and parses its stderr for
// progress information.
type FFmpegEngine struct {
	logger      hclog.Logger
	starter     CommandStarter
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegEngine creates an engine using the given binary paths.
func NewFFmpegEngine(logger hclog.Logger, ffmpegPath, ffprobePath string) *FFmpegEngine {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegEngine{
		logger:      logger.Named("ffmpeg"),
		starter:     execStarter{},
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}
}

// Run executes ffmpeg for the request, reporting fractional progress
// computed from the source duration.
func (e *FFmpegEngine) Run(ctx context.Context, req EngineRequest, onProgress func(percent float64)) error {
	duration, err := e.probeDuration(ctx, req.InputPath)
	if err != nil {
		e.logger.Warn("failed to probe input duration, progress reporting disabled",
			"input", req.InputPath, "error", err)
	}

	args := BuildFFmpegArgs(req)
	e.logger.Info("executing ffmpeg", "args", strings.Join(args, " "))

	cmd := e.starter.Command(ctx, e.ffmpegPath, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	var lastLine string
	scanner := bufio.NewScanner(stderr)
	scanner.Split(scanStatusLines)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) != "" {
			lastLine = line
		}
		if onProgress == nil || duration <= 0 {
			continue
		}
		if elapsed, ok := parseProgressTime(line); ok {
			percent := elapsed.Seconds() / duration.Seconds() * 100
			onProgress(percent)
		}
	}
	if scanErr := scanner.Err(); scanErr != nil {
		e.logger.Warn("stderr scan ended early", "error", scanErr)
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if lastLine != "" {
			return fmt.Errorf("%s", strings.TrimSpace(lastLine))
		}
		return fmt.Errorf("ffmpeg process failed: %w", err)
	}
	return nil
}

// probeDuration asks ffprobe for the container duration of the input.
func (e *FFmpegEngine) probeDuration(ctx context.Context, inputPath string) (time.Duration, error) {
	cmd := e.starter.Command(ctx, e.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// BuildFFmpegArgs constructs the ffmpeg command line for a request.
func BuildFFmpegArgs(req EngineRequest) []string {
	args := []string{
		"-i", req.InputPath,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-b:v", req.Preset.VideoBitrate,
		"-b:a", req.Preset.AudioBitrate,
		"-s", req.Preset.Resolution,
		"-crf", strconv.Itoa(req.Preset.CRF),
		"-preset", "veryslow",
		"-tune", "film",
		"-profile:v", "high",
		"-level", "4.1",
	}

	switch req.Format {
	case "mp4":
		args = append(args, "-f", "mp4", "-movflags", "+faststart")
	case "":
	default:
		args = append(args, "-f", req.Format)
	}

	// Opaque extra parameters extend the invocation. Sorted for a
	// deterministic command line.
	if len(req.Parameters) > 0 {
		keys := make([]string, 0, len(req.Parameters))
		for k := range req.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			args = append(args, "-"+k)
			if v := req.Parameters[k]; v != "" {
				args = append(args, v)
			}
		}
	}

	return append(args, "-y", req.OutputPath)
}

// scanStatusLines splits stderr on carriage returns as well as newlines.
// ffmpeg rewrites its status line in place, terminating each update with
// \r and only writing \n at block boundaries, so newline splitting would
// buffer the whole run's updates into one late token.
func scanStatusLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			return i + 2, data[:i], nil
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var progressTimeRegex = regexp.MustCompile(`time=(\d{2}):(\d{2}):(\d{2}\.\d+)`)

// parseProgressTime extracts the elapsed output time from an ffmpeg
// stderr status line.
func parseProgressTime(line string) (time.Duration, bool) {
	matches := progressTimeRegex.FindStringSubmatch(line)
	if matches == nil {
		return 0, false
	}
	hours, _ := strconv.Atoi(matches[1])
	minutes, _ := strconv.Atoi(matches[2])
	seconds, _ := strconv.ParseFloat(matches[3], 64)
	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second)), true
}
