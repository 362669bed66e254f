package transcoder

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFFmpegArgs(t *testing.T) {
	req := EngineRequest{
		InputPath:  "/uploads/in.mp4",
		OutputPath: "/outputs/job-1_high.mp4",
		Format:     "mp4",
		Preset:     ResolvePreset("high"),
	}

	args := BuildFFmpegArgs(req)

	assert.Equal(t, []string{
		"-i", "/uploads/in.mp4",
		"-c:v", "libx264",
		"-c:a", "aac",
		"-b:v", "3000k",
		"-b:a", "256k",
		"-s", "1920x1080",
		"-crf", "18",
		"-preset", "veryslow",
		"-tune", "film",
		"-profile:v", "high",
		"-level", "4.1",
		"-f", "mp4",
		"-movflags", "+faststart",
		"-y", "/outputs/job-1_high.mp4",
	}, args)
}

func TestBuildFFmpegArgsNonMP4Format(t *testing.T) {
	req := EngineRequest{
		InputPath:  "/uploads/in.mp4",
		OutputPath: "/outputs/job-1_low.webm",
		Format:     "webm",
		Preset:     ResolvePreset("low"),
	}

	args := BuildFFmpegArgs(req)

	assert.Contains(t, args, "webm")
	assert.NotContains(t, args, "-movflags")
}

func TestBuildFFmpegArgsExtraParametersSorted(t *testing.T) {
	req := EngineRequest{
		InputPath:  "/uploads/in.mp4",
		OutputPath: "/outputs/out.mp4",
		Format:     "mp4",
		Preset:     ResolvePreset("medium"),
		Parameters: map[string]string{
			"threads": "2",
			"an":      "",
			"r":       "24",
		},
	}

	args := BuildFFmpegArgs(req)

	// Flags appear alphabetically, value-less flags stand alone.
	idx := func(s string) int {
		for i, a := range args {
			if a == s {
				return i
			}
		}
		return -1
	}
	require.Greater(t, idx("-an"), 0)
	require.Greater(t, idx("-r"), idx("-an"))
	require.Greater(t, idx("-threads"), idx("-r"))
	assert.Equal(t, "24", args[idx("-r")+1])
	assert.Equal(t, "2", args[idx("-threads")+1])
	assert.Equal(t, "-r", args[idx("-an")+1])
}

func TestScanStatusLines(t *testing.T) {
	// ffmpeg terminates status updates with \r and only writes \n at
	// block boundaries; every update must come out as its own token.
	input := "frame= 25 time=00:00:01.00\rframe= 50 time=00:00:02.00\r\nStream mapping:\nlast line"
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Split(scanStatusLines)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{
		"frame= 25 time=00:00:01.00",
		"frame= 50 time=00:00:02.00",
		"Stream mapping:",
		"last line",
	}, lines)
}

// helperStarter runs the test binary itself in place of ffmpeg/ffprobe;
// TestEngineHelperProcess plays the subprocess role.
type helperStarter struct {
	scenario string
}

func (h helperStarter) Command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestEngineHelperProcess", "--", h.scenario, name)
	cmd.Env = append(os.Environ(), "ENGINE_HELPER_PROCESS=1")
	return cmd
}

func TestEngineHelperProcess(t *testing.T) {
	if os.Getenv("ENGINE_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	scenario, tool := args[0], args[1]

	if strings.Contains(tool, "ffprobe") {
		fmt.Print("10.000000\n")
		os.Exit(0)
	}

	switch scenario {
	case "progress":
		// Interim status updates end with \r, as ffmpeg writes them.
		fmt.Fprint(os.Stderr, "frame=   25 fps= 25 q=28.0 size=     256kB time=00:00:01.00 bitrate=2097.2kbits/s speed=   1x\r")
		fmt.Fprint(os.Stderr, "frame=  125 fps= 25 q=28.0 size=    1024kB time=00:00:05.00 bitrate=1677.8kbits/s speed=   1x\r")
		fmt.Fprint(os.Stderr, "frame=  225 fps= 25 q=28.0 size=    2048kB time=00:00:09.00 bitrate=1864.1kbits/s speed=   1x\r")
		fmt.Fprint(os.Stderr, "video:2000kB audio:48kB subtitle:0kB other streams:0kB global headers:0kB\n")
		os.Exit(0)
	case "fail":
		fmt.Fprint(os.Stderr, "frame=   25 fps= 25 q=28.0 size=     256kB time=00:00:01.00 bitrate=2097.2kbits/s speed=   1x\r")
		fmt.Fprint(os.Stderr, "out.mp4: Invalid argument\n")
		os.Exit(1)
	}
	os.Exit(0)
}

func newHelperEngine(scenario string) *FFmpegEngine {
	engine := NewFFmpegEngine(hclog.NewNullLogger(), "ffmpeg", "ffprobe")
	engine.starter = helperStarter{scenario: scenario}
	return engine
}

func TestFFmpegEngineReportsLiveProgress(t *testing.T) {
	engine := newHelperEngine("progress")

	var got []float64
	err := engine.Run(context.Background(), EngineRequest{
		InputPath:  "in.mp4",
		OutputPath: "out.mp4",
		Format:     "mp4",
		Preset:     ResolvePreset("medium"),
	}, func(percent float64) {
		got = append(got, percent)
	})
	require.NoError(t, err)

	// 1s, 5s, 9s of a 10s input.
	require.Len(t, got, 3)
	assert.InDelta(t, 10, got[0], 0.5)
	assert.InDelta(t, 50, got[1], 0.5)
	assert.InDelta(t, 90, got[2], 0.5)
}

func TestFFmpegEngineFailureMessageVerbatim(t *testing.T) {
	engine := newHelperEngine("fail")

	err := engine.Run(context.Background(), EngineRequest{
		InputPath:  "in.mp4",
		OutputPath: "out.mp4",
		Format:     "mp4",
		Preset:     ResolvePreset("medium"),
	}, nil)
	require.Error(t, err)
	assert.Equal(t, "out.mp4: Invalid argument", err.Error())
}

func TestParseProgressTime(t *testing.T) {
	tests := []struct {
		name string
		line string
		want time.Duration
		ok   bool
	}{
		{
			name: "status line",
			line: "frame=  250 fps= 25 q=28.0 size=    1024kB time=00:01:30.50 bitrate= 928.4kbits/s speed=1.01x",
			want: time.Minute + 30*time.Second + 500*time.Millisecond,
			ok:   true,
		},
		{
			name: "hours",
			line: "size= 81920kB time=01:02:03.40 bitrate= 175.9kbits/s",
			want: time.Hour + 2*time.Minute + 3*time.Second + 400*time.Millisecond,
			ok:   true,
		},
		{
			name: "no time field",
			line: "Stream mapping:",
			ok:   false,
		},
		{
			name: "empty",
			line: "",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseProgressTime(tt.line)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
