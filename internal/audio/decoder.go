package audio

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DecodeOptions controls where decoding starts and how fast it plays
type DecodeOptions struct {
	StartMs int64
	Rate    float64 // 1 for normal speed
}

// FFmpegDecoder uses FFmpeg for audio decoding
type FFmpegDecoder struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegDecoder creates a new FFmpeg-based decoder
func NewFFmpegDecoder() (*FFmpegDecoder, error) {
	// Find ffmpeg and ffprobe in PATH
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	return &FFmpegDecoder{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}, nil
}

func isRemote(locator string) bool {
	return strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://")
}

// atempoFilter builds an atempo chain for rate. A single atempo stage
// only accepts factors in [0.5, 2].
func atempoFilter(rate float64) string {
	if rate <= 0 || rate == 1 {
		return ""
	}
	var stages []string
	for rate > 2 {
		stages = append(stages, "atempo=2.0")
		rate /= 2
	}
	for rate < 0.5 {
		stages = append(stages, "atempo=0.5")
		rate /= 0.5
	}
	stages = append(stages, "atempo="+strconv.FormatFloat(rate, 'f', -1, 64))
	return strings.Join(stages, ",")
}

// decodeArgs builds the ffmpeg arguments producing raw PCM for output
func decodeArgs(locator string, output Output, opts DecodeOptions) []string {
	args := []string{"-nostdin", "-v", "error"}

	if isRemote(locator) {
		args = append(args, "-reconnect", "1", "-reconnect_streamed", "1")
	}

	// Add seek position if not starting from beginning
	if opts.StartMs > 0 {
		startSec := float64(opts.StartMs) / 1000.0
		args = append(args, "-ss", fmt.Sprintf("%.3f", startSec))
	}

	args = append(args, "-i", locator)

	if filter := atempoFilter(opts.Rate); filter != "" {
		args = append(args, "-filter:a", filter)
	}

	// Output format: signed 16-bit little-endian
	return append(args,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(output.Channels()),
		"-ar", strconv.Itoa(output.SampleRate()),
		"-",
	)
}

// Decode decodes locator (a path or an http(s) URL) and writes PCM data to output
func (d *FFmpegDecoder) Decode(ctx context.Context, locator string, output Output, opts DecodeOptions) error {
	cmd := exec.CommandContext(ctx, d.ffmpegPath, decodeArgs(locator, output, opts)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	// Ensure process is killed and reaped on any exit path
	waited := false
	defer func() {
		if !waited && cmd.Process != nil {
			cmd.Process.Kill()
			cmd.Wait()
		}
	}()

	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := output.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("failed to write to output: %w", writeErr)
			}
		}
		if err != nil {
			break
		}
	}

	waited = true
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

// Duration returns the duration of the media at locator
func (d *FFmpegDecoder) Duration(locator string) (time.Duration, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		locator,
	}

	cmd := exec.Command(d.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	durationStr := strings.TrimSpace(string(output))
	durationSec, err := strconv.ParseFloat(durationStr, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}

	return time.Duration(durationSec * float64(time.Second)), nil
}

// Close releases decoder resources
func (d *FFmpegDecoder) Close() error {
	return nil
}
