// Package media wraps the local ffmpeg/ffprobe tooling: duration probing,
// audio extraction, keyframe grabs, and the clip cut/concat engine the
// decision output is exported through.
package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/himanishpuri/VideoDNA/pkg/utils"
	"github.com/tidwall/gjson"
)

// ProbeDuration reports the container duration of a media file in seconds.
func ProbeDuration(ctx context.Context, path string) (float64, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(
		ctx,
		"ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	duration := gjson.GetBytes(out, "format.duration").Float()
	if duration <= 0 {
		return 0, fmt.Errorf("ffprobe returned no duration for %s", path)
	}
	return duration, nil
}

// ExtractAudio writes a mono 16 kHz WAV next to the ASR pipeline's liking.
func ExtractAudio(ctx context.Context, videoPath, outputPath string) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
	}

	if err := utils.MakeDir(filepath.Dir(outputPath)); err != nil {
		return err
	}

	tmpPath := outputPath + ".tmp"
	defer os.Remove(tmpPath)

	cmd := exec.CommandContext(
		ctx,
		"ffmpeg",
		"-y",
		"-v", "quiet",
		"-i", videoPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		"-f", "wav",
		tmpPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg audio extract failed: %v (%s)", err, out)
	}

	return utils.MoveFile(tmpPath, outputPath)
}

// ExtractFrame grabs a single frame at the given timestamp as a JPEG.
func ExtractFrame(ctx context.Context, videoPath string, atSec float64, outputPath string) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	if err := utils.MakeDir(filepath.Dir(outputPath)); err != nil {
		return err
	}

	cmd := exec.CommandContext(
		ctx,
		"ffmpeg",
		"-y",
		"-v", "quiet",
		"-ss", fmt.Sprintf("%.3f", atSec),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		outputPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg frame extract failed: %v (%s)", err, out)
	}
	return nil
}

// KeyframeTimes returns sampling timestamps across a video at the given
// interval.
func KeyframeTimes(durationSec, intervalSec float64) []float64 {
	if intervalSec <= 0 {
		intervalSec = 2
	}
	var times []float64
	for t := 0.0; t < durationSec; t += intervalSec {
		times = append(times, t)
	}
	return times
}

// Cutter is the physical slicing engine. Cut results are cached by
// (asset, span) so re-exporting a plan never re-encodes.
type Cutter struct {
	CacheDir string
}

func NewCutter(cacheDir string) (*Cutter, error) {
	if err := utils.MakeDir(cacheDir); err != nil {
		return nil, err
	}
	return &Cutter{CacheDir: cacheDir}, nil
}

func (c *Cutter) clipPath(assetPath string, startSec, endSec float64) string {
	base := strings.TrimSuffix(filepath.Base(assetPath), filepath.Ext(assetPath))
	return filepath.Join(c.CacheDir,
		fmt.Sprintf("%s_%d_%d.mp4", base, int64(startSec*1000), int64(endSec*1000)))
}

// Cut extracts [startSec, endSec] of the asset into the slice cache and
// returns the clip path. Cached slices are reused.
func (c *Cutter) Cut(ctx context.Context, assetPath string, startSec, endSec float64) (string, error) {
	outputPath := c.clipPath(assetPath, startSec, endSec)
	if _, err := os.Stat(outputPath); err == nil {
		return outputPath, nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
	}

	tmpPath := outputPath + ".tmp"
	defer os.Remove(tmpPath)

	cmd := exec.CommandContext(
		ctx,
		"ffmpeg",
		"-y",
		"-v", "quiet",
		"-ss", fmt.Sprintf("%.3f", startSec),
		"-to", fmt.Sprintf("%.3f", endSec),
		"-i", assetPath,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-f", "mp4",
		tmpPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("ffmpeg cut failed: %v (%s)", err, out)
	}

	if err := utils.MoveFile(tmpPath, outputPath); err != nil {
		return "", err
	}
	return outputPath, nil
}

// Concat joins clips in order into outputPath using the concat demuxer.
func (c *Cutter) Concat(ctx context.Context, clipPaths []string, outputPath string) error {
	if len(clipPaths) == 0 {
		return fmt.Errorf("no clips to concatenate")
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
	}

	if err := utils.MakeDir(filepath.Dir(outputPath)); err != nil {
		return err
	}

	var list strings.Builder
	for _, p := range clipPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		fmt.Fprintf(&list, "file '%s'\n", abs)
	}
	listPath := outputPath + ".list.txt"
	if err := os.WriteFile(listPath, []byte(list.String()), 0644); err != nil {
		return fmt.Errorf("writing concat list: %w", err)
	}
	defer os.Remove(listPath)

	tmpPath := outputPath + ".tmp"
	defer os.Remove(tmpPath)

	cmd := exec.CommandContext(
		ctx,
		"ffmpeg",
		"-y",
		"-v", "quiet",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-f", "mp4",
		tmpPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg concat failed: %v (%s)", err, out)
	}

	return utils.MoveFile(tmpPath, outputPath)
}
