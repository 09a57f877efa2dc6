package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

type (
	WaveformConfig struct {
		Width      int    `yaml:"width" env:"WAVEFORM_WIDTH" env-default:"1200"`
		Height     int    `yaml:"height" env:"WAVEFORM_HEIGHT" env-default:"200"`
		Colors     string `yaml:"colors" env:"WAVEFORM_COLORS" env-default:"white"`
		OutputDir  string `yaml:"output_dir" env:"WAVEFORM_OUTPUT_DIR" env-default:"/tmp/crate/waveforms"`
		BinaryPath string `yaml:"ffmpeg_binary" env:"WAVEFORM_FFMPEG_BINARY_PATH" env-default:"/usr/bin/ffmpeg"`
	}

	// WaveformRenderer renders a static waveform image for an audio
	// file using ffmpeg's showwavespic filter. The transcoding wrapper
	// used for audio extraction has no notion of filter graphs, so
	// this invokes the binary directly.
	WaveformRenderer struct {
		config WaveformConfig
	}
)

func NewWaveformRenderer(config WaveformConfig) *WaveformRenderer {
	return &WaveformRenderer{config: config}
}

// Render produces a PNG waveform for the audio file given, returning
// the output path.
func (renderer *WaveformRenderer) Render(ctx context.Context, audioPath string, baseName string) (string, error) {
	outputPath := filepath.Join(renderer.config.OutputDir, baseName+".png")
	if err := os.MkdirAll(filepath.Dir(outputPath), os.ModePerm); err != nil {
		return "", err
	}

	filter := fmt.Sprintf("showwavespic=s=%dx%d:colors=%s", renderer.config.Width, renderer.config.Height, renderer.config.Colors)
	cmd := exec.CommandContext(ctx, renderer.config.BinaryPath,
		"-y",
		"-i", audioPath,
		"-filter_complex", filter,
		"-frames:v", "1",
		outputPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("waveform render failed: %w: %s", err, lastLine(stderr.String()))
	}

	return outputPath, nil
}

func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	return lines[len(lines)-1]
}
