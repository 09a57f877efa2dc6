package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/crate-audio/crate/pkg/logger"
	"github.com/floostack/transcoder/ffmpeg"
)

var log = logger.Get("FFmpeg")

type (
	Config struct {
		FfmpegBinaryPath  string `yaml:"ffmpeg_binary" env:"FORMAT_FFMPEG_BINARY_PATH" env-default:"/usr/bin/ffmpeg"`
		FfprobeBinaryPath string `yaml:"ffprobe_binary" env:"FORMAT_FFPROBE_BINARY_PATH" env-default:"/usr/bin/ffprobe"`
		OutputDir         string `yaml:"output_dir" env:"FORMAT_OUTPUT_DIR" env-default:"/tmp/crate/audio"`
		AudioCodec        string `yaml:"audio_codec" env:"FORMAT_AUDIO_CODEC" env-default:"libmp3lame"`
		OutputFormat      string `yaml:"output_format" env:"FORMAT_OUTPUT_FORMAT" env-default:"mp3"`
	}

	// AudioExtractor strips the audio track out of downloaded videos
	// in to the configured audio format.
	AudioExtractor struct {
		config Config
	}
)

func NewAudioExtractor(config Config) *AudioExtractor {
	return &AudioExtractor{config: config}
}

// Extract transcodes the video at inputPath in to an audio-only file
// named after the base name given, returning the output path. Progress
// updates from the underlying command are consumed and discarded.
func (extractor *AudioExtractor) Extract(ctx context.Context, inputPath string, baseName string) (string, error) {
	ffmpegCfg := &ffmpeg.Config{
		ProgressEnabled: true,
		FfmpegBinPath:   extractor.config.FfmpegBinaryPath,
		FfprobeBinPath:  extractor.config.FfprobeBinaryPath,
	}

	cmdContext, cancel := context.WithCancel(ctx)
	defer cancel()

	outputPath := filepath.Join(extractor.config.OutputDir, fmt.Sprintf("%s.%s", baseName, extractor.config.OutputFormat))
	if err := os.MkdirAll(filepath.Dir(outputPath), os.ModePerm); err != nil {
		return "", err
	}

	skipVideo := true
	opts := &ffmpeg.Options{
		SkipVideo:    &skipVideo,
		AudioCodec:   &extractor.config.AudioCodec,
		OutputFormat: &extractor.config.OutputFormat,
	}

	transcoderInstance := ffmpeg.
		New(ffmpegCfg).
		Input(inputPath).
		Output(outputPath).
		WithContext(&cmdContext)

	progressChannel, err := transcoderInstance.Start(opts)
	if err != nil {
		return "", parseFfmpegError(err)
	}

	for {
		prog, ok := <-progressChannel
		if !ok {
			break
		}

		log.Verbosef("Audio extraction of %s progress: %v\n", inputPath, prog)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	return outputPath, nil
}

// parseFfmpegError tries to pick the relevant information out of the
// HUGE output log that ffmpeg returns on failure. The error contains
// lots of information about how the binary was compiled... this is
// useless info, we just want the 'message' JSON that is encoded
// inside.
func parseFfmpegError(err error) error {
	messageMatcher := regexp.MustCompile(`(?s)message: ({.*})`)
	groups := messageMatcher.FindStringSubmatch(err.Error())
	if len(groups) == 0 {
		return trimFfmpegError(err)
	}

	var out map[string]interface{}
	if jsonErr := json.Unmarshal([]byte(groups[1]), &out); jsonErr != nil {
		return errors.New(groups[1])
	}

	if exception, ok := out["error"].(map[string]interface{}); ok {
		if message, ok := exception["string"].(string); ok {
			return errors.New(message)
		}
	}

	return trimFfmpegError(err)
}

func trimFfmpegError(err error) error {
	lines := strings.Split(strings.TrimSpace(err.Error()), "\n")
	if len(lines) > 4 {
		lines = lines[len(lines)-4:]
	}

	return errors.New(strings.Join(lines, "\n"))
}
