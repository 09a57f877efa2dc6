package internal

import (
	"fmt"

	"github.com/crate-audio/crate/internal/api"
	"github.com/crate-audio/crate/internal/creator"
	"github.com/crate-audio/crate/internal/database"
	"github.com/crate-audio/crate/internal/downloader"
	"github.com/crate-audio/crate/internal/ffmpeg"
	"github.com/crate-audio/crate/internal/http/profileapi"
	"github.com/crate-audio/crate/internal/ingest"
	"github.com/crate-audio/crate/internal/stems"
	"github.com/crate-audio/crate/internal/storage"
	"github.com/crate-audio/crate/internal/transcribe"
	"github.com/ilyakaznacheev/cleanenv"
)

// CrateConfig holds the user config supplied by file or environment.
// Every nested section is owned by the package which consumes it.
type CrateConfig struct {
	RestConfig    api.RestConfig        `yaml:"api"`
	Database      database.Config       `yaml:"database" env-required:"true"`
	IngestService ingest.Config         `yaml:"ingest"`
	Creators      creator.Config        `yaml:"creators"`
	ProfileAPI    profileapi.Config     `yaml:"profile_api"`
	Downloads     downloader.Config     `yaml:"downloads"`
	Format        ffmpeg.Config         `yaml:"formatter"`
	Waveform      ffmpeg.WaveformConfig `yaml:"waveform"`
	Storage       storage.Config        `yaml:"storage"`
	Transcription transcribe.Config     `yaml:"transcription"`
	Stems         stems.Config          `yaml:"stems"`
}

// LoadFromFile reads a YAML configuration file in to a CrateConfig,
// applying environment variable overrides on top.
func (config *CrateConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}

	return nil
}

// LoadFromEnv populates a CrateConfig from environment variables only,
// for deployments which do not ship a config file.
func (config *CrateConfig) LoadFromEnv() error {
	if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	return nil
}
