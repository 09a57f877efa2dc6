package transcribe

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

type (
	Config struct {
		APIKey string `yaml:"api_key" env:"OPENAI_API_KEY"`
		Model  string `yaml:"model" env:"TRANSCRIBE_MODEL" env-default:"whisper-1"`
		Prompt string `yaml:"prompt" env:"TRANSCRIBE_PROMPT"`
	}

	// Transcriber produces a text transcript for an audio file using
	// the OpenAI transcription endpoint. Enabled only when an API key
	// is configured.
	Transcriber struct {
		config Config
		client *openai.Client
	}
)

func New(config Config) *Transcriber {
	if config.APIKey == "" {
		return &Transcriber{config: config}
	}

	return &Transcriber{config: config, client: openai.NewClient(config.APIKey)}
}

func (t *Transcriber) Enabled() bool { return t.client != nil }

// Transcribe submits the audio file for transcription and returns the
// transcript text.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if t.client == nil {
		return "", fmt.Errorf("transcription is not configured")
	}

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.config.Model,
		FilePath: audioPath,
		Prompt:   t.config.Prompt,
	})
	if err != nil {
		return "", fmt.Errorf("transcription of %s failed: %w", audioPath, err)
	}

	return resp.Text, nil
}
