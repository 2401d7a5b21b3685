// Package tts provides the speech synthesizer used by dynamic audio steps,
// implemented on top of the OpenAI speech API.
package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/FlowDeckHQ/FlowDeck/internal/models"
)

// Synthesizer converts rendered text into an audio payload. Failures are
// non-fatal to the flow; the caller continues without audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*models.AudioPayload, error)
}

// speechService defines the minimal interface for speech synthesis calls.
type speechService interface {
	New(ctx context.Context, body openai.AudioSpeechNewParams, opts ...option.RequestOption) (*http.Response, error)
}

// Opts holds configuration options for the TTS client.
type Opts struct {
	APIKey string
	Voice  openai.AudioSpeechNewParamsVoice
}

// Option configures the TTS client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithVoice overrides the synthesis voice.
func WithVoice(voice openai.AudioSpeechNewParamsVoice) Option {
	return func(o *Opts) { o.Voice = voice }
}

// Client wraps the OpenAI speech service.
type Client struct {
	speech speechService
	voice  openai.AudioSpeechNewParamsVoice
}

// Compile-time check that Client implements Synthesizer.
var _ Synthesizer = (*Client)(nil)

// NewClient initializes a new TTS client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Voice: openai.AudioSpeechNewParamsVoiceAlloy}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{speech: &cli.Audio.Speech, voice: cfg.Voice}, nil
}

// Synthesize renders the given text to MP3 audio and returns it base64
// encoded for embedding in a step update.
func (c *Client) Synthesize(ctx context.Context, text string) (*models.AudioPayload, error) {
	resp, err := c.speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModelTTS1,
		Voice:          c.voice,
		Input:          text,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		slog.Error("TTS.Synthesize: speech request failed", "error", err)
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Error("TTS.Synthesize: reading audio body failed", "error", err)
		return nil, fmt.Errorf("failed to read synthesized audio: %w", err)
	}

	slog.Debug("TTS.Synthesize succeeded", "bytes", len(data))
	return &models.AudioPayload{
		Data:     base64.StdEncoding.EncodeToString(data),
		MimeType: "audio/mpeg",
	}, nil
}
