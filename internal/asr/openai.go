package asr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"livecap/internal/audio"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"
)

// OpenAI transcribes through an OpenAI-compatible /audio/transcriptions
// endpoint (NVIDIA NIM speech, Riva HTTP, whisper servers).
type OpenAI struct {
	client oai.Client
	model  string
	logger *logrus.Logger
}

// Options configure the OpenAI backend.
type Options struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewOpenAI returns a backend for opts. The SDK's own retries are disabled;
// a failed request becomes an error caption.
func NewOpenAI(opts Options, logger *logrus.Logger) (*OpenAI, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("asr: base url must not be empty")
	}
	if opts.Model == "" {
		return nil, errors.New("asr: model must not be empty")
	}
	base := opts.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	reqOpts := []option.RequestOption{
		option.WithBaseURL(base),
		option.WithMaxRetries(0),
	}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	} else {
		// local servers accept anything; the SDK insists on a key
		reqOpts = append(reqOpts, option.WithAPIKey("none"))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: opts.Timeout}))
	}
	return &OpenAI{
		client: oai.NewClient(reqOpts...),
		model:  opts.Model,
		logger: logger,
	}, nil
}

// Recognize uploads the utterance as a mono WAV file.
func (o *OpenAI) Recognize(ctx context.Context, pcm []byte, sampleRate int, languageCode string) (string, error) {
	wav, err := audio.EncodeWAV(audio.FromPCM16LE(pcm), sampleRate)
	if err != nil {
		return "", fmt.Errorf("asr: encode wav: %w", err)
	}
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav"),
		Model: oai.AudioModel(o.model),
	}
	if languageCode != "" && languageCode != Multilingual {
		params.Language = oai.String(languageCode)
	}
	start := time.Now()
	resp, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("asr: transcribe: %w", err)
	}
	if o.logger != nil {
		o.logger.WithFields(logrus.Fields{
			"bytes":  len(pcm),
			"locale": languageCode,
			"took":   time.Since(start).Round(time.Millisecond),
		}).Debug("asr: transcribed")
	}
	return strings.TrimSpace(resp.Text), nil
}
