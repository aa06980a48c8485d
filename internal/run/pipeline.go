package run

import (
	"livecap/internal/asr"
	"livecap/internal/caption"
	"livecap/internal/capture"
	"livecap/internal/capture/device"
	"livecap/internal/config"
	"livecap/internal/dispatch"
	"livecap/internal/metrics"
	"livecap/internal/segment"
	"livecap/internal/segment/webrtc"
	"livecap/internal/session"
	"livecap/internal/translate"

	"github.com/sirupsen/logrus"
)

// Pipeline overrides the collaborators New would otherwise build from config.
type Pipeline struct {
	Sources    capture.Factory
	Recognizer asr.Recognizer
	Translator translate.Translator
}

// SourceFactory returns a factory for the configured audio input.
func SourceFactory(cfg *config.Config) capture.Factory {
	if cfg.Audio.Source == "file" {
		path, realtime := cfg.Audio.FilePath, cfg.Audio.Realtime
		return func() capture.Source { return capture.NewFileSource(path, realtime) }
	}
	opts := device.Options{
		LoopbackHint:    cfg.Audio.LoopbackDevice,
		FramesPerBuffer: cfg.Audio.FramesPerBuffer,
	}
	return func() capture.Source { return device.New(opts) }
}

// SegmentConfig converts the vad section.
func SegmentConfig(cfg *config.Config) segment.Config {
	return segment.Config{
		SilenceThreshold:  cfg.VAD.SilenceThreshold,
		SilenceDuration:   config.Millis(cfg.VAD.SilenceMS),
		MinSpeechDuration: config.Millis(cfg.VAD.MinSpeechMS),
		MaxChunkDuration:  config.Millis(cfg.VAD.MaxChunkMS),
	}
}

// ClassifierFactory returns the WebRTC classifier builder when vad.mode is
// webrtc, nil otherwise.
func ClassifierFactory(cfg *config.Config) func(int) (segment.Classifier, error) {
	if cfg.VAD.Mode != "webrtc" {
		return nil
	}
	aggr := cfg.VAD.Aggressiveness
	return func(rate int) (segment.Classifier, error) {
		return webrtc.New(rate, aggr)
	}
}

// NewRecognizer builds the ASR backend from the asr section.
func NewRecognizer(cfg *config.Config, logger *logrus.Logger) (asr.Recognizer, error) {
	rec, err := asr.NewOpenAI(asr.Options{
		BaseURL: cfg.ASR.BaseURL,
		APIKey:  cfg.ASR.APIKey,
		Model:   cfg.ASR.Model,
		Timeout: config.Seconds(cfg.ASR.TimeoutSec),
	}, logger)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// NewTranslator builds the two-tier translator. Without an API key it
// returns nil and sessions that need translation are refused.
func NewTranslator(cfg *config.Config, logger *logrus.Logger) (translate.Translator, error) {
	if cfg.Translate.APIKey == "" {
		logger.Warn("translate.api_key not set (NVIDIA_API_KEY); translation disabled")
		return nil, nil
	}
	c, err := translate.NewChatCompleter(cfg.Translate.BaseURL, cfg.Translate.APIKey, config.Seconds(cfg.Translate.TimeoutSec))
	if err != nil {
		return nil, err
	}
	return translate.NewTwoTier(c, translate.Config{
		PrimaryModel:  cfg.Translate.PrimaryModel,
		FallbackModel: cfg.Translate.FallbackModel,
		Temperature:   cfg.Translate.Temperature,
		MaxTokens:     cfg.Translate.MaxTokens,
	}, logger), nil
}

// NewController wires a session controller from cfg. Nil fields of p are
// built from config.
func NewController(cfg *config.Config, logger *logrus.Logger, m *metrics.Metrics, b *caption.Broadcaster, p Pipeline) (*session.Controller, error) {
	overflow, err := dispatch.ParseOverflow(cfg.Dispatch.Overflow)
	if err != nil {
		return nil, err
	}
	if p.Sources == nil {
		p.Sources = SourceFactory(cfg)
	}
	if p.Recognizer == nil {
		if p.Recognizer, err = NewRecognizer(cfg, logger); err != nil {
			return nil, err
		}
	}
	if p.Translator == nil {
		if p.Translator, err = NewTranslator(cfg, logger); err != nil {
			return nil, err
		}
	}
	return session.NewController(session.Deps{
		Sources:      p.Sources,
		Recognizer:   p.Recognizer,
		Translator:   p.Translator,
		Broadcaster:  b,
		Segment:      SegmentConfig(cfg),
		Classifier:   ClassifierFactory(cfg),
		Workers:      cfg.Dispatch.Workers,
		QueueSize:    cfg.Dispatch.QueueSize,
		Overflow:     overflow,
		FrameSamples: cfg.Audio.FramesPerBuffer,
		GapTimeout:   config.Millis(cfg.Reorder.GapTimeoutMS),
		DrainTimeout: config.Millis(cfg.Dispatch.DrainTimeoutMS),
		Logger:       logger,
		Metrics:      m,
	}), nil
}
