// Package config provides streamthread's YAML configuration schema and
// loader. Workspace/chat credentials are deliberately NOT part of this
// schema: per spec §6 they are sourced from the environment
// (SLACK_BOT_TOKEN, SLACK_SIGNING_SECRET, SLACK_APP_TOKEN,
// COOKIE_ENCRYPTION_KEY, USER_COOKIES_DB_PATH) so a secret never has to sit
// in a config file on disk.
package config

import (
	"time"

	"github.com/fuba/youtube2slackthread/internal/sentence"
	"github.com/fuba/youtube2slackthread/internal/vad"
)

// LogLevel controls slog verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognized level, or empty (meaning "use
// the default").
func (l LogLevel) IsValid() bool {
	switch l {
	case "", LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is streamthread's root configuration structure, loaded from YAML
// via Load or LoadFromReader.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Slack      SlackConfig      `yaml:"slack"`
	Media      MediaConfig      `yaml:"youtube"`
	VAD        VADConfig        `yaml:"vad"`
	Whisper    WhisperConfig    `yaml:"whisper"`
	Transcribe TranscribeConfig `yaml:"transcribe"`
	Stream     StreamConfig     `yaml:"stream"`
}

// SlackConfig is the slack: section. Credentials stay out of YAML (see the
// package doc). Its fields are decoded but no other package reads them, so
// they do not change how streams post.
type SlackConfig struct {
	// DefaultChannel is a channel name. Not read outside this package: a
	// stream posts to the channel carried in its start request.
	DefaultChannel string `yaml:"default_channel"`

	// IncludeTimestamps is not read outside this package: posted sentences
	// carry no timestamp prefix.
	IncludeTimestamps bool `yaml:"include_timestamps"`

	// SendErrorsToSlack is a *bool so that unset can default to true, which
	// a bare bool can't distinguish from an explicit false. Only
	// PostErrorsToThread reads it, and nothing calls that: a FAILED stream's
	// error is always posted to its thread.
	SendErrorsToSlack *bool `yaml:"send_errors_to_slack"`
}

// PostErrorsToThread reports SendErrorsToSlack, defaulted to true.
func (s SlackConfig) PostErrorsToThread() bool {
	if s.SendErrorsToSlack == nil {
		return true
	}
	return *s.SendErrorsToSlack
}

// ServerConfig holds the HTTP health-endpoint listen address and log level.
type ServerConfig struct {
	// ListenAddr is the health endpoint's listen address (e.g. ":8080").
	// Empty disables the HTTP server entirely.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn",
	// "error". Default: "info".
	LogLevel LogLevel `yaml:"log_level"`
}

// MediaConfig is the youtube: section. Its fields are decoded but no other
// package reads them: internal/app builds the media source with ytdlp.New,
// which takes none of them. That source looks yt-dlp and ffmpeg up on PATH,
// always selects "bestaudio/best", and pipes yt-dlp's output straight into
// ffmpeg without writing a download file.
type MediaConfig struct {
	// YtdlpPath/FfmpegPath name yt-dlp and ffmpeg binaries (not applied).
	YtdlpPath  string `yaml:"ytdlp_path"`
	FfmpegPath string `yaml:"ffmpeg_path"`

	// DownloadDir names a download directory (not applied).
	DownloadDir string `yaml:"download_dir"`

	// Format is a yt-dlp format selector (not applied).
	Format string `yaml:"format"`

	// KeepVideo asks to keep a downloaded file (not applied; no file is
	// written).
	KeepVideo bool `yaml:"keep_video"`
}

// VADConfig is the YAML view of vad.Config. Aggressiveness is a pointer
// because 0 is itself a valid, meaningful level (the most lenient) — a bare
// int field couldn't tell "explicitly set to 0" from "left unset" apart, so
// the YAML schema uses *int and this package is the one place that resolves
// the documented default of 2 (vad.Config.withDefaults deliberately leaves
// this field alone for the same reason).
type VADConfig struct {
	FrameMs        int   `yaml:"frame_ms"`
	Aggressiveness *int  `yaml:"aggressiveness"`
	PrePadFrames   int   `yaml:"pre_pad_frames"`
	PostPadFrames  int   `yaml:"post_pad_frames"`
	MinSegmentMs   int64 `yaml:"min_segment_ms"`
	MaxSegmentMs   int64 `yaml:"max_segment_ms"`

	// FlushSilenceMs, SoftLen, and HardLen tune SentenceAssembler, not
	// VADSegmenter itself — they live here (rather than on vad.Config)
	// because they're about how transcribed fragments get grouped into
	// sentences, and the YAML schema groups all speech-boundary tuning under
	// one vad: section (spec §6).
	FlushSilenceMs int64 `yaml:"flush_silence_ms"`
	SoftLen        int   `yaml:"soft_len"`
	HardLen        int   `yaml:"hard_len"`
}

// ToVADConfig converts v into a vad.Config, applying the Aggressiveness
// default this package owns.
func (v VADConfig) ToVADConfig() vad.Config {
	aggressiveness := 2
	if v.Aggressiveness != nil {
		aggressiveness = *v.Aggressiveness
	}
	return vad.Config{
		SampleRate:     16000,
		FrameMs:        v.FrameMs,
		Aggressiveness: aggressiveness,
		PrePadFrames:   v.PrePadFrames,
		PostPadFrames:  v.PostPadFrames,
		MinSegmentMs:   v.MinSegmentMs,
		MaxSegmentMs:   v.MaxSegmentMs,
	}
}

// ToSentenceConfig converts v's sentence-boundary fields into a
// sentence.Config. sentence.Config.withDefaults resolves zero values, so
// leaving these unset in YAML is valid.
func (v VADConfig) ToSentenceConfig() sentence.Config {
	return sentence.Config{
		SoftLen:        v.SoftLen,
		HardLen:        v.HardLen,
		FlushSilenceMs: v.FlushSilenceMs,
	}
}

// WhisperConfig selects the local speech-to-text model.
type WhisperConfig struct {
	// ModelPath is the path to a whisper.cpp GGML/GGUF model file. Required.
	ModelPath string `yaml:"model_path"`

	// DefaultLanguage is used when a stream doesn't request a specific
	// language. Empty means "en" (whispercpp.New's fallback).
	DefaultLanguage string `yaml:"default_language"`
}

// TranscribeConfig tunes the shared TranscriptionWorkerPool.
type TranscribeConfig struct {
	// Workers bounds concurrent in-flight Transcribe calls process-wide.
	// Default: 4 (the pool's default), whatever the core count; there is no
	// GPU setting.
	Workers int64 `yaml:"workers"`

	// QueueDepth bounds how many segments a single stream may have queued
	// ahead of the worker pool before Submit starts shedding them. Default: 8.
	QueueDepth int64 `yaml:"queue_depth"`

	// MaxStallMs is how long a stream's queue may stay full before the
	// oldest still-waiting segment is dropped (spec §5). Default: 3000.
	MaxStallMs int64 `yaml:"max_stall_ms"`
}

// MaxStall returns the configured max stall duration, defaulted.
func (t TranscribeConfig) MaxStall() time.Duration {
	if t.MaxStallMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(t.MaxStallMs) * time.Millisecond
}

// StreamConfig tunes StreamController/StreamRegistry timing.
type StreamConfig struct {
	// GracePeriodSeconds is how long STOPPING waits for in-flight
	// transcription to drain before abandoning it. Default: 10.
	GracePeriodSeconds int `yaml:"grace_period_seconds"`

	// LingerSeconds is how long a terminal stream stays visible to
	// status/retry before StreamRegistry sweeps it. Default: 60.
	LingerSeconds int `yaml:"linger_seconds"`
}

func (s StreamConfig) gracePeriod() time.Duration {
	if s.GracePeriodSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(s.GracePeriodSeconds) * time.Second
}

func (s StreamConfig) linger() time.Duration {
	if s.LingerSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(s.LingerSeconds) * time.Second
}

// GracePeriod returns the configured grace period, defaulted.
func (c Config) GracePeriod() time.Duration { return c.Stream.gracePeriod() }

// Linger returns the configured linger window, defaulted.
func (c Config) Linger() time.Duration { return c.Stream.linger() }
