package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// validFrameMs are the frame durations vad.Config accepts (spec §4.7).
var validFrameMs = []int{10, 20, 30}

// Load reads the YAML configuration file at path and returns a validated
// Config.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values, returning a
// joined error listing every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Whisper.ModelPath == "" {
		errs = append(errs, errors.New("whisper.model_path is required"))
	}

	if cfg.VAD.FrameMs != 0 && !contains(validFrameMs, cfg.VAD.FrameMs) {
		errs = append(errs, fmt.Errorf("vad.frame_ms %d is invalid; valid values: 10, 20, 30", cfg.VAD.FrameMs))
	}
	if cfg.VAD.Aggressiveness != nil && (*cfg.VAD.Aggressiveness < 0 || *cfg.VAD.Aggressiveness > 3) {
		errs = append(errs, fmt.Errorf("vad.aggressiveness %d is out of range [0, 3]", *cfg.VAD.Aggressiveness))
	}
	if cfg.VAD.MinSegmentMs < 0 {
		errs = append(errs, errors.New("vad.min_segment_ms must not be negative"))
	}
	if cfg.VAD.MaxSegmentMs != 0 && cfg.VAD.MinSegmentMs != 0 && cfg.VAD.MaxSegmentMs < cfg.VAD.MinSegmentMs {
		errs = append(errs, errors.New("vad.max_segment_ms must be >= vad.min_segment_ms"))
	}

	if cfg.Transcribe.Workers < 0 {
		errs = append(errs, errors.New("transcribe.workers must not be negative"))
	}
	if cfg.Transcribe.QueueDepth < 0 {
		errs = append(errs, errors.New("transcribe.queue_depth must not be negative"))
	}

	if cfg.Stream.GracePeriodSeconds < 0 {
		errs = append(errs, errors.New("stream.grace_period_seconds must not be negative"))
	}
	if cfg.Stream.LingerSeconds < 0 {
		errs = append(errs, errors.New("stream.linger_seconds must not be negative"))
	}

	return errors.Join(errs...)
}

func contains(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
