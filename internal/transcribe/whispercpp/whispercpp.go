// Package whispercpp implements transcribe.Engine using the whisper.cpp Go
// bindings (CGO), loading a single model once and creating one whisper.cpp
// context per Transcribe call — contexts aren't safe for concurrent use, but
// the model underneath them is, so the worker pool's concurrent Transcribe
// calls are safe.
package whispercpp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/fuba/youtube2slackthread/internal/transcribe"
	"github.com/fuba/youtube2slackthread/pkg/types"
)

// Engine implements transcribe.Engine backed by a local whisper.cpp model.
type Engine struct {
	model       whisperlib.Model
	defaultLang string
	log         *slog.Logger
}

// New loads the whisper.cpp model at modelPath. defaultLang is used for a
// segment whose Language hint is empty (e.g. "en", "ja"). The caller must
// call Close when the engine is no longer needed.
func New(modelPath, defaultLang string, log *slog.Logger) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("whispercpp: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whispercpp: load model %q: %w", modelPath, err)
	}
	if defaultLang == "" {
		defaultLang = "en"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{model: model, defaultLang: defaultLang, log: log.With("component", "whispercpp")}, nil
}

// Close releases the whisper.cpp model.
func (e *Engine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// Transcribe runs one batch inference over seg.PCM. Each call creates its
// own whisper.cpp context from the shared model so concurrent calls from
// transcribe.WorkerPool don't interfere with each other.
func (e *Engine) Transcribe(ctx context.Context, seg types.Segment) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", fmt.Errorf("whispercpp: context already cancelled: %w", err)
	}

	lang := seg.Language
	if lang == "" {
		lang = e.defaultLang
	}

	samples := pcmToFloat32(seg.PCM)

	wctx, err := e.model.NewContext()
	if err != nil {
		return "", "", fmt.Errorf("whispercpp: create context: %w", err)
	}

	if err := wctx.SetLanguage(lang); err != nil {
		e.log.Warn("failed to set language, using model default", "language", lang, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", "", fmt.Errorf("whispercpp: process segment %s/%d: %w", seg.StreamID, seg.Seq, err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", "", fmt.Errorf("whispercpp: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), lang, nil
}

// Ensure Engine implements transcribe.Engine at compile time.
var _ transcribe.Engine = (*Engine)(nil)
