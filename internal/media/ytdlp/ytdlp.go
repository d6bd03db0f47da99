// Package ytdlp implements internal/media.Source by piping a live stream
// through yt-dlp and ffmpeg child processes: yt-dlp resolves the URL to a
// direct media URL and streams container bytes to stdout, ffmpeg decodes
// and resamples that to 16-bit little-endian mono PCM at media.SampleRate
// on its own stdout, which becomes the PcmStream Reader.
package ytdlp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/fuba/youtube2slackthread/internal/apierr"
	"github.com/fuba/youtube2slackthread/internal/media"
)

// closeDeadline bounds how long Close waits for the child processes to exit
// on their own before they are killed (spec §4.6: "≤2 s").
const closeDeadline = 2 * time.Second

// Source opens PCM streams by shelling out to yt-dlp piped through ffmpeg.
type Source struct {
	// YtdlpPath and FfmpegPath override the binaries looked up on PATH.
	// Empty means "yt-dlp"/"ffmpeg".
	YtdlpPath  string
	FfmpegPath string
	log        *slog.Logger
}

// New builds a Source. log may be nil to use slog.Default().
func New(log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	return &Source{log: log.With("component", "ytdlp")}
}

// Open starts the yt-dlp | ffmpeg pipeline for url. cookies, if non-empty,
// is written to a private temp file and passed to yt-dlp via --cookies; the
// core never parses its contents.
func (s *Source) Open(ctx context.Context, url string, cookies []byte) (media.PcmStream, error) {
	var cookieFile string
	if len(cookies) > 0 {
		f, err := os.CreateTemp("", "streamthread-cookies-*.txt")
		if err != nil {
			return nil, fmt.Errorf("ytdlp: write cookie file: %w", err)
		}
		cookieFile = f.Name()
		if _, err := f.Write(cookies); err != nil {
			f.Close()
			os.Remove(cookieFile)
			return nil, fmt.Errorf("ytdlp: write cookie file: %w", err)
		}
		f.Close()
	}

	ytArgs := []string{
		"--quiet", "--no-playlist", "--no-warnings",
		"-f", "bestaudio/best",
		"-o", "-",
	}
	if cookieFile != "" {
		ytArgs = append(ytArgs, "--cookies", cookieFile)
	}
	ytArgs = append(ytArgs, url)

	ytBin := s.YtdlpPath
	if ytBin == "" {
		ytBin = "yt-dlp"
	}
	ffBin := s.FfmpegPath
	if ffBin == "" {
		ffBin = "ffmpeg"
	}

	ytCmd := exec.CommandContext(ctx, ytBin, ytArgs...)
	ytStdout, err := ytCmd.StdoutPipe()
	if err != nil {
		cleanupCookieFile(cookieFile)
		return nil, fmt.Errorf("ytdlp: pipe yt-dlp stdout: %w", err)
	}

	ffCmd := exec.CommandContext(ctx, ffBin,
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-vn", "-sn",
		"-ac", "1",
		"-ar", strconv.Itoa(media.SampleRate),
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"pipe:1",
	)
	ffCmd.Stdin = ytStdout
	ffStdout, err := ffCmd.StdoutPipe()
	if err != nil {
		cleanupCookieFile(cookieFile)
		return nil, fmt.Errorf("ytdlp: pipe ffmpeg stdout: %w", err)
	}

	if err := ytCmd.Start(); err != nil {
		cleanupCookieFile(cookieFile)
		return nil, classifyStartErr(err)
	}
	if err := ffCmd.Start(); err != nil {
		_ = ytCmd.Process.Kill()
		cleanupCookieFile(cookieFile)
		return nil, fmt.Errorf("ytdlp: start ffmpeg: %w", err)
	}

	ps := &pcmStream{
		ytCmd:      ytCmd,
		ffCmd:      ffCmd,
		stdout:     ffStdout,
		cookieFile: cookieFile,
		log:        s.log,
	}

	// yt-dlp exits with a non-zero code immediately for a dead URL or
	// auth failure; give it a moment before declaring success so those
	// surface as MediaStartFailure instead of a silent empty stream.
	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
		ps.Close()
		return nil, ctx.Err()
	}
	if ytCmd.ProcessState != nil && !ytCmd.ProcessState.Success() {
		ps.Close()
		return nil, &apierr.MediaStartFailure{Class: apierr.MediaUnavailable, Cause: fmt.Errorf("yt-dlp exited early")}
	}

	return ps, nil
}

func cleanupCookieFile(path string) {
	if path != "" {
		os.Remove(path)
	}
}

// classifyStartErr maps a failure to exec yt-dlp to a MediaStartFailure.
// yt-dlp's stderr is never read, so this package tags every start failure
// MediaUnavailable; none is classified as auth, not_found or network.
func classifyStartErr(err error) error {
	return &apierr.MediaStartFailure{Class: apierr.MediaUnavailable, Cause: fmt.Errorf("ytdlp: start yt-dlp: %w", err)}
}

// pcmStream adapts the yt-dlp|ffmpeg pipeline to media.PcmStream.
type pcmStream struct {
	mu         sync.Mutex
	ytCmd      *exec.Cmd
	ffCmd      *exec.Cmd
	stdout     io.ReadCloser
	cookieFile string
	closed     bool
	log        *slog.Logger
}

func (p *pcmStream) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

func (p *pcmStream) Title() (string, bool) {
	// yt-dlp is run with -o - (no --print), so no metadata is captured
	// today; a future revision can tee --print "%(title)s" to a side
	// channel if the header message needs a video title.
	return "", false
}

func (p *pcmStream) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	p.stdout.Close()
	waitWithDeadline(p.ffCmd, closeDeadline, p.log)
	waitWithDeadline(p.ytCmd, closeDeadline, p.log)
	cleanupCookieFile(p.cookieFile)
	return nil
}

func waitWithDeadline(cmd *exec.Cmd, deadline time.Duration, log *slog.Logger) {
	if cmd.Process == nil {
		return
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(deadline):
		log.Warn("ytdlp: child process did not exit in time, killing", "pid", cmd.Process.Pid)
		_ = cmd.Process.Kill()
		<-done
	}
}

// Ensure Source implements media.Source at compile time.
var _ media.Source = (*Source)(nil)
