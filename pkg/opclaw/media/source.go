package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/pion/webrtc/v3/pkg/media/oggreader"
)

// FrameSource yields 20 ms Opus frames until io.EOF.
type FrameSource interface {
	NextFrame() ([]byte, error)
	Close() error
}

// Transcoder opens a stream URL as a FrameSource.
type Transcoder interface {
	Open(ctx context.Context, streamURL string) (FrameSource, error)
}

// FFmpeg transcodes any input ffmpeg understands into Ogg/Opus at 48 kHz
// stereo with one 20 ms packet per page.
type FFmpeg struct {
	path   string
	logger *slog.Logger
}

// NewFFmpeg creates a transcoder. An empty path uses "ffmpeg" from PATH.
func NewFFmpeg(path string, logger *slog.Logger) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpeg{path: path, logger: logger.With("component", "ffmpeg")}
}

// Open starts ffmpeg for the stream and returns its frame reader.
func (f *FFmpeg) Open(ctx context.Context, streamURL string) (FrameSource, error) {
	bin, err := exec.LookPath(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrToolMissing, f.path)
	}

	ctx, cancel := context.WithCancel(ctx)
	args := []string{"-hide_banner", "-loglevel", "error"}
	if isURL(streamURL) {
		args = append(args, "-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5")
	}
	args = append(args,
		"-i", streamURL,
		"-vn",
		"-c:a", "libopus",
		"-b:a", "96k",
		"-ar", "48000",
		"-ac", "2",
		"-frame_duration", "20",
		"-page_duration", "20000",
		"-f", "ogg",
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, bin, args...)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}

	src, err := NewOggSource(stdout)
	if err != nil {
		cancel()
		_ = cmd.Wait()
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("ffmpeg: %s", msg)
		}
		return nil, err
	}

	f.logger.Debug("ffmpeg started", "pid", cmd.Process.Pid)
	src.closer = func() error {
		cancel()
		err := cmd.Wait()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() != nil {
			// Killed by us.
			return nil
		}
		return err
	}
	return src, nil
}

// OggSource reads Opus packets from an Ogg stream.
type OggSource struct {
	reader *oggreader.OggReader
	closer func() error
	once   sync.Once
}

// NewOggSource parses the Ogg ID header and prepares to read audio pages.
func NewOggSource(r io.Reader) (*OggSource, error) {
	reader, header, err := oggreader.NewWith(r)
	if err != nil {
		return nil, fmt.Errorf("ogg header: %w", err)
	}
	if header.SampleRate != 48000 {
		return nil, fmt.Errorf("ogg: unsupported sample rate %d", header.SampleRate)
	}
	return &OggSource{reader: reader}, nil
}

// NextFrame returns the next audio packet, skipping Opus metadata pages.
func (s *OggSource) NextFrame() ([]byte, error) {
	for {
		payload, _, err := s.reader.ParseNextPage()
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, io.EOF
			}
			return nil, err
		}
		if len(payload) == 0 || bytes.HasPrefix(payload, []byte("OpusHead")) || bytes.HasPrefix(payload, []byte("OpusTags")) {
			continue
		}
		return payload, nil
	}
}

// Close stops the producer, if any.
func (s *OggSource) Close() error {
	var err error
	s.once.Do(func() {
		if s.closer != nil {
			err = s.closer()
		}
	})
	return err
}
