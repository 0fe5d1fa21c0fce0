package copilot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/opclaw/pkg/opclaw/channels"
	"github.com/jholhewres/opclaw/pkg/opclaw/llm"
	"github.com/jholhewres/opclaw/pkg/opclaw/metrics"
)

const (
	defaultImagePrompt = "Describe this image in detail."
	msgImageFailed     = "Sorry, I had trouble analyzing that image."
)

// VisionHandler answers questions about an attached image.
type VisionHandler struct {
	client  llm.Client
	media   channels.MediaChannel
	system  string
	timeout time.Duration
	out     *replier
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewVisionHandler creates a handler. ch must support attachment downloads
// for Describe to succeed.
func NewVisionHandler(client llm.Client, ch channels.Channel, system string, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *VisionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "vision")
	v := &VisionHandler{
		client:  client,
		system:  system,
		timeout: timeout,
		out:     &replier{ch: ch, logger: logger},
		metrics: m,
		logger:  logger,
	}
	if mc, ok := ch.(channels.MediaChannel); ok {
		v.media = mc
	}
	return v
}

// Describe downloads the message's image and asks the model about it.
func (v *VisionHandler) Describe(ctx context.Context, msg *channels.IncomingMessage, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultImagePrompt
	}
	if v.media == nil || msg.Media == nil {
		return "", fmt.Errorf("%w: no downloadable attachment", ErrAttachmentFetchFailed)
	}

	data, mimeType, err := v.media.DownloadMedia(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAttachmentFetchFailed, err)
	}
	if mimeType == "" {
		mimeType = msg.Media.MimeType
	}
	base, _, _ := strings.Cut(mimeType, ";")
	base = strings.TrimSpace(base)
	if !strings.HasPrefix(base, "image/") {
		return "", fmt.Errorf("%w: attachment is %q, not an image", ErrAttachmentFetchFailed, mimeType)
	}
	mimeType = base

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := v.client.Describe(ctx, v.system, prompt, data, mimeType)
	v.metrics.ObserveModel("describe", time.Since(start))
	if err != nil {
		v.metrics.ModelError("describe", llm.KindOf(err).String())
		return "", fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	return text, nil
}

// Handle replies with the description or a single failure message.
func (v *VisionHandler) Handle(ctx context.Context, msg *channels.IncomingMessage, prompt string) error {
	text, err := v.Describe(ctx, msg, prompt)
	if err != nil {
		v.logger.Error("image query failed", "msg_id", msg.ID, "error", err)
		v.out.reply(ctx, msg, msgImageFailed)
		return err
	}
	v.metrics.Utterance("image")
	v.out.reply(ctx, msg, text)
	return nil
}
