package copilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/opclaw/pkg/opclaw/channels"
	"github.com/jholhewres/opclaw/pkg/opclaw/media"
	"github.com/jholhewres/opclaw/pkg/opclaw/metrics"
)

// Operator-facing replies of the media handlers.
const (
	msgNotInVoice     = "You need to be in a voice channel to play music!"
	msgPlayFailed     = "Something went wrong! I couldn't find a track for that query."
	msgNothingToSkip  = "There is no music playing to skip."
	msgSkipped        = "⏭️ Skipped the current song."
	msgSkipFailed     = "Something went wrong while skipping."
	msgNothingToStop  = "There is nothing to stop."
	msgStopped        = "⏹️ Stopped the music and cleared the queue."
	msgNothingPlaying = "There is no music playing right now."
	msgNothingToPause = "There is no music playing to pause or resume."
	msgPaused         = "⏸️ Paused the music."
	msgResumed        = "▶️ Resumed the music."
	msgQueueEmpty     = "No more songs in the queue."
	msgPlayerError    = "A player error occurred! The operation has been cancelled."
	msgConnectError   = "Could not connect to the voice channel. Please check my permissions."

	queueEmbedColor  = 0x0099ff
	queueEmbedTracks = 10
)

// MediaEngine plays audio in guild voice channels.
type MediaEngine interface {
	Play(ctx context.Context, req media.PlayRequest) (*media.Track, error)
	Queue(guildID string) (*media.Queue, bool)
}

// ActionRunner handles ExecuteCommand capabilities.
type ActionRunner interface {
	Run(ctx context.Context, msg *channels.IncomingMessage, description string) error
}

// Dispatcher routes structured calls to their capability handlers.
type Dispatcher struct {
	out     *replier
	voice   channels.VoiceChannel
	media   MediaEngine
	actions ActionRunner
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewDispatcher creates a dispatcher. voice may be nil, in which case play
// requests fail their voice-channel precondition.
func NewDispatcher(ch channels.Channel, engine MediaEngine, actions ActionRunner, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "dispatch")
	if engine == nil {
		engine = noMedia{}
	}
	d := &Dispatcher{
		out:     &replier{ch: ch, logger: logger},
		media:   engine,
		actions: actions,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
	if vc, ok := ch.(channels.VoiceChannel); ok {
		d.voice = vc
	}
	return d
}

// Dispatch parses call into a capability and runs its handler. Every failure
// has already been reported to the operator when the error is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *channels.IncomingMessage, call StructuredCall) error {
	capability, err := ParseCapability(call)
	if err != nil {
		d.logger.Warn("cannot dispatch tool call", "tool", call.Name, "error", err)
		d.metrics.Dispatch(call.Name, "unknown")
		d.out.reply(ctx, msg, fmt.Sprintf("I'm sorry, I don't know how to do that (%s).", err))
		return err
	}

	d.logger.Info("dispatching", "tool", capability.Tool(), "operator", msg.From, "guild_id", msg.GuildID)

	switch c := capability.(type) {
	case PlayMusic:
		err = d.play(ctx, msg, c.Query)
	case SkipTrack:
		err = d.skip(ctx, msg)
	case StopPlayback:
		err = d.stop(ctx, msg)
	case ShowQueue:
		err = d.showQueue(ctx, msg)
	case TogglePause:
		err = d.togglePause(ctx, msg)
	case ExecuteCommand:
		err = d.actions.Run(ctx, msg, c.Description)
	}

	d.metrics.Dispatch(capability.Tool(), outcome(err))
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrPreconditionFailed):
		return "precondition"
	case errors.Is(err, ErrSynthesisRejected):
		return "rejected"
	default:
		return "failed"
	}
}

// fail reports a precondition failure.
func (d *Dispatcher) fail(ctx context.Context, msg *channels.IncomingMessage, text string) error {
	d.out.reply(ctx, msg, text)
	return precondition(text)
}

func (d *Dispatcher) play(ctx context.Context, msg *channels.IncomingMessage, query string) error {
	if d.voice == nil {
		return d.fail(ctx, msg, msgNotInVoice)
	}
	voiceID, ok := d.voice.VoiceChannelOf(msg.GuildID, msg.From)
	if !ok {
		return d.fail(ctx, msg, msgNotInVoice)
	}

	d.out.reply(ctx, msg, fmt.Sprintf("🔎 Searching for **%s**...", query))

	_, err := d.media.Play(ctx, media.PlayRequest{
		GuildID:        msg.GuildID,
		VoiceChannelID: voiceID,
		TextChannelID:  msg.ChatID,
		Query:          query,
		RequestedBy:    msg.From,
	})
	if err != nil {
		d.logger.Error("play failed", "query", query, "error", err)
		d.out.send(ctx, msg.ChatID, &channels.OutgoingMessage{Content: msgPlayFailed})
		return fmt.Errorf("play %q: %w", query, err)
	}
	return nil
}

// playingQueue returns the guild queue when a track is loaded.
func (d *Dispatcher) playingQueue(guildID string) (*media.Queue, bool) {
	q, ok := d.media.Queue(guildID)
	if !ok || !q.IsPlaying() {
		return nil, false
	}
	return q, true
}

func (d *Dispatcher) skip(ctx context.Context, msg *channels.IncomingMessage) error {
	q, ok := d.playingQueue(msg.GuildID)
	if !ok {
		return d.fail(ctx, msg, msgNothingToSkip)
	}
	if !q.Skip() {
		d.out.reply(ctx, msg, msgSkipFailed)
		return fmt.Errorf("skip in guild %s: queue stopped", msg.GuildID)
	}
	d.out.reply(ctx, msg, msgSkipped)
	return nil
}

func (d *Dispatcher) stop(ctx context.Context, msg *channels.IncomingMessage) error {
	q, ok := d.media.Queue(msg.GuildID)
	if !ok {
		return d.fail(ctx, msg, msgNothingToStop)
	}
	q.Delete()
	d.out.reply(ctx, msg, msgStopped)
	return nil
}

func (d *Dispatcher) showQueue(ctx context.Context, msg *channels.IncomingMessage) error {
	q, ok := d.playingQueue(msg.GuildID)
	if !ok {
		return d.fail(ctx, msg, msgNothingPlaying)
	}
	current := q.Current()
	if current == nil {
		return d.fail(ctx, msg, msgNothingPlaying)
	}
	d.out.replyMessage(ctx, msg, &channels.OutgoingMessage{Embed: queueEmbed(current, q.Tracks(), d.now())})
	return nil
}

// queueEmbed renders the current track and up to ten upcoming ones.
func queueEmbed(current *media.Track, upcoming []*media.Track, now time.Time) *channels.Embed {
	lines := make([]string, 0, queueEmbedTracks)
	for i, t := range upcoming {
		if i == queueEmbedTracks {
			break
		}
		lines = append(lines, fmt.Sprintf("%d. **%s** - `%s`", i+1, t.Title, t.FormattedDuration()))
	}
	description := msgQueueEmpty
	if len(lines) > 0 {
		description = strings.Join(lines, "\n")
	}

	return &channels.Embed{
		Title:       "Server Queue",
		Description: description,
		Color:       queueEmbedColor,
		Fields: []channels.EmbedField{{
			Name:  "Now Playing",
			Value: fmt.Sprintf("▶️ **%s** (`%s`)", current.Title, current.FormattedDuration()),
		}},
		Thumbnail: current.Thumbnail,
		Timestamp: now,
	}
}

func (d *Dispatcher) togglePause(ctx context.Context, msg *channels.IncomingMessage) error {
	q, ok := d.playingQueue(msg.GuildID)
	if !ok {
		return d.fail(ctx, msg, msgNothingToPause)
	}
	if q.TogglePause() {
		d.out.reply(ctx, msg, msgPaused)
	} else {
		d.out.reply(ctx, msg, msgResumed)
	}
	return nil
}

// MediaEvents announces player events in the queue's text channel.
func (d *Dispatcher) MediaEvents() media.Events {
	ctx := context.Background()
	return media.Events{
		OnStart: func(q *media.Queue, t *media.Track) {
			d.out.send(ctx, q.TextChannelID, &channels.OutgoingMessage{Content: fmt.Sprintf("▶️ Now playing: **%s**", t.Title)})
		},
		OnError: func(q *media.Queue, err error) {
			d.logger.Error("player error", "guild_id", q.GuildID, "error", err)
			d.out.send(ctx, q.TextChannelID, &channels.OutgoingMessage{Content: msgPlayerError})
		},
		OnConnectionError: func(q *media.Queue, err error) {
			d.logger.Error("player connection error", "guild_id", q.GuildID, "error", err)
			d.out.send(ctx, q.TextChannelID, &channels.OutgoingMessage{Content: msgConnectError})
		},
	}
}

// noMedia stands in when music playback is disabled.
type noMedia struct{}

func (noMedia) Play(context.Context, media.PlayRequest) (*media.Track, error) {
	return nil, errors.New("music playback is disabled")
}

func (noMedia) Queue(string) (*media.Queue, bool) { return nil, false }

// replier sends operator-facing messages. Send failures are logged only.
type replier struct {
	ch     channels.Channel
	logger *slog.Logger
}

func (r *replier) reply(ctx context.Context, msg *channels.IncomingMessage, text string) {
	r.replyMessage(ctx, msg, &channels.OutgoingMessage{Content: text})
}

func (r *replier) replyMessage(ctx context.Context, msg *channels.IncomingMessage, out *channels.OutgoingMessage) {
	out.ReplyTo = msg.ID
	r.send(ctx, msg.ChatID, out)
}

func (r *replier) send(ctx context.Context, chatID string, out *channels.OutgoingMessage) {
	if err := r.ch.Send(ctx, chatID, out); err != nil {
		r.logger.Error("failed to send reply", "chat_id", chatID, "error", err)
	}
}
