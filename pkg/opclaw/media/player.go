package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Config holds media engine configuration.
type Config struct {
	// Enabled turns the music capabilities on.
	Enabled bool `yaml:"enabled"`

	// YTDLPPath and FFmpegPath locate the external tools.
	YTDLPPath  string `yaml:"ytdlp_path"`
	FFmpegPath string `yaml:"ffmpeg_path"`

	// SearchCacheTTL is how long resolved queries are reused.
	SearchCacheTTL time.Duration `yaml:"search_cache_ttl"`

	// LeaveOnEnd leaves the voice channel when the queue runs out.
	LeaveOnEnd bool `yaml:"leave_on_end"`

	// LeaveOnStop leaves the voice channel when the queue is deleted.
	LeaveOnStop bool `yaml:"leave_on_stop"`

	// LeaveOnEmpty leaves after the channel has had no listeners for
	// LeaveOnEmptyCooldown.
	LeaveOnEmpty         bool          `yaml:"leave_on_empty"`
	LeaveOnEmptyCooldown time.Duration `yaml:"leave_on_empty_cooldown"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		YTDLPPath:            "yt-dlp",
		FFmpegPath:           "ffmpeg",
		SearchCacheTTL:       30 * time.Minute,
		LeaveOnEnd:           true,
		LeaveOnStop:          true,
		LeaveOnEmpty:         true,
		LeaveOnEmptyCooldown: 5 * time.Minute,
	}
}

// Events are player callbacks. Nil callbacks are skipped. They run on the
// playback goroutine of the queue.
type Events struct {
	// OnStart fires when a track starts streaming.
	OnStart func(q *Queue, t *Track)

	// OnError fires when streaming a track fails. Playback moves on.
	OnError func(q *Queue, err error)

	// OnConnectionError fires when the voice channel cannot be joined. The
	// queue is deleted.
	OnConnectionError func(q *Queue, err error)
}

// PlayRequest asks the player to queue a query for a guild.
type PlayRequest struct {
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	Query          string
	RequestedBy    string
}

// Player owns the per-guild queues.
type Player struct {
	resolver   Resolver
	transcoder Transcoder
	voice      Voice
	cfg        Config
	events     Events
	logger     *slog.Logger

	// emptyCheck is the listener polling interval for LeaveOnEmpty.
	emptyCheck time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	queues map[string]*Queue
}

// NewPlayer creates a player.
func NewPlayer(resolver Resolver, transcoder Transcoder, voice Voice, cfg Config, events Events, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LeaveOnEmptyCooldown <= 0 {
		cfg.LeaveOnEmptyCooldown = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Player{
		resolver:   resolver,
		transcoder: transcoder,
		voice:      voice,
		cfg:        cfg,
		events:     events,
		logger:     logger.With("component", "player"),
		emptyCheck: 15 * time.Second,
		ctx:        ctx,
		cancel:     cancel,
		queues:     make(map[string]*Queue),
	}
}

// SetEvents replaces the event callbacks. Call before the first Play.
func (p *Player) SetEvents(e Events) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = e
}

// Play resolves the query and appends the track to the guild queue, creating
// the queue and starting playback when needed.
func (p *Player) Play(ctx context.Context, req PlayRequest) (*Track, error) {
	track, err := p.resolver.Resolve(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	track.RequestedBy = req.RequestedBy

	p.mu.Lock()
	if p.ctx.Err() != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("player closed")
	}
	q, ok := p.queues[req.GuildID]
	if !ok {
		q = newQueue(p, req.GuildID, req.VoiceChannelID, req.TextChannelID)
		p.queues[req.GuildID] = q
	}
	q.push(track)
	p.mu.Unlock()

	p.logger.Info("track queued",
		"guild_id", req.GuildID,
		"title", track.Title,
		"new_queue", !ok,
	)

	if !ok {
		p.wg.Add(1)
		go p.run(q)
	}
	return track, nil
}

// Queue returns the guild queue, if one exists.
func (p *Player) Queue(guildID string) (*Queue, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.queues[guildID]
	return q, ok
}

// Close deletes every queue and waits for playback goroutines.
func (p *Player) Close() {
	p.mu.Lock()
	queues := make([]*Queue, 0, len(p.queues))
	for _, q := range p.queues {
		queues = append(queues, q)
	}
	p.queues = make(map[string]*Queue)
	p.cancel()
	p.mu.Unlock()

	for _, q := range queues {
		q.markDeleted(endShutdown)
	}
	p.wg.Wait()
}

func (p *Player) remove(q *Queue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queues[q.GuildID] == q {
		delete(p.queues, q.GuildID)
	}
}

func (p *Player) eventsSnapshot() Events {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events
}

// run is the playback goroutine of one queue.
func (p *Player) run(q *Queue) {
	defer p.wg.Done()
	logger := p.logger.With("guild_id", q.GuildID, "voice_channel", q.VoiceChannelID)
	events := p.eventsSnapshot()

	ctx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	go func() {
		select {
		case <-q.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, err := p.voice.Join(ctx, q.GuildID, q.VoiceChannelID)
	if err != nil {
		logger.Error("voice join failed", "error", err)
		q.Delete()
		if events.OnConnectionError != nil {
			events.OnConnectionError(q, fmt.Errorf("%w: %v", ErrVoiceConnect, err))
		}
		return
	}

	leave := true
	defer func() {
		if leave {
			if err := conn.Disconnect(); err != nil {
				logger.Warn("voice disconnect failed", "error", err)
			}
		}
		logger.Info("playback stopped")
	}()

	if p.cfg.LeaveOnEmpty {
		go p.watchListeners(ctx, q, logger)
	}

	for {
		track := p.next(ctx, q)
		if track == nil {
			leave = q.ended() != endStopped || p.cfg.LeaveOnStop
			return
		}

		logger.Info("track started", "title", track.Title, "duration", track.FormattedDuration())
		if events.OnStart != nil {
			events.OnStart(q, track)
		}

		err := p.stream(ctx, q, conn, track)
		q.finish()
		switch {
		case err == nil:
		case errors.Is(err, errStopped), errors.Is(err, context.Canceled):
		default:
			logger.Error("track failed", "title", track.Title, "error", err)
			if events.OnError != nil {
				events.OnError(q, err)
			}
		}
	}
}

// next waits for the next track. It returns nil once the queue is deleted,
// deleting it first when the queue ran out and LeaveOnEnd is set.
func (p *Player) next(ctx context.Context, q *Queue) *Track {
	for {
		if t := q.pop(); t != nil {
			return t
		}

		if p.cfg.LeaveOnEnd {
			// Empty check and removal happen under the player lock so a
			// concurrent Play either lands in this queue or creates a new one.
			p.mu.Lock()
			q.mu.Lock()
			empty := len(q.tracks) == 0
			q.mu.Unlock()
			if empty && p.queues[q.GuildID] == q {
				delete(p.queues, q.GuildID)
			}
			p.mu.Unlock()
			if empty {
				q.markDeleted(endFinished)
				return nil
			}
			continue
		}

		select {
		case <-q.wake:
		case <-q.done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// stream pushes the track frames into the voice connection.
func (p *Player) stream(ctx context.Context, q *Queue, conn VoiceConn, t *Track) error {
	src, err := p.transcoder.Open(ctx, t.StreamURL)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := conn.Speaking(true); err != nil {
		return fmt.Errorf("speaking: %w", err)
	}
	defer conn.Speaking(false)

	for {
		if gate := q.pauseGate(); gate != nil {
			select {
			case <-gate:
			case <-q.skip:
				return nil
			case <-q.done:
				return errStopped
			}
		}

		select {
		case <-q.skip:
			return nil
		case <-q.done:
			return errStopped
		default:
		}

		frame, err := src.NextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := conn.SendFrame(ctx, frame); err != nil {
			return err
		}
	}
}

// watchListeners deletes the queue after the channel stays empty for the
// configured cooldown.
func (p *Player) watchListeners(ctx context.Context, q *Queue, logger *slog.Logger) {
	ticker := time.NewTicker(p.emptyCheck)
	defer ticker.Stop()

	var emptySince time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if p.voice.Listeners(q.GuildID, q.VoiceChannelID) > 0 {
				emptySince = time.Time{}
				continue
			}
			if emptySince.IsZero() {
				emptySince = now
				continue
			}
			if now.Sub(emptySince) >= p.cfg.LeaveOnEmptyCooldown {
				logger.Info("voice channel empty, leaving", "cooldown", p.cfg.LeaveOnEmptyCooldown)
				q.player.remove(q)
				q.markDeleted(endEmptyChannel)
				return
			}
		}
	}
}
