// Package discord implements the Discord channel for opclaw using discordgo.
//
// Features:
//   - Send/receive text, replies split at 2000 characters
//   - Rich embeds
//   - Typing indicators and reactions
//   - Attachment downloads with a size limit
//   - Voice-state lookups and voice connections for the media engine
//   - Administrative handles and reference resolution for action programs
//   - Guild allowlist
package discord

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jholhewres/opclaw/pkg/opclaw/channels"
)

// maxMessageLen is Discord's per-message character limit.
const maxMessageLen = 2000

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// AllowedGuilds restricts which guild (server) IDs the bot responds in.
	// Empty means respond in all guilds.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// SendTyping sends "typing..." indicators while processing.
	SendTyping bool `yaml:"send_typing"`

	// MaxAttachmentBytes bounds attachment downloads.
	MaxAttachmentBytes int64 `yaml:"max_attachment_bytes"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SendTyping:         true,
		MaxAttachmentBytes: 20 << 20,
	}
}

// Discord implements channels.Channel, channels.MediaChannel,
// channels.PresenceChannel, channels.ReactionChannel and channels.VoiceChannel.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	// messages is the channel for incoming messages forwarded to the assistant.
	messages chan *channels.IncomingMessage

	// connected tracks connection state.
	connected atomic.Bool

	// lastMsg tracks the last message timestamp for health.
	lastMsg atomic.Value // time.Time

	// errorCount tracks consecutive errors.
	errorCount atomic.Int64

	// httpClient is used for downloading attachments.
	httpClient *http.Client

	// onReady is called once the gateway reports the bot user.
	onReady func(botUser string)
}

// New creates a new Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttachmentBytes <= 0 {
		cfg.MaxAttachmentBytes = DefaultConfig().MaxAttachmentBytes
	}
	return &Discord{
		cfg:        cfg,
		logger:     logger.With("component", "discord"),
		messages:   make(chan *channels.IncomingMessage, 256),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// OnReady registers a callback for the gateway Ready event.
func (d *Discord) OnReady(fn func(botUser string)) { d.onReady = fn }

// Session exposes the underlying discordgo session once connected.
func (d *Discord) Session() *discordgo.Session { return d.session }

// ---------- Channel Interface ----------

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsGuildVoiceStates

	session.AddHandler(d.onMessageCreate)
	session.AddHandler(d.onReadyEvent)

	if err := session.Open(); err != nil {
		return fmt.Errorf("%w: discord: opening gateway: %v", channels.ErrConnectionFailed, err)
	}

	d.session = session
	d.connected.Store(true)

	user := session.State.User
	d.logger.Info("discord: connected", "bot", user.Username, "id", user.ID)
	return nil
}

// Disconnect closes the Discord gateway connection.
func (d *Discord) Disconnect() error {
	if d.session != nil {
		for _, vc := range d.session.VoiceConnections {
			_ = vc.Disconnect()
		}
		d.session.Close()
	}
	d.connected.Store(false)
	d.logger.Info("discord: disconnected")
	return nil
}

// Send sends a message to the specified channel, splitting long content.
// The embed, if any, rides on the first chunk.
func (d *Discord) Send(ctx context.Context, to string, message *channels.OutgoingMessage) error {
	if d.session == nil {
		return channels.ErrChannelDisconnected
	}

	for _, ms := range buildSends(message) {
		if _, err := d.session.ChannelMessageSendComplex(to, ms, discordgo.WithContext(ctx)); err != nil {
			d.errorCount.Add(1)
			return fmt.Errorf("%w: %v", channels.ErrSendFailed, err)
		}
	}
	return nil
}

// Receive returns the incoming messages channel.
func (d *Discord) Receive() <-chan *channels.IncomingMessage {
	return d.messages
}

// IsConnected returns true if the bot is connected.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	hs := channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
	}
	if d.session != nil {
		hs.LatencyMs = d.session.HeartbeatLatency().Milliseconds()
	}
	return hs
}

// ---------- MediaChannel Interface ----------

// DownloadMedia downloads the attachment of an incoming message, bounded by
// MaxAttachmentBytes.
func (d *Discord) DownloadMedia(ctx context.Context, msg *channels.IncomingMessage) ([]byte, string, error) {
	if msg.Media == nil || msg.Media.URL == "" {
		return nil, "", channels.ErrMediaDownloadFailed
	}
	if msg.Media.FileSize > uint64(d.cfg.MaxAttachmentBytes) {
		return nil, "", fmt.Errorf("%w: %d bytes", channels.ErrMediaTooLarge, msg.Media.FileSize)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, msg.Media.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", channels.ErrMediaDownloadFailed, err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", channels.ErrMediaDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: status %d", channels.ErrMediaDownloadFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.cfg.MaxAttachmentBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", channels.ErrMediaDownloadFailed, err)
	}
	if int64(len(data)) > d.cfg.MaxAttachmentBytes {
		return nil, "", channels.ErrMediaTooLarge
	}

	mimeType := msg.Media.MimeType
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

// ---------- PresenceChannel Interface ----------

// SendTyping sends a typing indicator to the channel.
func (d *Discord) SendTyping(ctx context.Context, to string) error {
	if d.session == nil || !d.cfg.SendTyping {
		return nil
	}
	return d.session.ChannelTyping(to, discordgo.WithContext(ctx))
}

// ---------- ReactionChannel Interface ----------

// SendReaction adds a reaction emoji to a message.
func (d *Discord) SendReaction(ctx context.Context, chatID, messageID, emoji string) error {
	if d.session == nil {
		return channels.ErrChannelDisconnected
	}
	return d.session.MessageReactionAdd(chatID, messageID, emoji, discordgo.WithContext(ctx))
}

// ---------- VoiceChannel Interface ----------

// VoiceChannelOf returns the voice channel the user is in, from gateway state.
func (d *Discord) VoiceChannelOf(guildID, userID string) (string, bool) {
	if d.session == nil {
		return "", false
	}
	return voiceChannelOf(d.session.State, guildID, userID)
}

func voiceChannelOf(state *discordgo.State, guildID, userID string) (string, bool) {
	if state == nil {
		return "", false
	}
	vs, err := state.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", false
	}
	return vs.ChannelID, true
}

// ---------- Event Handlers ----------

func (d *Discord) onReadyEvent(s *discordgo.Session, r *discordgo.Ready) {
	d.logger.Info("discord: ready", "bot", r.User.Username, "guilds", len(r.Guilds))
	if d.onReady != nil {
		d.onReady(r.User.Username)
	}
}

// onMessageCreate handles incoming Discord messages.
func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}

	if !d.guildAllowed(m.GuildID) {
		return
	}

	incoming := toIncoming(m.Message, s.State.User.ID)

	d.lastMsg.Store(time.Now())
	d.errorCount.Store(0)

	select {
	case d.messages <- incoming:
	default:
		d.logger.Warn("discord: message buffer full, dropping message", "msg_id", incoming.ID)
	}
}

func (d *Discord) guildAllowed(guildID string) bool {
	if len(d.cfg.AllowedGuilds) == 0 || guildID == "" {
		return true
	}
	for _, id := range d.cfg.AllowedGuilds {
		if id == guildID {
			return true
		}
	}
	return false
}

// ---------- Helpers ----------

// toIncoming converts a gateway message. botID marks bot mentions.
func toIncoming(m *discordgo.Message, botID string) *channels.IncomingMessage {
	incoming := &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		ChatID:    m.ChannelID,
		GuildID:   m.GuildID,
		IsGroup:   m.GuildID != "",
		Type:      channels.MessageText,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		incoming.From = m.Author.ID
		incoming.FromName = m.Author.Username
	}

	for _, u := range m.Mentions {
		if u != nil && u.ID == botID {
			incoming.Mentioned = true
			break
		}
	}

	if m.ReferencedMessage != nil {
		incoming.ReplyTo = m.ReferencedMessage.ID
	}

	if len(m.Attachments) > 0 {
		att := m.Attachments[0]
		mediaType := channels.InferMediaType(att.ContentType)
		incoming.Type = mediaType
		incoming.Media = &channels.MediaInfo{
			Type:     mediaType,
			URL:      att.URL,
			MimeType: att.ContentType,
			FileSize: uint64(att.Size),
			Filename: att.Filename,
			Width:    uint32(att.Width),
			Height:   uint32(att.Height),
		}
	}
	return incoming
}

// buildSends turns an outgoing message into one or more sends.
func buildSends(message *channels.OutgoingMessage) []*discordgo.MessageSend {
	chunks := splitDiscordMessage(message.Content, maxMessageLen)
	sends := make([]*discordgo.MessageSend, 0, len(chunks))
	for i, chunk := range chunks {
		ms := &discordgo.MessageSend{Content: chunk}
		if i == 0 {
			if message.ReplyTo != "" {
				ms.Reference = &discordgo.MessageReference{MessageID: message.ReplyTo}
			}
			if message.Embed != nil {
				ms.Embeds = []*discordgo.MessageEmbed{toEmbed(message.Embed)}
			}
		}
		sends = append(sends, ms)
	}
	return sends
}

// toEmbed converts a platform-neutral embed.
func toEmbed(e *channels.Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if e.Thumbnail != "" {
		out.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.Thumbnail}
	}
	if !e.Timestamp.IsZero() {
		out.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
	}
	return out
}

// splitDiscordMessage splits a message into chunks respecting the 2000 char limit.
// Empty text yields a single empty chunk so embeds still go out.
func splitDiscordMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		// Try to split at a newline.
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		} else {
			// Do not cut a multi-byte rune in half.
			for cutAt > 0 && !isRuneStart(text[cutAt]) {
				cutAt--
			}
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// Compile-time interface verification.
var (
	_ channels.Channel         = (*Discord)(nil)
	_ channels.MediaChannel    = (*Discord)(nil)
	_ channels.PresenceChannel = (*Discord)(nil)
	_ channels.ReactionChannel = (*Discord)(nil)
	_ channels.VoiceChannel    = (*Discord)(nil)
)
