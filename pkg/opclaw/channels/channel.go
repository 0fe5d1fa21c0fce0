// Package channels defines the interfaces and types for opclaw communication
// channels. A channel delivers operator messages to the assistant and carries
// replies, embeds, reactions and voice lookups back to the platform.
package channels

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MessageType identifies the kind of message content.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageAudio    MessageType = "audio"
	MessageVideo    MessageType = "video"
	MessageDocument MessageType = "document"
)

// Channel defines the interface that every communication channel must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "discord").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send sends a message to the specified chat.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// Receive returns a Go channel that emits incoming messages.
	Receive() <-chan *IncomingMessage

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// MediaChannel extends Channel with attachment downloads.
type MediaChannel interface {
	Channel

	// DownloadMedia downloads media from an incoming message.
	// Returns the raw bytes and MIME type.
	DownloadMedia(ctx context.Context, msg *IncomingMessage) ([]byte, string, error)
}

// PresenceChannel extends Channel with typing indicators.
type PresenceChannel interface {
	Channel

	// SendTyping sends a "typing..." indicator to the chat.
	SendTyping(ctx context.Context, to string) error
}

// ReactionChannel extends Channel with message reaction support.
type ReactionChannel interface {
	Channel

	// SendReaction sends a reaction emoji to a specific message.
	SendReaction(ctx context.Context, chatID, messageID, emoji string) error
}

// VoiceChannel extends Channel with voice-state lookups.
type VoiceChannel interface {
	Channel

	// VoiceChannelOf returns the voice channel the user is connected to in
	// the guild, if any.
	VoiceChannelOf(guildID, userID string) (string, bool)
}

// IncomingMessage represents a message received from any channel.
type IncomingMessage struct {
	// ID is the unique message identifier in the source channel.
	ID string

	// Channel identifies the source channel (e.g. "discord").
	Channel string

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender display name (if available).
	FromName string

	// ChatID is the text channel or DM identifier.
	ChatID string

	// GuildID is the server the message was posted in; empty for DMs.
	GuildID string

	// IsGroup indicates whether the message is from a guild channel.
	IsGroup bool

	// Mentioned is true when the bot user is mentioned in the message.
	Mentioned bool

	// Type is the message content type.
	Type MessageType

	// Content is the text content of the message.
	Content string

	// Timestamp is when the message was sent.
	Timestamp time.Time

	// ReplyTo contains the ID of the message being replied to.
	ReplyTo string

	// Media contains the first attachment (if any).
	Media *MediaInfo

	// Metadata contains additional channel-specific data.
	Metadata map[string]any
}

// HasImage reports whether the first attachment is an image.
func (m *IncomingMessage) HasImage() bool {
	return m.Media != nil && strings.HasPrefix(strings.ToLower(m.Media.MimeType), "image/")
}

// OutgoingMessage represents a message to be sent through a channel.
type OutgoingMessage struct {
	// Content is the text content of the message.
	Content string

	// ReplyTo contains the ID of the message to reply to.
	ReplyTo string

	// Embed is an optional rich embed sent with the message.
	Embed *Embed
}

// Embed is a platform-neutral rich message block.
type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
	Thumbnail   string
	Timestamp   time.Time
}

// EmbedField is a named section of an embed.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// MediaInfo describes media attached to an incoming message.
type MediaInfo struct {
	// Type is the media type.
	Type MessageType

	// MimeType is the MIME type of the media.
	MimeType string

	// Filename is the original filename.
	Filename string

	// FileSize is the size in bytes.
	FileSize uint64

	// Width is the width in pixels (images/video).
	Width uint32

	// Height is the height in pixels (images/video).
	Height uint32

	// URL is a direct download URL.
	URL string
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
	LatencyMs     int64
	Details       map[string]any
}

// InferMediaType maps MIME types to message types.
func InferMediaType(contentType string) MessageType {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return MessageImage
	case strings.HasPrefix(ct, "audio/"):
		return MessageAudio
	case strings.HasPrefix(ct, "video/"):
		return MessageVideo
	default:
		return MessageDocument
	}
}

// Errors.
var (
	ErrChannelDisconnected = fmt.Errorf("channel is not connected")
	ErrSendFailed          = fmt.Errorf("failed to send message")
	ErrConnectionFailed    = fmt.Errorf("failed to connect to channel")
	ErrMediaDownloadFailed = fmt.Errorf("failed to download media")
	ErrMediaTooLarge       = fmt.Errorf("media exceeds size limit")
)
