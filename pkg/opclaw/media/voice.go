package media

import "context"

// Voice joins voice channels on the platform.
type Voice interface {
	// Join connects to the voice channel and returns the connection.
	Join(ctx context.Context, guildID, channelID string) (VoiceConn, error)

	// Listeners counts the non-bot users in the voice channel.
	Listeners(guildID, channelID string) int
}

// VoiceConn is a live voice connection.
type VoiceConn interface {
	// Speaking toggles the speaking indicator.
	Speaking(on bool) error

	// SendFrame queues a 20 ms Opus frame, blocking while the buffer is full.
	SendFrame(ctx context.Context, frame []byte) error

	// Disconnect leaves the voice channel.
	Disconnect() error
}
