package discord

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"
	"github.com/jholhewres/opclaw/pkg/opclaw/media"
)

// Voice adapts the gateway session to media.Voice.
func (d *Discord) Voice() media.Voice { return &voice{s: d.session} }

type voice struct {
	s *discordgo.Session
}

func (v *voice) Join(ctx context.Context, guildID, channelID string) (media.VoiceConn, error) {
	type result struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	done := make(chan result, 1)
	go func() {
		vc, err := v.s.ChannelVoiceJoin(guildID, channelID, false, true)
		done <- result{vc, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if r.vc != nil {
				_ = r.vc.Disconnect()
			}
			return nil, r.err
		}
		return &voiceConn{vc: r.vc}, nil
	case <-ctx.Done():
		// The join may still complete; release it when it does.
		go func() {
			if r := <-done; r.vc != nil {
				_ = r.vc.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}

func (v *voice) Listeners(guildID, channelID string) int {
	return countListeners(v.s.State, guildID, channelID)
}

// countListeners counts users in the voice channel, excluding bots.
func countListeners(state *discordgo.State, guildID, channelID string) int {
	g, err := state.Guild(guildID)
	if err != nil {
		return 0
	}

	self := ""
	if state.User != nil {
		self = state.User.ID
	}

	state.RLock()
	defer state.RUnlock()

	n := 0
	for _, vs := range g.VoiceStates {
		if vs.ChannelID != channelID || vs.UserID == self {
			continue
		}
		if vs.Member != nil && vs.Member.User != nil && vs.Member.User.Bot {
			continue
		}
		n++
	}
	return n
}

type voiceConn struct {
	vc *discordgo.VoiceConnection
}

var errVoiceClosed = errors.New("voice connection closed")

func (c *voiceConn) Speaking(on bool) error { return c.vc.Speaking(on) }

func (c *voiceConn) SendFrame(ctx context.Context, frame []byte) error {
	if c.vc.OpusSend == nil {
		return errVoiceClosed
	}
	select {
	case c.vc.OpusSend <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *voiceConn) Disconnect() error { return c.vc.Disconnect() }

var (
	_ media.Voice     = (*voice)(nil)
	_ media.VoiceConn = (*voiceConn)(nil)
)
