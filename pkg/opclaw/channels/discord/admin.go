package discord

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jholhewres/opclaw/pkg/opclaw/channels"
	"github.com/jholhewres/opclaw/pkg/opclaw/script"
)

// Admin exposes guild administration to action programs. It implements
// script.Client and script.Namespace.
type Admin struct {
	s *discordgo.Session
}

// NewAdmin wraps a connected session.
func NewAdmin(s *discordgo.Session) *Admin { return &Admin{s: s} }

// Bindings returns the handles an action program runs against for msg.
func (d *Discord) Bindings(msg *channels.IncomingMessage) script.Bindings {
	admin := NewAdmin(d.session)
	return script.Bindings{
		Client:  admin,
		Message: &messageContext{s: d.session, msg: msg},
		Discord: admin,
	}
}

var channelTypes = map[script.ChannelType]discordgo.ChannelType{
	script.ChannelText:         discordgo.ChannelTypeGuildText,
	script.ChannelVoice:        discordgo.ChannelTypeGuildVoice,
	script.ChannelCategory:     discordgo.ChannelTypeGuildCategory,
	script.ChannelAnnouncement: discordgo.ChannelTypeGuildNews,
	script.ChannelStage:        discordgo.ChannelTypeGuildStageVoice,
	script.ChannelForum:        discordgo.ChannelTypeGuildForum,
}

func scriptChannelType(t discordgo.ChannelType) script.ChannelType {
	for k, v := range channelTypes {
		if v == t {
			return k
		}
	}
	return script.ChannelText
}

func toChannel(ch *discordgo.Channel) *script.Channel {
	return &script.Channel{ID: ch.ID, Name: ch.Name, Type: scriptChannelType(ch.Type)}
}

// ---------- script.Client ----------

func (a *Admin) SendMessage(ctx context.Context, channelID, content string) (*script.Message, error) {
	m, err := a.s.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return &script.Message{ID: m.ID, ChannelID: m.ChannelID}, nil
}

func (a *Admin) CreateChannel(ctx context.Context, guildID string, spec script.ChannelSpec) (*script.Channel, error) {
	typ, ok := channelTypes[spec.Type]
	if !ok {
		return nil, fmt.Errorf("unknown channel type %q", spec.Type)
	}
	ch, err := a.s.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:     spec.Name,
		Type:     typ,
		Topic:    spec.Topic,
		ParentID: spec.ParentID,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return toChannel(ch), nil
}

func (a *Admin) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := a.s.ChannelDelete(channelID, discordgo.WithContext(ctx))
	return err
}

func (a *Admin) EditChannel(ctx context.Context, channelID string, edit script.ChannelEdit) (*script.Channel, error) {
	data := &discordgo.ChannelEdit{}
	if edit.Name != nil {
		data.Name = *edit.Name
	}
	if edit.Topic != nil {
		data.Topic = *edit.Topic
	}
	ch, err := a.s.ChannelEdit(channelID, data, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return toChannel(ch), nil
}

// PurgeMessages deletes the latest count messages. Bulk deletion skips
// messages older than 14 days, as the API requires.
func (a *Admin) PurgeMessages(ctx context.Context, channelID string, count int) (int, error) {
	msgs, err := a.s.ChannelMessages(channelID, count, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-14 * 24 * time.Hour)
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Timestamp.After(cutoff) {
			ids = append(ids, m.ID)
		}
	}

	switch len(ids) {
	case 0:
		return 0, nil
	case 1:
		if err := a.s.ChannelMessageDelete(channelID, ids[0], discordgo.WithContext(ctx)); err != nil {
			return 0, err
		}
	default:
		if err := a.s.ChannelMessagesBulkDelete(channelID, ids, discordgo.WithContext(ctx)); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func (a *Admin) Kick(ctx context.Context, guildID, userID, reason string) error {
	return a.s.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx))
}

func (a *Admin) Ban(ctx context.Context, guildID, userID, reason string, deleteDays int) error {
	return a.s.GuildBanCreateWithReason(guildID, userID, reason, deleteDays, discordgo.WithContext(ctx))
}

func (a *Admin) Unban(ctx context.Context, guildID, userID string) error {
	return a.s.GuildBanDelete(guildID, userID, discordgo.WithContext(ctx))
}

func (a *Admin) Timeout(ctx context.Context, guildID, userID string, until time.Time) error {
	return a.s.GuildMemberTimeout(guildID, userID, &until, discordgo.WithContext(ctx))
}

func (a *Admin) SetNickname(ctx context.Context, guildID, userID, nickname string) error {
	return a.s.GuildMemberNickname(guildID, userID, nickname, discordgo.WithContext(ctx))
}

func (a *Admin) CreateRole(ctx context.Context, guildID string, spec script.RoleSpec) (*script.Role, error) {
	color := spec.Color
	mentionable := spec.Mentionable
	r, err := a.s.GuildRoleCreate(guildID, &discordgo.RoleParams{
		Name:        spec.Name,
		Color:       &color,
		Mentionable: &mentionable,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return &script.Role{ID: r.ID, Name: r.Name}, nil
}

func (a *Admin) DeleteRole(ctx context.Context, guildID, roleID string) error {
	return a.s.GuildRoleDelete(guildID, roleID, discordgo.WithContext(ctx))
}

func (a *Admin) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return a.s.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
}

func (a *Admin) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return a.s.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx))
}

// GuildInfo prefers gateway state and falls back to the REST API.
func (a *Admin) GuildInfo(ctx context.Context, guildID string) (*script.Guild, error) {
	g, err := a.s.State.Guild(guildID)
	if err != nil {
		if g, err = a.s.Guild(guildID, discordgo.WithContext(ctx)); err != nil {
			return nil, err
		}
	}
	members := g.MemberCount
	if members == 0 {
		members = g.ApproximateMemberCount
	}
	return &script.Guild{
		ID:          g.ID,
		Name:        g.Name,
		OwnerID:     g.OwnerID,
		MemberCount: members,
		Channels:    len(g.Channels),
		Roles:       len(g.Roles),
	}, nil
}

// ---------- script.Namespace ----------

var (
	snowflakePattern      = regexp.MustCompile(`^\d{15,21}$`)
	channelMentionPattern = regexp.MustCompile(`^<#(\d+)>$`)
	userMentionPattern    = regexp.MustCompile(`^<@!?(\d+)>$`)
	roleMentionPattern    = regexp.MustCompile(`^<@&(\d+)>$`)
)

// ResolveChannel accepts an ID, a <#id> mention or a channel name.
func (a *Admin) ResolveChannel(ctx context.Context, guildID, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if id, ok := directID(ref, channelMentionPattern); ok {
		return a.guildChannel(ctx, guildID, id)
	}
	name := strings.TrimPrefix(ref, "#")

	chans, err := a.guildChannels(ctx, guildID)
	if err != nil {
		return "", err
	}
	for _, ch := range chans {
		if strings.EqualFold(ch.Name, name) {
			return ch.ID, nil
		}
	}
	return "", fmt.Errorf("could not find channel %q", ref)
}

// ResolveMember accepts an ID, a <@id> mention or a username, global name
// or nickname. Names must match exactly. IDs are not checked against the
// member list: every member call is made on the guild's own endpoints, and
// unban needs users who are no longer members.
func (a *Admin) ResolveMember(ctx context.Context, guildID, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if id, ok := directID(ref, userMentionPattern); ok {
		return id, nil
	}
	name := strings.TrimPrefix(ref, "@")

	if g, err := a.s.State.Guild(guildID); err == nil {
		if id, ok := matchMember(g.Members, name); ok {
			return id, nil
		}
	}

	members, err := a.s.GuildMembersSearch(guildID, name, 10, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	if id, ok := matchMember(members, name); ok {
		return id, nil
	}
	if near := memberNames(members); len(near) > 0 {
		return "", fmt.Errorf("could not find member %q (did you mean %s?)", ref, strings.Join(near, ", "))
	}
	return "", fmt.Errorf("could not find member %q", ref)
}

// ResolveRole accepts an ID, a <@&id> mention or a role name.
func (a *Admin) ResolveRole(ctx context.Context, guildID, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	roles, err := a.guildRoles(ctx, guildID)
	if err != nil {
		return "", err
	}
	if id, ok := directID(ref, roleMentionPattern); ok {
		for _, r := range roles {
			if r.ID == id {
				return id, nil
			}
		}
		return "", fmt.Errorf("role %s is not in this server", id)
	}
	name := strings.TrimPrefix(ref, "@")

	for _, r := range roles {
		if strings.EqualFold(r.Name, name) {
			return r.ID, nil
		}
	}
	return "", fmt.Errorf("could not find role %q", ref)
}

// guildChannel returns id if the channel belongs to guildID.
func (a *Admin) guildChannel(ctx context.Context, guildID, id string) (string, error) {
	ch, err := a.s.State.Channel(id)
	if err != nil {
		if ch, err = a.s.Channel(id, discordgo.WithContext(ctx)); err != nil {
			return "", fmt.Errorf("could not find channel %s: %w", id, err)
		}
	}
	if ch.GuildID != guildID {
		return "", fmt.Errorf("channel %s is not in this server", id)
	}
	return ch.ID, nil
}

func (a *Admin) guildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error) {
	if g, err := a.s.State.Guild(guildID); err == nil && len(g.Channels) > 0 {
		return g.Channels, nil
	}
	return a.s.GuildChannels(guildID, discordgo.WithContext(ctx))
}

func (a *Admin) guildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	if g, err := a.s.State.Guild(guildID); err == nil && len(g.Roles) > 0 {
		return g.Roles, nil
	}
	return a.s.GuildRoles(guildID, discordgo.WithContext(ctx))
}

func directID(ref string, mention *regexp.Regexp) (string, bool) {
	if snowflakePattern.MatchString(ref) {
		return ref, true
	}
	if m := mention.FindStringSubmatch(ref); m != nil {
		return m[1], true
	}
	return "", false
}

func matchMember(members []*discordgo.Member, name string) (string, bool) {
	for _, m := range members {
		if m == nil || m.User == nil {
			continue
		}
		if strings.EqualFold(m.User.Username, name) ||
			strings.EqualFold(m.User.GlobalName, name) ||
			(m.Nick != "" && strings.EqualFold(m.Nick, name)) {
			return m.User.ID, true
		}
	}
	return "", false
}

// memberNames lists search results for an error hint.
func memberNames(members []*discordgo.Member) []string {
	var names []string
	for _, m := range members {
		if m != nil && m.User != nil {
			names = append(names, fmt.Sprintf("%s (%s)", m.User.Username, m.User.ID))
		}
	}
	return names
}

// ---------- script.MessageContext ----------

type messageContext struct {
	s   *discordgo.Session
	msg *channels.IncomingMessage
}

func (m *messageContext) ID() string        { return m.msg.ID }
func (m *messageContext) ChannelID() string { return m.msg.ChatID }
func (m *messageContext) GuildID() string   { return m.msg.GuildID }
func (m *messageContext) AuthorID() string  { return m.msg.From }

func (m *messageContext) Reply(ctx context.Context, content string) (*script.Message, error) {
	var last *discordgo.Message
	for _, ms := range buildSends(&channels.OutgoingMessage{Content: content, ReplyTo: m.msg.ID}) {
		sent, err := m.s.ChannelMessageSendComplex(m.msg.ChatID, ms, discordgo.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		last = sent
	}
	return &script.Message{ID: last.ID, ChannelID: last.ChannelID}, nil
}

func (m *messageContext) React(ctx context.Context, emoji string) error {
	return m.s.MessageReactionAdd(m.msg.ChatID, m.msg.ID, emoji, discordgo.WithContext(ctx))
}

// Compile-time interface verification.
var (
	_ script.Client         = (*Admin)(nil)
	_ script.Namespace      = (*Admin)(nil)
	_ script.MessageContext = (*messageContext)(nil)
)
