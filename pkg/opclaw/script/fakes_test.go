package script

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// fakeClient records every call; failOn makes the named call fail.
type fakeClient struct {
	mu     sync.Mutex
	calls  []string
	failOn map[string]error
	block  bool
	nextID int
}

func (f *fakeClient) record(call string, ctx context.Context) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	err := f.failOn[call]
	block := f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeClient) id() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return fmt.Sprintf("id%d", f.nextID)
}

func (f *fakeClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeClient) SendMessage(ctx context.Context, channelID, content string) (*Message, error) {
	if err := f.record("send:"+channelID+":"+content, ctx); err != nil {
		return nil, err
	}
	return &Message{ID: f.id(), ChannelID: channelID}, nil
}

func (f *fakeClient) CreateChannel(ctx context.Context, guildID string, spec ChannelSpec) (*Channel, error) {
	if err := f.record("createChannel:"+spec.Name+":"+string(spec.Type)+":"+spec.ParentID, ctx); err != nil {
		return nil, err
	}
	return &Channel{ID: f.id(), Name: spec.Name, Type: spec.Type}, nil
}

func (f *fakeClient) DeleteChannel(ctx context.Context, channelID string) error {
	return f.record("deleteChannel:"+channelID, ctx)
}

func (f *fakeClient) EditChannel(ctx context.Context, channelID string, edit ChannelEdit) (*Channel, error) {
	name := ""
	if edit.Name != nil {
		name = *edit.Name
	}
	if err := f.record("editChannel:"+channelID+":"+name, ctx); err != nil {
		return nil, err
	}
	return &Channel{ID: channelID, Name: name, Type: ChannelText}, nil
}

func (f *fakeClient) PurgeMessages(ctx context.Context, channelID string, count int) (int, error) {
	if err := f.record(fmt.Sprintf("purge:%s:%d", channelID, count), ctx); err != nil {
		return 0, err
	}
	return count, nil
}

func (f *fakeClient) Kick(ctx context.Context, guildID, userID, reason string) error {
	return f.record("kick:"+userID+":"+reason, ctx)
}

func (f *fakeClient) Ban(ctx context.Context, guildID, userID, reason string, deleteDays int) error {
	return f.record(fmt.Sprintf("ban:%s:%d", userID, deleteDays), ctx)
}

func (f *fakeClient) Unban(ctx context.Context, guildID, userID string) error {
	return f.record("unban:"+userID, ctx)
}

func (f *fakeClient) Timeout(ctx context.Context, guildID, userID string, until time.Time) error {
	return f.record("timeout:"+userID, ctx)
}

func (f *fakeClient) SetNickname(ctx context.Context, guildID, userID, nickname string) error {
	return f.record("nick:"+userID+":"+nickname, ctx)
}

func (f *fakeClient) CreateRole(ctx context.Context, guildID string, spec RoleSpec) (*Role, error) {
	if err := f.record(fmt.Sprintf("createRole:%s:%06x", spec.Name, spec.Color), ctx); err != nil {
		return nil, err
	}
	return &Role{ID: f.id(), Name: spec.Name}, nil
}

func (f *fakeClient) DeleteRole(ctx context.Context, guildID, roleID string) error {
	return f.record("deleteRole:"+roleID, ctx)
}

func (f *fakeClient) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return f.record("addRole:"+userID+":"+roleID, ctx)
}

func (f *fakeClient) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return f.record("removeRole:"+userID+":"+roleID, ctx)
}

func (f *fakeClient) GuildInfo(ctx context.Context, guildID string) (*Guild, error) {
	if err := f.record("guildInfo", ctx); err != nil {
		return nil, err
	}
	return &Guild{ID: guildID, Name: "Test Guild", MemberCount: 42, Channels: 7, Roles: 3}, nil
}

type fakeMessage struct {
	mu      sync.Mutex
	replies []string
	reacts  []string
}

func (m *fakeMessage) ID() string        { return "msg1" }
func (m *fakeMessage) ChannelID() string { return "chan1" }
func (m *fakeMessage) GuildID() string   { return "guild1" }
func (m *fakeMessage) AuthorID() string  { return "owner" }

func (m *fakeMessage) Reply(ctx context.Context, content string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, content)
	return &Message{ID: "reply1", ChannelID: "chan1"}, nil
}

func (m *fakeMessage) React(ctx context.Context, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reacts = append(m.reacts, emoji)
	return nil
}

// fakeNamespace strips a single "#", "@" or "&" prefix.
type fakeNamespace struct{}

func (fakeNamespace) ResolveChannel(ctx context.Context, guildID, ref string) (string, error) {
	return resolveFake(ref, "#")
}

func (fakeNamespace) ResolveMember(ctx context.Context, guildID, ref string) (string, error) {
	return resolveFake(ref, "@")
}

func (fakeNamespace) ResolveRole(ctx context.Context, guildID, ref string) (string, error) {
	return resolveFake(ref, "&")
}

func resolveFake(ref, prefix string) (string, error) {
	ref = strings.TrimPrefix(ref, prefix)
	if ref == "" || ref == "missing" {
		return "", fmt.Errorf("could not find %q", ref)
	}
	return ref, nil
}

func newBindings() (Bindings, *fakeClient, *fakeMessage) {
	c := &fakeClient{failOn: map[string]error{}}
	m := &fakeMessage{}
	return Bindings{Client: c, Message: m, Discord: fakeNamespace{}}, c, m
}
