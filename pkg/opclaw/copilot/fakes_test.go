package copilot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jholhewres/opclaw/pkg/opclaw/audit"
	"github.com/jholhewres/opclaw/pkg/opclaw/channels"
	"github.com/jholhewres/opclaw/pkg/opclaw/llm"
	"github.com/jholhewres/opclaw/pkg/opclaw/media"
	"github.com/jholhewres/opclaw/pkg/opclaw/metrics"
	"github.com/jholhewres/opclaw/pkg/opclaw/script"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// ---------- llm ----------

// fakeLLM answers every conversation with respond and every synthesis with
// program.
type fakeLLM struct {
	respond func(text string) (*llm.Response, error)

	program string
	genErr  error

	description string
	descErr     error

	chats    atomic.Int32
	genCalls atomic.Int32

	mu         sync.Mutex
	descCalls  int
	lastPrompt string
	lastMime   string
	lastData   []byte
	lastTools  []llm.ToolDefinition
}

func (f *fakeLLM) StartChat(system string, tools []llm.ToolDefinition) llm.Conversation {
	f.chats.Add(1)
	f.mu.Lock()
	f.lastTools = tools
	f.mu.Unlock()
	return &fakeConv{llm: f}
}

func (f *fakeLLM) Generate(ctx context.Context, system, prompt string) (string, error) {
	f.genCalls.Add(1)
	if f.genErr != nil {
		return "", f.genErr
	}
	return f.program, nil
}

func (f *fakeLLM) Describe(ctx context.Context, system, prompt string, data []byte, mime string) (string, error) {
	f.mu.Lock()
	f.descCalls++
	f.lastPrompt, f.lastMime, f.lastData = prompt, mime, data
	f.mu.Unlock()
	if f.descErr != nil {
		return "", f.descErr
	}
	return f.description, nil
}

func (f *fakeLLM) Close() error { return nil }

func (f *fakeLLM) describeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.descCalls
}

// fakeConv detects overlapping sends.
type fakeConv struct {
	llm        *fakeLLM
	inflight   atomic.Int32
	overlapped atomic.Bool
	sends      atomic.Int32
}

func (c *fakeConv) Send(ctx context.Context, text string) (*llm.Response, error) {
	if c.inflight.Add(1) > 1 {
		c.overlapped.Store(true)
	}
	defer c.inflight.Add(-1)
	c.sends.Add(1)
	return c.llm.respond(text)
}

func respondCall(name string, args map[string]any) func(string) (*llm.Response, error) {
	return func(string) (*llm.Response, error) {
		return &llm.Response{Calls: []llm.FunctionCall{{Name: name, Args: args}}}, nil
	}
}

func respondText(reply string) func(string) (*llm.Response, error) {
	return func(string) (*llm.Response, error) { return &llm.Response{Text: reply}, nil }
}

// ---------- channel ----------

type sent struct {
	To  string
	Msg channels.OutgoingMessage
}

// fakeChannel implements every optional channel capability.
type fakeChannel struct {
	incoming chan *channels.IncomingMessage

	mu     sync.Mutex
	sent   []sent
	typing int
	voice  map[string]string

	download     []byte
	downloadMime string
	downloadErr  error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		incoming: make(chan *channels.IncomingMessage, 8),
		voice:    map[string]string{},
	}
}

func (c *fakeChannel) Name() string                      { return "discord" }
func (c *fakeChannel) Connect(ctx context.Context) error { return nil }
func (c *fakeChannel) Disconnect() error                 { return nil }
func (c *fakeChannel) IsConnected() bool                 { return true }
func (c *fakeChannel) Health() channels.HealthStatus     { return channels.HealthStatus{Connected: true} }

func (c *fakeChannel) Receive() <-chan *channels.IncomingMessage { return c.incoming }

func (c *fakeChannel) Send(ctx context.Context, to string, m *channels.OutgoingMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sent{To: to, Msg: *m})
	return nil
}

func (c *fakeChannel) SendTyping(ctx context.Context, to string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.typing++
	return nil
}

func (c *fakeChannel) DownloadMedia(ctx context.Context, msg *channels.IncomingMessage) ([]byte, string, error) {
	if c.downloadErr != nil {
		return nil, "", c.downloadErr
	}
	return c.download, c.downloadMime, nil
}

func (c *fakeChannel) VoiceChannelOf(guildID, userID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.voice[guildID+"/"+userID]
	return ch, ok
}

func (c *fakeChannel) joinVoice(guildID, userID, channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voice[guildID+"/"+userID] = channelID
}

func (c *fakeChannel) messages() []sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sent, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeChannel) contents() []string {
	var out []string
	for _, s := range c.messages() {
		out = append(out, s.Msg.Content)
	}
	return out
}

func (c *fakeChannel) typingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// waitFor polls until a sent message satisfies match.
func (c *fakeChannel) waitFor(t *testing.T, match func(sent) bool) sent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, s := range c.messages() {
			if match(s) {
				return s
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no matching message; sent = %q", c.contents())
	return sent{}
}

func (c *fakeChannel) waitContent(t *testing.T, content string) sent {
	t.Helper()
	return c.waitFor(t, func(s sent) bool { return s.Msg.Content == content })
}

// ---------- script bindings ----------

// fakeAdmin implements script.Client and script.Namespace.
type fakeAdmin struct {
	banErr error

	mu    sync.Mutex
	calls []string
}

func (a *fakeAdmin) record(format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, fmt.Sprintf(format, args...))
}

func (a *fakeAdmin) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func (a *fakeAdmin) SendMessage(ctx context.Context, channelID, content string) (*script.Message, error) {
	a.record("send:%s:%s", channelID, content)
	return &script.Message{ID: "sent1", ChannelID: channelID}, nil
}

func (a *fakeAdmin) CreateChannel(ctx context.Context, guildID string, spec script.ChannelSpec) (*script.Channel, error) {
	a.record("createChannel:%s:%s", spec.Name, spec.Type)
	return &script.Channel{ID: "new-" + spec.Name, Name: spec.Name, Type: spec.Type}, nil
}

func (a *fakeAdmin) DeleteChannel(ctx context.Context, channelID string) error {
	a.record("deleteChannel:%s", channelID)
	return nil
}

func (a *fakeAdmin) EditChannel(ctx context.Context, channelID string, edit script.ChannelEdit) (*script.Channel, error) {
	a.record("editChannel:%s", channelID)
	return &script.Channel{ID: channelID}, nil
}

func (a *fakeAdmin) PurgeMessages(ctx context.Context, channelID string, count int) (int, error) {
	a.record("purge:%s:%d", channelID, count)
	return count, nil
}

func (a *fakeAdmin) Kick(ctx context.Context, guildID, userID, reason string) error {
	a.record("kick:%s", userID)
	return nil
}

func (a *fakeAdmin) Ban(ctx context.Context, guildID, userID, reason string, deleteDays int) error {
	a.record("ban:%s", userID)
	return a.banErr
}

func (a *fakeAdmin) Unban(ctx context.Context, guildID, userID string) error {
	a.record("unban:%s", userID)
	return nil
}

func (a *fakeAdmin) Timeout(ctx context.Context, guildID, userID string, until time.Time) error {
	a.record("timeout:%s", userID)
	return nil
}

func (a *fakeAdmin) SetNickname(ctx context.Context, guildID, userID, nickname string) error {
	a.record("nick:%s:%s", userID, nickname)
	return nil
}

func (a *fakeAdmin) CreateRole(ctx context.Context, guildID string, spec script.RoleSpec) (*script.Role, error) {
	a.record("createRole:%s", spec.Name)
	return &script.Role{ID: "role-" + spec.Name, Name: spec.Name}, nil
}

func (a *fakeAdmin) DeleteRole(ctx context.Context, guildID, roleID string) error {
	a.record("deleteRole:%s", roleID)
	return nil
}

func (a *fakeAdmin) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	a.record("addRole:%s:%s", userID, roleID)
	return nil
}

func (a *fakeAdmin) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	a.record("removeRole:%s:%s", userID, roleID)
	return nil
}

func (a *fakeAdmin) GuildInfo(ctx context.Context, guildID string) (*script.Guild, error) {
	return &script.Guild{ID: guildID, Name: "Test Guild"}, nil
}

func (a *fakeAdmin) ResolveChannel(ctx context.Context, guildID, ref string) (string, error) {
	return strings.TrimPrefix(ref, "#"), nil
}

func (a *fakeAdmin) ResolveMember(ctx context.Context, guildID, ref string) (string, error) {
	return strings.TrimPrefix(ref, "@"), nil
}

func (a *fakeAdmin) ResolveRole(ctx context.Context, guildID, ref string) (string, error) {
	return strings.TrimPrefix(ref, "@"), nil
}

// fakeMessage replies through the fake channel.
type fakeMessage struct {
	ch  *fakeChannel
	msg *channels.IncomingMessage
}

func (m *fakeMessage) ID() string        { return m.msg.ID }
func (m *fakeMessage) ChannelID() string { return m.msg.ChatID }
func (m *fakeMessage) GuildID() string   { return m.msg.GuildID }
func (m *fakeMessage) AuthorID() string  { return m.msg.From }

func (m *fakeMessage) Reply(ctx context.Context, content string) (*script.Message, error) {
	_ = m.ch.Send(ctx, m.msg.ChatID, &channels.OutgoingMessage{Content: content, ReplyTo: m.msg.ID})
	return &script.Message{ID: "reply1", ChannelID: m.msg.ChatID}, nil
}

func (m *fakeMessage) React(ctx context.Context, emoji string) error { return nil }

type fakeBinder struct {
	ch    *fakeChannel
	admin *fakeAdmin
}

func (b *fakeBinder) Bindings(msg *channels.IncomingMessage) script.Bindings {
	return script.Bindings{Client: b.admin, Message: &fakeMessage{ch: b.ch, msg: msg}, Discord: b.admin}
}

// ---------- audit ----------

type fakeAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *fakeAudit) Record(ctx context.Context, e audit.Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

func (a *fakeAudit) Entries() []audit.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.Entry(nil), a.entries...)
}

// ---------- media ----------

type fakeResolver struct {
	tracks map[string]*media.Track
}

func (r *fakeResolver) Resolve(ctx context.Context, query string) (*media.Track, error) {
	t, ok := r.tracks[query]
	if !ok {
		return nil, media.ErrNoTrack
	}
	cp := *t
	return &cp, nil
}

// endlessTranscoder streams frames until the context ends.
type endlessTranscoder struct{}

func (endlessTranscoder) Open(ctx context.Context, url string) (media.FrameSource, error) {
	return &endlessSource{ctx: ctx}, nil
}

type endlessSource struct{ ctx context.Context }

func (s *endlessSource) NextFrame() ([]byte, error) {
	select {
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	case <-time.After(time.Millisecond):
		return []byte{0xfc, 0xff, 0xfe}, nil
	}
}

func (s *endlessSource) Close() error { return nil }

type fakeVoice struct {
	joins atomic.Int32
}

func (v *fakeVoice) Join(ctx context.Context, guildID, channelID string) (media.VoiceConn, error) {
	v.joins.Add(1)
	return fakeConn{}, nil
}

func (v *fakeVoice) Listeners(guildID, channelID string) int { return 1 }

type fakeConn struct{}

func (fakeConn) Speaking(bool) error { return nil }

func (fakeConn) SendFrame(ctx context.Context, frame []byte) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func (fakeConn) Disconnect() error { return nil }

// ---------- harness ----------

type harness struct {
	asst    *Assistant
	llm     *fakeLLM
	ch      *fakeChannel
	admin   *fakeAdmin
	audit   *fakeAudit
	voice   *fakeVoice
	player  *media.Player
	metrics *metrics.Metrics
}

func testTracks() map[string]*media.Track {
	return map[string]*media.Track{
		"lofi hip hop": {Title: "lofi hip hop radio", StreamURL: "stream://lofi", Duration: 3*time.Minute + 5*time.Second, Thumbnail: "https://img/lofi.jpg"},
		"second":       {Title: "Second", StreamURL: "stream://second", Duration: 2*time.Minute + 5*time.Second},
	}
}

func newHarness(t *testing.T, cfg *Config) *harness {
	t.Helper()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.OwnerID = "owner"

	h := &harness{
		llm:     &fakeLLM{respond: respondText("")},
		ch:      newFakeChannel(),
		admin:   &fakeAdmin{},
		audit:   &fakeAudit{},
		voice:   &fakeVoice{},
		metrics: metrics.New(),
	}

	mcfg := media.DefaultConfig()
	mcfg.LeaveOnEmpty = false
	h.player = media.NewPlayer(&fakeResolver{tracks: testTracks()}, endlessTranscoder{}, h.voice, mcfg, media.Events{}, discardLogger())
	t.Cleanup(h.player.Close)

	asst, err := New(cfg, Deps{
		Channel: h.ch,
		Binder:  &fakeBinder{ch: h.ch, admin: h.admin},
		LLM:     h.llm,
		Media:   h.player,
		Audit:   h.audit,
		Metrics: h.metrics,
	}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.player.SetEvents(asst.Dispatcher().MediaEvents())
	t.Cleanup(asst.Sessions().Close)
	h.asst = asst
	return h
}

func ownerMsg(content string) *channels.IncomingMessage {
	return &channels.IncomingMessage{
		ID:        "m1",
		Channel:   "discord",
		From:      "owner",
		ChatID:    "text1",
		GuildID:   "g1",
		IsGroup:   true,
		Mentioned: true,
		Type:      channels.MessageText,
		Content:   "<@999> " + content,
	}
}

func (h *harness) handle(content string) {
	h.asst.HandleMessage(context.Background(), ownerMsg(content))
}

// counterValue sums every sample of the named metric family.
func counterValue(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, s := range f.GetMetric() {
			switch {
			case s.GetCounter() != nil:
				total += s.GetCounter().GetValue()
			case s.GetGauge() != nil:
				total += s.GetGauge().GetValue()
			}
		}
	}
	return total
}

var errBoom = errors.New("boom")
