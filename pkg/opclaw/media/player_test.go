package media

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testTracks() map[string]*Track {
	return map[string]*Track{
		"lofi hip hop": {Title: "lofi hip hop radio", StreamURL: "stream://lofi", Duration: 3 * time.Minute},
		"endless":      {Title: "Endless", StreamURL: "stream://endless"},
		"second":       {Title: "Second", StreamURL: "stream://second"},
		"broken":       {Title: "Broken", StreamURL: "stream://broken"},
	}
}

func newTestPlayer(cfg Config, voice *fakeVoice, rec *recorder) (*Player, *fakeResolver, *fakeTranscoder) {
	res := &fakeResolver{tracks: testTracks()}
	tr := &fakeTranscoder{
		frames: map[string]int{"stream://endless": -1},
		fail:   map[string]error{"stream://broken": errors.New("decoder exploded")},
	}
	p := NewPlayer(res, tr, voice, cfg, rec.events(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return p, res, tr
}

func req(query string) PlayRequest {
	return PlayRequest{GuildID: "g1", VoiceChannelID: "v1", TextChannelID: "t1", Query: query, RequestedBy: "owner"}
}

func TestPlayStartsAndLeavesOnEnd(t *testing.T) {
	t.Parallel()

	voice := &fakeVoice{}
	rec := newRecorder()
	cfg := DefaultConfig()
	cfg.LeaveOnEmpty = false
	p, _, _ := newTestPlayer(cfg, voice, rec)
	defer p.Close()

	track, err := p.Play(context.Background(), req("lofi hip hop"))
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if track.Title != "lofi hip hop radio" || track.RequestedBy != "owner" {
		t.Errorf("track = %+v", track)
	}

	title, err := waitFor(rec.started)
	if err != nil || title != "lofi hip hop radio" {
		t.Fatalf("OnStart = %q, %v", title, err)
	}

	conn := waitConn(t, voice)
	if !waitClosed(conn.disconnected) {
		t.Fatal("expected disconnect after the queue ran out")
	}
	if got := conn.frames.Load(); got != 3 {
		t.Errorf("frames sent = %d, want 3", got)
	}
	if _, ok := p.Queue("g1"); ok {
		t.Error("queue should be removed after the last track")
	}
}

func TestPlayUnknownQueryCreatesNoQueue(t *testing.T) {
	t.Parallel()

	voice := &fakeVoice{}
	p, _, _ := newTestPlayer(DefaultConfig(), voice, newRecorder())
	defer p.Close()

	if _, err := p.Play(context.Background(), req("nothing matches")); !errors.Is(err, ErrNoTrack) {
		t.Fatalf("err = %v, want ErrNoTrack", err)
	}
	if _, ok := p.Queue("g1"); ok {
		t.Error("queue created for a failed resolve")
	}
	if voice.Joins() != 0 {
		t.Error("voice joined for a failed resolve")
	}
}

func TestSkipMovesToNextTrack(t *testing.T) {
	t.Parallel()

	voice := &fakeVoice{}
	rec := newRecorder()
	cfg := DefaultConfig()
	cfg.LeaveOnEmpty = false
	p, _, _ := newTestPlayer(cfg, voice, rec)
	defer p.Close()

	mustPlay(t, p, "endless")
	mustPlay(t, p, "second")

	if title, _ := waitFor(rec.started); title != "Endless" {
		t.Fatalf("first start = %q", title)
	}
	q, ok := p.Queue("g1")
	if !ok || !q.IsPlaying() {
		t.Fatal("expected a playing queue")
	}
	if got := q.Tracks(); len(got) != 1 || got[0].Title != "Second" {
		t.Errorf("upcoming = %v", got)
	}

	if !q.Skip() {
		t.Fatal("Skip returned false while playing")
	}
	if title, err := waitFor(rec.started); err != nil || title != "Second" {
		t.Fatalf("second start = %q, %v", title, err)
	}
}

func TestTogglePause(t *testing.T) {
	t.Parallel()

	voice := &fakeVoice{}
	rec := newRecorder()
	cfg := DefaultConfig()
	cfg.LeaveOnEmpty = false
	p, _, _ := newTestPlayer(cfg, voice, rec)
	defer p.Close()

	mustPlay(t, p, "endless")
	if _, err := waitFor(rec.started); err != nil {
		t.Fatal(err)
	}
	q, _ := p.Queue("g1")

	if !q.TogglePause() {
		t.Fatal("first toggle should pause")
	}
	if !q.Paused() || !q.IsPlaying() {
		t.Error("paused queue must still count as playing")
	}

	conn := waitConn(t, voice)
	time.Sleep(20 * time.Millisecond)
	before := conn.frames.Load()
	time.Sleep(30 * time.Millisecond)
	if after := conn.frames.Load(); after > before+1 {
		t.Errorf("frames kept flowing while paused: %d -> %d", before, after)
	}

	if q.TogglePause() {
		t.Fatal("second toggle should resume")
	}
	deadline := time.Now().Add(2 * time.Second)
	for conn.frames.Load() <= before+1 {
		if time.Now().After(deadline) {
			t.Fatal("frames did not resume")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSkipWhilePausedPlaysNextTrack(t *testing.T) {
	t.Parallel()

	voice := &fakeVoice{}
	rec := newRecorder()
	cfg := DefaultConfig()
	cfg.LeaveOnEmpty = false
	p, _, _ := newTestPlayer(cfg, voice, rec)
	defer p.Close()

	mustPlay(t, p, "endless")
	mustPlay(t, p, "second")
	if _, err := waitFor(rec.started); err != nil {
		t.Fatal(err)
	}
	q, _ := p.Queue("g1")

	if !q.TogglePause() {
		t.Fatal("toggle should pause")
	}
	if !q.Skip() {
		t.Fatal("Skip returned false while paused")
	}
	if title, err := waitFor(rec.started); err != nil || title != "Second" {
		t.Fatalf("next start = %q, %v", title, err)
	}
	if q.Paused() {
		t.Error("the next track must start unpaused")
	}

	// Second has a finite stream; it only ends if frames flow.
	conn := waitConn(t, voice)
	if !waitClosed(conn.disconnected) {
		t.Fatal("next track stayed silent after skipping while paused")
	}
}

func TestDeleteStopsAndLeaves(t *testing.T) {
	t.Parallel()

	voice := &fakeVoice{}
	rec := newRecorder()
	cfg := DefaultConfig()
	cfg.LeaveOnEmpty = false
	p, _, _ := newTestPlayer(cfg, voice, rec)
	defer p.Close()

	mustPlay(t, p, "endless")
	mustPlay(t, p, "second")
	if _, err := waitFor(rec.started); err != nil {
		t.Fatal(err)
	}
	q, _ := p.Queue("g1")
	q.Delete()

	if !waitClosed(q.Done()) {
		t.Fatal("Done not closed")
	}
	if !waitClosed(waitConn(t, voice).disconnected) {
		t.Fatal("expected disconnect on stop")
	}
	if _, ok := p.Queue("g1"); ok {
		t.Error("queue still registered")
	}
	if q.IsPlaying() || q.Skip() {
		t.Error("deleted queue reports playing")
	}
	select {
	case title := <-rec.started:
		t.Errorf("track %q started after stop", title)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnectionError(t *testing.T) {
	t.Parallel()

	voice := &fakeVoice{joinErr: errors.New("missing permissions")}
	rec := newRecorder()
	p, _, tr := newTestPlayer(DefaultConfig(), voice, rec)
	defer p.Close()

	mustPlay(t, p, "lofi hip hop")

	err, werr := waitFor(rec.connErr)
	if werr != nil {
		t.Fatal(werr)
	}
	if !errors.Is(err, ErrVoiceConnect) {
		t.Errorf("err = %v, want ErrVoiceConnect", err)
	}
	if _, ok := p.Queue("g1"); ok {
		t.Error("queue should be deleted after a connection error")
	}
	if tr.opened.Load() != 0 {
		t.Error("transcoder opened without a voice connection")
	}
}

func TestStreamErrorMovesOn(t *testing.T) {
	t.Parallel()

	voice := &fakeVoice{}
	rec := newRecorder()
	cfg := DefaultConfig()
	cfg.LeaveOnEmpty = false
	p, _, _ := newTestPlayer(cfg, voice, rec)
	defer p.Close()

	mustPlay(t, p, "broken")
	mustPlay(t, p, "second")

	if title, _ := waitFor(rec.started); title != "Broken" {
		t.Fatalf("first start = %q", title)
	}
	err, werr := waitFor(rec.errors)
	if werr != nil || err == nil || err.Error() != "decoder exploded" {
		t.Fatalf("OnError = %v, %v", err, werr)
	}
	if title, _ := waitFor(rec.started); title != "Second" {
		t.Fatalf("second start = %q", title)
	}
}

func TestLeaveOnEmpty(t *testing.T) {
	t.Parallel()

	voice := &fakeVoice{}
	rec := newRecorder()
	cfg := DefaultConfig()
	cfg.LeaveOnEmptyCooldown = 20 * time.Millisecond
	p, _, _ := newTestPlayer(cfg, voice, rec)
	p.emptyCheck = 5 * time.Millisecond
	defer p.Close()

	mustPlay(t, p, "endless")
	if _, err := waitFor(rec.started); err != nil {
		t.Fatal(err)
	}
	q, _ := p.Queue("g1")
	if !waitClosed(q.Done()) {
		t.Fatal("queue not deleted on an empty channel")
	}
	if !waitClosed(waitConn(t, voice).disconnected) {
		t.Fatal("expected disconnect")
	}
}

func TestStayOnStop(t *testing.T) {
	t.Parallel()

	voice := &fakeVoice{}
	rec := newRecorder()
	cfg := DefaultConfig()
	cfg.LeaveOnEmpty = false
	cfg.LeaveOnStop = false
	p, _, _ := newTestPlayer(cfg, voice, rec)

	mustPlay(t, p, "endless")
	if _, err := waitFor(rec.started); err != nil {
		t.Fatal(err)
	}
	q, _ := p.Queue("g1")
	q.Delete()
	p.Close()

	select {
	case <-waitConn(t, voice).disconnected:
		t.Error("disconnected although LeaveOnStop is off")
	default:
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00"},
		{-time.Second, "0:00"},
		{65 * time.Second, "1:05"},
		{245*time.Second + 400*time.Millisecond, "4:05"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func mustPlay(t *testing.T, p *Player, query string) {
	t.Helper()
	if _, err := p.Play(context.Background(), req(query)); err != nil {
		t.Fatalf("Play(%q): %v", query, err)
	}
}

func waitConn(t *testing.T, v *fakeVoice) *fakeConn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if c := v.Conn(0); c != nil {
			return c
		}
		if time.Now().After(deadline) {
			t.Fatal("voice never joined")
		}
		time.Sleep(time.Millisecond)
	}
}
