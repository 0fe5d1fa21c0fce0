package media

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

type fakeResolver struct {
	mu     sync.Mutex
	calls  []string
	tracks map[string]*Track
}

func (r *fakeResolver) Resolve(ctx context.Context, query string) (*Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, query)
	t, ok := r.tracks[query]
	if !ok {
		return nil, ErrNoTrack
	}
	cp := *t
	return &cp, nil
}

// fakeTranscoder serves frames per stream URL. A negative count streams
// until the context ends; failing URLs return an error mid-stream.
type fakeTranscoder struct {
	frames map[string]int
	fail   map[string]error
	opened atomic.Int32
}

func (f *fakeTranscoder) Open(ctx context.Context, streamURL string) (FrameSource, error) {
	f.opened.Add(1)
	n, ok := f.frames[streamURL]
	if !ok {
		n = 3
	}
	return &fakeSource{ctx: ctx, left: n, err: f.fail[streamURL]}, nil
}

type fakeSource struct {
	ctx  context.Context
	left int
	err  error
}

func (s *fakeSource) NextFrame() ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.left == 0 {
		return nil, io.EOF
	}
	if s.left > 0 {
		s.left--
		return []byte{0xfc, 0xff, 0xfe}, nil
	}
	select {
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	case <-time.After(time.Millisecond):
		return []byte{0xfc, 0xff, 0xfe}, nil
	}
}

func (s *fakeSource) Close() error { return nil }

type fakeVoice struct {
	joinErr   error
	listeners atomic.Int32

	mu    sync.Mutex
	joins []string
	conns []*fakeConn
}

func (v *fakeVoice) Join(ctx context.Context, guildID, channelID string) (VoiceConn, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.joins = append(v.joins, guildID+"/"+channelID)
	if v.joinErr != nil {
		return nil, v.joinErr
	}
	c := &fakeConn{disconnected: make(chan struct{})}
	v.conns = append(v.conns, c)
	return c, nil
}

func (v *fakeVoice) Listeners(guildID, channelID string) int {
	return int(v.listeners.Load())
}

func (v *fakeVoice) Joins() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.joins)
}

func (v *fakeVoice) Conn(i int) *fakeConn {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i >= len(v.conns) {
		return nil
	}
	return v.conns[i]
}

type fakeConn struct {
	frames       atomic.Int32
	once         sync.Once
	disconnected chan struct{}
}

func (c *fakeConn) Speaking(on bool) error { return nil }

func (c *fakeConn) SendFrame(ctx context.Context, frame []byte) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.frames.Add(1)
	return nil
}

func (c *fakeConn) Disconnect() error {
	c.once.Do(func() { close(c.disconnected) })
	return nil
}

// recorder collects player events.
type recorder struct {
	started chan string
	errors  chan error
	connErr chan error
}

func newRecorder() *recorder {
	return &recorder{
		started: make(chan string, 16),
		errors:  make(chan error, 16),
		connErr: make(chan error, 16),
	}
}

func (r *recorder) events() Events {
	return Events{
		OnStart:           func(q *Queue, t *Track) { r.started <- t.Title },
		OnError:           func(q *Queue, err error) { r.errors <- err },
		OnConnectionError: func(q *Queue, err error) { r.connErr <- err },
	}
}

var errTimeout = errors.New("timed out waiting")

func waitFor[T any](ch <-chan T) (T, error) {
	select {
	case v := <-ch:
		return v, nil
	case <-time.After(2 * time.Second):
		var zero T
		return zero, errTimeout
	}
}

func waitClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}
