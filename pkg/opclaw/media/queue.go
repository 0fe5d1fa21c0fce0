package media

import (
	"sync"
	"time"
)

// Queue is the playback state of one guild.
type Queue struct {
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	CreatedAt      time.Time

	player *Player

	mu      sync.Mutex
	tracks  []*Track
	current *Track
	paused  bool
	resume  chan struct{}
	deleted bool
	reason  endReason

	skip chan struct{}
	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newQueue(p *Player, guildID, voiceChannelID, textChannelID string) *Queue {
	return &Queue{
		GuildID:        guildID,
		VoiceChannelID: voiceChannelID,
		TextChannelID:  textChannelID,
		CreatedAt:      time.Now(),
		player:         p,
		skip:           make(chan struct{}, 1),
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
}

// IsPlaying reports whether a track is loaded. A paused track counts as playing.
func (q *Queue) IsPlaying() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current != nil && !q.deleted
}

// Current returns the loaded track or nil.
func (q *Queue) Current() *Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// Tracks returns the upcoming tracks in order.
func (q *Queue) Tracks() []*Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Track(nil), q.tracks...)
}

// Size returns the number of upcoming tracks.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracks)
}

// Paused reports whether playback is paused.
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Skip ends the current track. It reports false when nothing is playing.
func (q *Queue) Skip() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil || q.deleted {
		return false
	}
	select {
	case q.skip <- struct{}{}:
	default:
	}
	return true
}

// TogglePause flips the pause state and returns the new state.
func (q *Queue) TogglePause() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused {
		q.unpauseLocked()
	} else {
		q.paused = true
		q.resume = make(chan struct{})
	}
	return q.paused
}

// endReason records why a queue was deleted.
type endReason int

const (
	endStopped endReason = iota
	endFinished
	endEmptyChannel
	endShutdown
)

// Delete stops playback, clears the tracks and removes the queue from the player.
func (q *Queue) Delete() {
	q.player.remove(q)
	q.markDeleted(endStopped)
}

// Done is closed once the queue is deleted.
func (q *Queue) Done() <-chan struct{} { return q.done }

func (q *Queue) markDeleted(reason endReason) {
	q.once.Do(func() {
		q.mu.Lock()
		q.deleted = true
		q.reason = reason
		q.tracks = nil
		q.unpauseLocked()
		q.mu.Unlock()
		close(q.done)
	})
}

func (q *Queue) ended() endReason {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.reason
}

func (q *Queue) push(t *Track) {
	q.mu.Lock()
	q.tracks = append(q.tracks, t)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop moves the next track into current. It returns nil when empty.
func (q *Queue) pop() *Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tracks) == 0 || q.deleted {
		return nil
	}
	t := q.tracks[0]
	q.tracks[0] = nil
	q.tracks = q.tracks[1:]
	q.current = t
	// Every track starts audible, even when the previous one was paused.
	q.unpauseLocked()
	// A skip requested for the previous track must not end this one.
	select {
	case <-q.skip:
	default:
	}
	return t
}

func (q *Queue) finish() {
	q.mu.Lock()
	q.current = nil
	q.mu.Unlock()
}

func (q *Queue) unpauseLocked() {
	if q.resume != nil {
		close(q.resume)
		q.resume = nil
	}
	q.paused = false
}

// pauseGate returns a channel to wait on while paused, or nil.
func (q *Queue) pauseGate() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.paused {
		return nil
	}
	return q.resume
}
