package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/service/capture"
)

const (
	permissionTimeout = 30 * time.Second
	chunkBuffer       = 256
)

var (
	errDisconnected = errors.New("device disconnected")
	errSuperseded   = errors.New("microphone request superseded")
)

// micRequest is sent with mic.request; the browser echoes the id in its
// answer. An answer without an id applies to the pending request.
type micRequest struct {
	ID uint64 `json:"id"`
}

// remoteMicrophone grants tracks backed by the browser microphone. Audio
// arrives as binary websocket frames.
type remoteMicrophone struct {
	sock   *socket
	logger zerolog.Logger
	done   <-chan struct{}

	mu        sync.Mutex
	seq       uint64
	pending   chan error
	pendingID uint64
	track     *remoteTrack
}

func newRemoteMicrophone(sock *socket, done <-chan struct{}, logger zerolog.Logger) *remoteMicrophone {
	return &remoteMicrophone{sock: sock, done: done, logger: logger}
}

// Open asks the browser for microphone access and waits for the answer.
// A newer Open supersedes a request still waiting.
func (m *remoteMicrophone) Open(ctx context.Context) (capture.Track, error) {
	answer := make(chan error, 1)

	m.mu.Lock()
	if m.pending != nil {
		m.pending <- errSuperseded
	}
	m.seq++
	id := m.seq
	m.pending = answer
	m.pendingID = id
	m.mu.Unlock()

	if err := m.sock.command(cmdMicRequest, micRequest{ID: id}); err != nil {
		m.abandon(answer)
		return nil, errDisconnected
	}

	timer := time.NewTimer(permissionTimeout)
	defer timer.Stop()

	select {
	case err := <-answer:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		m.abandon(answer)
		return nil, ctx.Err()
	case <-m.done:
		m.abandon(answer)
		return nil, errDisconnected
	case <-timer.C:
		m.abandon(answer)
		return nil, capture.ErrPermissionDenied
	}

	track := &remoteTrack{mic: m, chunks: make(chan []byte, chunkBuffer)}
	m.mu.Lock()
	previous := m.track
	m.track = track
	m.mu.Unlock()
	if previous != nil {
		previous.finish()
	}
	return track, nil
}

// abandon withdraws a request nobody waits for any more. A grant that raced
// in is released right away.
func (m *remoteMicrophone) abandon(answer chan error) {
	m.mu.Lock()
	if m.pending == answer {
		m.pending = nil
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	select {
	case err := <-answer:
		if err == nil {
			m.sock.command(cmdMicStop, nil)
		}
	default:
	}
}

// answer delivers the browser's reply to request id (0 means the pending
// one). It sends under the lock, so abandon sees the reply once the request
// is no longer pending.
func (m *remoteMicrophone) answer(id uint64, err error) {
	m.mu.Lock()
	pending := m.pending
	if pending != nil && (id == 0 || id == m.pendingID) {
		m.pending = nil
		pending <- err
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err == nil {
		// 请求已被取消，浏览器仍开启了麦克风
		m.logger.Debug().Uint64("request", id).Msg("late microphone grant, releasing")
		m.sock.command(cmdMicStop, nil)
	}
}

// granted and denied are the browser's permission answers.
func (m *remoteMicrophone) granted(id uint64) { m.answer(id, nil) }
func (m *remoteMicrophone) denied(id uint64)  { m.answer(id, capture.ErrPermissionDenied) }

// audio routes a binary frame to the active track.
func (m *remoteMicrophone) audio(data []byte) {
	m.mu.Lock()
	track := m.track
	m.mu.Unlock()

	if track == nil {
		return
	}
	if !track.push(data) {
		m.logger.Warn().Int("bytes", len(data)).Msg("audio chunk dropped")
	}
}

// stopped is the browser confirming the recorder flushed its last chunk.
func (m *remoteMicrophone) stopped() {
	m.mu.Lock()
	track := m.track
	m.track = nil
	m.mu.Unlock()

	if track != nil {
		track.finish()
	}
}

// shutdown releases everything when the socket goes away.
func (m *remoteMicrophone) shutdown() {
	m.answer(0, errDisconnected)
	m.stopped()
}

type remoteTrack struct {
	mic    *remoteMicrophone
	chunks chan []byte

	mu       sync.Mutex
	finished bool
	stopSent bool
}

func (t *remoteTrack) Chunks() <-chan []byte { return t.chunks }

// Stop tells the browser to stop recording. Chunks closes once the browser
// confirms or the socket closes.
func (t *remoteTrack) Stop() {
	t.mu.Lock()
	if t.stopSent || t.finished {
		t.mu.Unlock()
		return
	}
	t.stopSent = true
	t.mu.Unlock()

	if err := t.mic.sock.command(cmdMicStop, nil); err != nil {
		t.finish()
	}
}

func (t *remoteTrack) push(data []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return true
	}
	select {
	case t.chunks <- append([]byte(nil), data...):
		return true
	default:
		return false
	}
}

func (t *remoteTrack) finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}
	t.finished = true
	close(t.chunks)
}
