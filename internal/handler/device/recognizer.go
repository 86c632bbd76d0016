package device

import (
	"context"
	"strings"
	"sync"

	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/service/capture"
)

// remoteRecognizer relays the browser's speech recognizer.
type remoteRecognizer struct {
	sock *socket

	mu      sync.Mutex
	results chan capture.Transcript
}

func newRemoteRecognizer(sock *socket) *remoteRecognizer {
	return &remoteRecognizer{sock: sock}
}

func (r *remoteRecognizer) Start(_ context.Context) (<-chan capture.Transcript, error) {
	results := make(chan capture.Transcript, 32)

	r.mu.Lock()
	previous := r.results
	r.results = results
	if previous != nil {
		close(previous)
	}
	r.mu.Unlock()

	if err := r.sock.command(cmdRecognizerStart, nil); err != nil {
		r.finish()
		return nil, errDisconnected
	}
	return results, nil
}

// Stop asks the browser to stop; late results are still accepted until the
// browser reports recognizer.stopped.
func (r *remoteRecognizer) Stop() {
	if err := r.sock.command(cmdRecognizerStop, nil); err != nil {
		r.finish()
	}
}

func (r *remoteRecognizer) transcript(text string, final bool) {
	text = strings.TrimSpace(text)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		return
	}
	select {
	case r.results <- capture.Transcript{Text: text, Final: final}:
	default:
	}
}

// finish closes the current result channel.
func (r *remoteRecognizer) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results != nil {
		close(r.results)
		r.results = nil
	}
}
