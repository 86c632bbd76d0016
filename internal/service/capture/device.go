package capture

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied is returned when the user refuses microphone access.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")
	// ErrNoDevice is returned when no microphone is attached to the session.
	ErrNoDevice = errors.New("capture: no microphone available")
	// ErrClosed is returned after the recorder has been closed.
	ErrClosed = errors.New("capture: recorder closed")
)

// Microphone grants exclusive audio tracks. ctx bounds only the wait for
// access; a returned track lives until Stop.
type Microphone interface {
	Open(ctx context.Context) (Track, error)
}

// Track is an open microphone stream. Chunks is closed after Stop once all
// buffered audio has been delivered.
type Track interface {
	Chunks() <-chan []byte
	Stop()
}

// Transcript is an incremental or final recognizer result.
type Transcript struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Recognizer produces a running transcript while recording. Stop is best
// effort; the result channel is closed once the recognizer has finished.
type Recognizer interface {
	Start(ctx context.Context) (<-chan Transcript, error)
	Stop()
}

// RecognizerCapability models whether the platform offers speech recognition.
type RecognizerCapability struct {
	recognizer Recognizer
}

// Available wraps a working recognizer.
func Available(r Recognizer) RecognizerCapability {
	return RecognizerCapability{recognizer: r}
}

// Unavailable means capture degrades to audio only.
func Unavailable() RecognizerCapability {
	return RecognizerCapability{}
}

// Recognizer returns the recognizer if the capability is available.
func (c RecognizerCapability) Recognizer() (Recognizer, bool) {
	return c.recognizer, c.recognizer != nil
}

// BlobStore turns assembled audio into a transient URL.
type BlobStore interface {
	Put(owner string, data []byte, contentType string) (string, error)
}

// Ticker delivers elapsed-time ticks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker is the default ticker factory.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}
