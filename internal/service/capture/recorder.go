// Package capture implements the voice recording state machine: microphone
// capture, optional live transcription, elapsed-time ticks and swipe-to-cancel.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/bus"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/chat"
)

// State of the recorder.
type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateAcquiring:
		return "acquiring"
	case StateRecording:
		return "recording"
	default:
		return "idle"
	}
}

const (
	defaultTickInterval = time.Second
	defaultFlushTimeout = 2 * time.Second
	defaultContentType  = "audio/webm"
)

// Config wires a Recorder to its devices and outputs.
type Config struct {
	Owner        string // blob owner, usually the session id
	Placeholder  string // content used when no transcript is available
	ContentType  string
	Microphone   Microphone
	Recognizer   RecognizerCapability
	Blobs        BlobStore
	Events       bus.Emitter
	Logger       zerolog.Logger
	NewTicker    func(time.Duration) Ticker
	TickInterval time.Duration
	FlushTimeout time.Duration
}

// attempt holds everything owned by one recording. It is dropped as a whole
// on cancel, which discards the buffered audio.
type attempt struct {
	id             uint64
	abortOpen      context.CancelFunc
	track          Track
	recognizer     Recognizer
	stopTick       chan struct{}
	chunksDone     chan struct{}
	transcriptDone chan struct{}
	chunks         [][]byte
	finals         []string
	interim        string
	elapsed        int
	hint           bool
}

func (a *attempt) transcript() string {
	parts := append([]string(nil), a.finals...)
	if a.interim != "" {
		parts = append(parts, a.interim)
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// Recorder is the per-session capture state machine. At most one recording
// is active at a time; the microphone track is released on every exit path.
type Recorder struct {
	cfg    Config
	logger zerolog.Logger

	mu        sync.Mutex
	state     State
	closed    bool
	seq       uint64
	cur       *attempt
	origin    float64
	hasOrigin bool
}

// NewRecorder creates an idle recorder.
func NewRecorder(cfg Config) *Recorder {
	if cfg.NewTicker == nil {
		cfg.NewTicker = NewTimeTicker
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = defaultFlushTimeout
	}
	if cfg.ContentType == "" {
		cfg.ContentType = defaultContentType
	}
	return &Recorder{cfg: cfg, logger: cfg.Logger}
}

// SetDevices replaces the microphone and recognizer capability used by
// subsequent recordings.
func (r *Recorder) SetDevices(mic Microphone, recognizer RecognizerCapability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.Microphone = mic
	r.cfg.Recognizer = recognizer
}

// State reports the current state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Elapsed reports the seconds counted by the active recording.
func (r *Recorder) Elapsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return 0
	}
	return r.cur.elapsed
}

// Start begins a recording. Starting while one is active is a no-op.
// Microphone failures return the recorder to Idle and are reported to the
// caller for logging only.
func (r *Recorder) Start(ctx context.Context) error {
	acquire, err := r.begin(nil)
	if acquire == nil {
		return err
	}
	return acquire(ctx)
}

// Begin moves an idle recorder to Acquiring for a press at x and returns the
// step that opens the microphone. It returns nil when a recording is already
// active, leaving its origin untouched. Stop or Cancel issued after Begin
// returns apply to this recording even before the microphone is open.
func (r *Recorder) Begin(x float64) (func(context.Context) error, error) {
	return r.begin(&x)
}

func (r *Recorder) begin(origin *float64) (func(context.Context) error, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if r.state != StateIdle {
		return nil, nil
	}
	mic := r.cfg.Microphone
	if mic == nil {
		return nil, ErrNoDevice
	}
	r.seq++
	a := &attempt{id: r.seq}
	r.cur = a
	r.state = StateAcquiring
	if origin != nil {
		r.origin = *origin
		r.hasOrigin = true
	}
	return func(ctx context.Context) error {
		return r.acquire(ctx, a, mic)
	}, nil
}

func (r *Recorder) acquire(ctx context.Context, a *attempt, mic Microphone) error {
	openCtx, abort := context.WithCancel(ctx)
	defer abort()

	r.mu.Lock()
	if r.cur != a {
		r.mu.Unlock()
		return nil
	}
	a.abortOpen = abort
	r.mu.Unlock()

	track, err := mic.Open(openCtx)

	r.mu.Lock()
	if r.cur != a {
		// cancelled while waiting for the microphone
		r.mu.Unlock()
		if track != nil {
			track.Stop()
		}
		return nil
	}
	if err != nil {
		r.resetLocked()
		r.mu.Unlock()
		return fmt.Errorf("open microphone: %w", err)
	}
	a.track = track
	a.stopTick = make(chan struct{})
	a.chunksDone = make(chan struct{})
	r.state = StateRecording
	recognizer, hasRecognizer := r.cfg.Recognizer.Recognizer()
	r.mu.Unlock()

	go r.collectChunks(a)
	go r.tick(a, r.cfg.NewTicker(r.cfg.TickInterval))
	r.cfg.Events.Emit(bus.EventRecordingStarted, nil)

	if hasRecognizer {
		r.startRecognizer(ctx, a, recognizer)
	}
	return nil
}

func (r *Recorder) startRecognizer(ctx context.Context, a *attempt, recognizer Recognizer) {
	results, err := recognizer.Start(ctx)
	if err != nil {
		r.logger.Debug().Err(err).Msg("recognizer unavailable, recording audio only")
		return
	}

	r.mu.Lock()
	if r.cur != a {
		r.mu.Unlock()
		recognizer.Stop()
		return
	}
	a.recognizer = recognizer
	a.transcriptDone = make(chan struct{})
	r.mu.Unlock()

	go r.collectTranscripts(a, results)
}

func (r *Recorder) collectChunks(a *attempt) {
	defer close(a.chunksDone)
	for chunk := range a.track.Chunks() {
		r.mu.Lock()
		a.chunks = append(a.chunks, chunk)
		r.mu.Unlock()
	}
}

func (r *Recorder) collectTranscripts(a *attempt, results <-chan Transcript) {
	defer close(a.transcriptDone)
	for result := range results {
		text := strings.TrimSpace(result.Text)
		r.mu.Lock()
		if result.Final {
			if text != "" {
				a.finals = append(a.finals, text)
			}
			a.interim = ""
		} else {
			a.interim = text
		}
		r.mu.Unlock()
	}
}

func (r *Recorder) tick(a *attempt, ticker Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-a.stopTick:
			return
		case <-ticker.C():
			r.mu.Lock()
			if r.cur != a {
				r.mu.Unlock()
				return
			}
			a.elapsed++
			elapsed := a.elapsed
			r.mu.Unlock()
			r.cfg.Events.Emit(bus.EventRecordingTick, bus.TickPayload{Elapsed: elapsed})
		}
	}
}

// PointerMove feeds a pointer position while recording. A leftward swipe
// past CancelThreshold cancels immediately without waiting for release.
func (r *Recorder) PointerMove(x float64) SwipeDecision {
	r.mu.Lock()
	a := r.cur
	if a == nil {
		r.mu.Unlock()
		return SwipeContinue
	}
	if !r.hasOrigin {
		r.origin = x
		r.hasOrigin = true
	}
	decision := ClassifySwipe(r.origin - x)

	switch decision {
	case SwipeCancel:
		release := r.detachLocked(a)
		r.mu.Unlock()
		release()
		r.cfg.Events.Emit(bus.EventRecordingCancelled, nil)
		return decision
	case SwipeShowCancelHint:
		changed := !a.hint
		a.hint = true
		r.mu.Unlock()
		if changed {
			r.cfg.Events.Emit(bus.EventRecordingCancelHint, bus.FlagPayload{Active: true})
		}
	default:
		changed := a.hint
		a.hint = false
		r.mu.Unlock()
		if changed {
			r.cfg.Events.Emit(bus.EventRecordingCancelHint, bus.FlagPayload{Active: false})
		}
	}
	return decision
}

// Cancel discards the active recording. It reports whether one was active.
func (r *Recorder) Cancel() bool {
	r.mu.Lock()
	a := r.cur
	if a == nil {
		r.mu.Unlock()
		return false
	}
	release := r.detachLocked(a)
	r.mu.Unlock()

	release()
	r.cfg.Events.Emit(bus.EventRecordingCancelled, nil)
	return true
}

// Stop ends the active recording and builds the user message: the assembled
// audio as a transient URL plus the best transcript, or the placeholder.
// A stop that arrives before the microphone was granted cancels instead.
func (r *Recorder) Stop(ctx context.Context) (chat.ChatMessage, bool) {
	collect := r.Finish()
	if collect == nil {
		return chat.ChatMessage{}, false
	}
	return collect(ctx)
}

// Finish is the first half of Stop: it returns the recorder to Idle and
// releases the devices before returning. The returned function waits for
// buffered audio and builds the message. Finish returns nil when there was
// nothing to send.
func (r *Recorder) Finish() func(context.Context) (chat.ChatMessage, bool) {
	r.mu.Lock()
	a := r.cur
	if a == nil {
		r.mu.Unlock()
		return nil
	}
	if r.state == StateAcquiring {
		release := r.detachLocked(a)
		r.mu.Unlock()
		release()
		r.cfg.Events.Emit(bus.EventRecordingCancelled, nil)
		return nil
	}
	release := r.detachLocked(a)
	pending := []chan struct{}{a.chunksDone, a.transcriptDone}
	r.mu.Unlock()

	release()
	return func(ctx context.Context) (chat.ChatMessage, bool) {
		r.drain(ctx, pending)
		return r.assemble(a), true
	}
}

func (r *Recorder) assemble(a *attempt) chat.ChatMessage {
	r.mu.Lock()
	data := bytes.Join(a.chunks, nil)
	transcript := a.transcript()
	elapsed := a.elapsed
	r.mu.Unlock()

	msg := chat.ChatMessage{
		Role:      chat.RoleUser,
		Content:   transcript,
		CreatedAt: time.Now(),
	}
	if msg.Content == "" {
		msg.Content = r.cfg.Placeholder
	}
	if len(data) > 0 && r.cfg.Blobs != nil {
		url, err := r.cfg.Blobs.Put(r.cfg.Owner, data, r.cfg.ContentType)
		if err != nil {
			r.logger.Warn().Err(err).Msg("store recorded audio failed")
		} else {
			msg.AudioURL = url
		}
	}

	r.logger.Debug().
		Int("elapsed", elapsed).
		Int("bytes", len(data)).
		Bool("transcribed", transcript != "").
		Msg("recording sent")
	r.cfg.Events.Emit(bus.EventRecordingSent, nil)
	return msg
}

// Close cancels any active recording and rejects further starts.
func (r *Recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.Cancel()
}

// detachLocked returns the recorder to Idle and hands back a function that
// releases the attempt's devices. Callers run it after unlocking.
func (r *Recorder) detachLocked(a *attempt) func() {
	hint := a.hint
	if a.abortOpen != nil && r.state == StateAcquiring {
		a.abortOpen()
	}
	if a.stopTick != nil {
		close(a.stopTick)
	}
	r.resetLocked()

	track, recognizer := a.track, a.recognizer
	return func() {
		if recognizer != nil {
			recognizer.Stop()
		}
		if track != nil {
			track.Stop()
		}
		if hint {
			r.cfg.Events.Emit(bus.EventRecordingCancelHint, bus.FlagPayload{Active: false})
		}
	}
}

func (r *Recorder) resetLocked() {
	r.cur = nil
	r.state = StateIdle
	r.hasOrigin = false
}

// drain waits for the track and recognizer to deliver what they buffered.
func (r *Recorder) drain(ctx context.Context, pending []chan struct{}) {
	timer := time.NewTimer(r.cfg.FlushTimeout)
	defer timer.Stop()

	for _, done := range pending {
		if done == nil {
			continue
		}
		select {
		case <-done:
		case <-timer.C:
			r.logger.Debug().Msg("recording flush timed out")
			return
		case <-ctx.Done():
			return
		}
	}
}
