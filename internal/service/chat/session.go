package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/analysis/emotion"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/bus"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/content"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/chat"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/persona"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/speech"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/service/avatar"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/service/capture"
)

// Session is the orchestrator for one persona conversation: an append-only
// history, the reply cycle, the avatar controller and the voice recorder.
type Session struct {
	info    chat.Session
	persona persona.Persona
	deps    Deps
	events  bus.Emitter
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	recorder *capture.Recorder
	avatar   *avatar.Controller // nil when video output is disabled

	sendMu sync.Mutex // serializes reply cycles so history stays in order

	mu      sync.RWMutex
	history []chat.ChatMessage
	closed  bool

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newSession(id string, p persona.Persona, cache avatar.Cache, deps Deps) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	events := deps.Bus.Emitter(id)
	logger := deps.Logger.With().Str("session", id).Str("persona", p.ID).Logger()

	s := &Session{
		info:    chat.Session{ID: id, PersonaID: p.ID, CreatedAt: time.Now().UTC()},
		persona: p,
		deps:    deps,
		events:  events,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		history: make([]chat.ChatMessage, 0, 16),
	}

	s.recorder = capture.NewRecorder(capture.Config{
		Owner:        id,
		Placeholder:  p.VoicePlaceholder,
		Blobs:        deps.Blobs,
		Events:       events,
		Logger:       logger.With().Str("component", "capture").Logger(),
		NewTicker:    deps.NewTicker,
		FlushTimeout: deps.FlushTimeout,
	})

	if deps.VideoEnabled && deps.Videos != nil && cache != nil {
		s.avatar = avatar.NewController(p, deps.Videos, cache, events, logger.With().Str("component", "avatar").Logger())
	}

	if greeting := strings.TrimSpace(p.OpeningLine); greeting != "" {
		s.history = append(s.history, chat.ChatMessage{
			Role:      chat.RoleAssistant,
			Content:   greeting,
			CreatedAt: s.info.CreatedAt,
		})
	}
	return s
}

// Info returns the session descriptor.
func (s *Session) Info() chat.Session { return s.info }

// ID returns the session identifier.
func (s *Session) ID() string { return s.info.ID }

// Persona returns the persona this session speaks as.
func (s *Session) Persona() persona.Persona { return s.persona }

// History returns a copy of the conversation so far.
func (s *Session) History() []chat.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]chat.ChatMessage(nil), s.history...)
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// SendText sends a typed user message.
func (s *Session) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	return s.Send(ctx, chat.ChatMessage{Role: chat.RoleUser, Content: text})
}

// Send runs one reply cycle: the user message is appended at once, the reply
// endpoint receives it with the recent history, and the assistant reply (or
// the persona's apology on failure) is appended afterwards. Reply failures
// never reach the caller.
func (s *Session) Send(ctx context.Context, msg chat.ChatMessage) error {
	if strings.TrimSpace(msg.Content) == "" && msg.AudioURL == "" {
		return ErrEmptyMessage
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	msg.Role = chat.RoleUser
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	prior, ok := s.appendMessage(msg)
	if !ok {
		return ErrSessionClosed
	}

	req := chat.ReplyRequest{
		Message: msg.Content,
		History: chat.RecentHistory(prior, s.deps.HistoryLimit),
	}

	s.events.Emit(bus.EventReplyLoading, bus.FlagPayload{Active: true})
	start := time.Now()
	reply, err := s.deps.Replies.Reply(s.ctx, s.persona, req)
	s.events.Emit(bus.EventReplyLoading, bus.FlagPayload{Active: false})

	if s.ctx.Err() != nil {
		return ErrSessionClosed
	}

	if err != nil || strings.TrimSpace(reply) == "" {
		if err == nil {
			err = errors.New("empty reply")
		}
		s.logger.Warn().Err(err).Int64("latency_ms", time.Since(start).Milliseconds()).Msg("reply failed, sending apology")
		s.appendMessage(chat.ChatMessage{
			Role:      chat.RoleAssistant,
			Content:   s.persona.Apology,
			CreatedAt: time.Now().UTC(),
		})
		return nil
	}

	s.logger.Info().Int("history", len(req.History)).Int64("latency_ms", time.Since(start).Milliseconds()).Msg("reply received")
	if _, ok := s.appendMessage(chat.ChatMessage{
		Role:      chat.RoleAssistant,
		Content:   reply,
		CreatedAt: time.Now().UTC(),
	}); !ok {
		return ErrSessionClosed
	}

	// 令牌在sendMu内同步领取，保证视频顺序与回复顺序一致
	if s.avatar != nil {
		if generate := s.avatar.Begin(s.ctx, reply); generate != nil {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				generate()
			}()
		}
	}
	return nil
}

// appendMessage adds msg to the history and publishes it. It returns the
// history as it was before the append.
func (s *Session) appendMessage(msg chat.ChatMessage) ([]chat.ChatMessage, bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, false
	}
	prior := append([]chat.ChatMessage(nil), s.history...)
	s.history = append(s.history, msg)
	s.mu.Unlock()

	s.events.Emit(bus.EventMessageAppended, bus.MessagePayload{
		Message:  msg,
		Segments: s.segments(msg),
	})
	return prior, true
}

func (s *Session) segments(msg chat.ChatMessage) []content.Segment {
	if msg.Role == chat.RoleAssistant {
		return content.Parse(msg.Content, s.persona.Tags)
	}
	return []content.Segment{content.Text(msg.Content)}
}

// AttachDevices sets the microphone and recognizer used for recordings.
func (s *Session) AttachDevices(mic capture.Microphone, recognizer capture.RecognizerCapability) {
	s.recorder.SetDevices(mic, recognizer)
}

// RecordingState reports the capture state.
func (s *Session) RecordingState() capture.State {
	return s.recorder.State()
}

// StartRecording begins voice capture. Microphone failures leave the
// session idle and are only logged.
func (s *Session) StartRecording() {
	if err := s.recorder.Start(s.ctx); err != nil {
		s.logger.Debug().Err(err).Msg("recording not started")
	}
}

// BeginRecording claims the recorder for a press at x and returns the step
// that acquires the microphone, or nil when nothing was started. The origin
// of an already active recording is left alone.
func (s *Session) BeginRecording(x float64) func() {
	acquire, err := s.recorder.Begin(x)
	if err != nil {
		s.logger.Debug().Err(err).Msg("recording not started")
		return nil
	}
	if acquire == nil {
		return nil
	}
	return func() {
		if err := acquire(s.ctx); err != nil {
			s.logger.Debug().Err(err).Msg("recording not started")
		}
	}
}

// StopRecording ends capture and sends the recorded message through the
// regular reply cycle.
func (s *Session) StopRecording(ctx context.Context) error {
	if deliver := s.FinishRecording(); deliver != nil {
		return deliver(ctx)
	}
	return nil
}

// FinishRecording ends capture at once and returns the step that assembles
// the voice message and sends it, or nil when nothing was recording.
func (s *Session) FinishRecording() func(context.Context) error {
	collect := s.recorder.Finish()
	if collect == nil {
		return nil
	}
	return func(ctx context.Context) error {
		msg, ok := collect(ctx)
		if !ok {
			return nil
		}
		return s.Send(ctx, msg)
	}
}

// CancelRecording discards the active recording.
func (s *Session) CancelRecording() {
	s.recorder.Cancel()
}

// PointerMove feeds the swipe-to-cancel gesture.
func (s *Session) PointerMove(x float64) capture.SwipeDecision {
	return s.recorder.PointerMove(x)
}

// CloseVideo closes the talking-head view, aborting any request in flight.
func (s *Session) CloseVideo() {
	if s.avatar == nil {
		s.events.Emit(bus.EventVideoClosed, nil)
		return
	}
	s.avatar.CloseView()
}

// SynthesizeVoice renders a voice snippet. Failures are logged and reported
// as ok=false so the client can fall back to showing the text.
func (s *Session) SynthesizeVoice(ctx context.Context, text string, mood emotion.Label) (speech.TTSResponse, bool) {
	if s.deps.Voices == nil {
		return speech.TTSResponse{}, false
	}
	if !s.persona.Tags.Voice {
		return speech.TTSResponse{}, false
	}
	resp, err := s.deps.Voices.Synthesize(ctx, s.persona, text, mood)
	if err != nil {
		s.logger.Warn().Err(err).Msg("voice snippet failed")
		return speech.TTSResponse{}, false
	}
	return resp, true
}

// Close aborts in-flight generation, cancels recording, waits for background
// work and releases recorded audio.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.recorder.Close()
		if s.avatar != nil {
			s.avatar.Close()
		}
		s.cancel()
		s.wg.Wait()

		if s.deps.Blobs != nil {
			released := s.deps.Blobs.ReleaseOwner(s.info.ID)
			s.logger.Debug().Int("blobs", released).Msg("session closed")
		}
	})
}
