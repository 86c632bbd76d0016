package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/analysis/emotion"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/bus"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/chat"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/persona"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/speech"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/service/avatar"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/service/capture"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/service/mediacache"
)

var (
	ErrPersonaRequired = errors.New("persona id is required")
	ErrPersonaNotFound = errors.New("persona not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
	ErrEmptyMessage    = errors.New("message is empty")
)

// DefaultHistoryLimit is how many history entries accompany a reply request.
const DefaultHistoryLimit = 20

// ReplyGenerator produces the assistant reply for a user message.
type ReplyGenerator interface {
	Reply(ctx context.Context, p persona.Persona, req chat.ReplyRequest) (string, error)
}

// VoiceSynthesizer renders `[voice:...]` snippets.
type VoiceSynthesizer interface {
	Synthesize(ctx context.Context, p persona.Persona, text string, mood emotion.Label) (speech.TTSResponse, error)
}

// BlobStore holds recorded audio on behalf of sessions.
type BlobStore interface {
	capture.BlobStore
	ReleaseOwner(owner string) int
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Replies      ReplyGenerator
	Videos       avatar.VideoGenerator
	VideoEnabled bool
	Voices       VoiceSynthesizer
	Blobs        BlobStore
	Bus          *bus.Bus
	Cache        mediacache.KV
	HistoryLimit int
	Logger       zerolog.Logger

	// capture tuning, mostly for tests
	NewTicker    func(time.Duration) capture.Ticker
	FlushTimeout time.Duration
}

type devices struct {
	mic        capture.Microphone
	recognizer capture.RecognizerCapability
}

// Service manages live sessions and the per-persona media caches they share.
type Service struct {
	personas persona.Store
	deps     Deps
	logger   zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	devices  map[string]devices
	caches   map[string]*mediacache.Cache
}

// NewService creates the session manager.
func NewService(personas persona.Store, deps Deps) *Service {
	if deps.HistoryLimit <= 0 {
		deps.HistoryLimit = DefaultHistoryLimit
	}
	if deps.Bus == nil {
		deps.Bus = bus.New()
	}
	if deps.Cache == nil {
		deps.Cache = mediacache.NewMemoryStore()
	}
	return &Service{
		personas: personas,
		deps:     deps,
		logger:   deps.Logger,
		sessions: make(map[string]*Session),
		devices:  make(map[string]devices),
		caches:   make(map[string]*mediacache.Cache),
	}
}

// Bus returns the event bus sessions publish to.
func (s *Service) Bus() *bus.Bus { return s.deps.Bus }

// CreateSession provisions a session bound to a persona.
func (s *Service) CreateSession(ctx context.Context, personaID string) (*Session, error) {
	p, err := s.lookupPersona(personaID)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	session := newSession(id, p, s.cacheFor(ctx, p.ID), s.deps)

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	s.logger.Info().Str("session", id).Str("persona", p.ID).Msg("session created")
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// SwitchPersona tears down the session's current persona (in-flight video,
// recording, recorded audio) and starts a fresh history for personaID under
// the same session id.
func (s *Service) SwitchPersona(ctx context.Context, sessionID, personaID string) (*Session, error) {
	p, err := s.lookupPersona(personaID)
	if err != nil {
		return nil, err
	}
	cache := s.cacheFor(ctx, p.ID)

	s.mu.Lock()
	old, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	next := newSession(sessionID, p, cache, s.deps)
	if dev, ok := s.devices[sessionID]; ok {
		next.AttachDevices(dev.mic, dev.recognizer)
	}
	s.sessions[sessionID] = next
	s.mu.Unlock()

	old.Close()
	s.deps.Bus.Emitter(sessionID).Emit(bus.EventPersonaSwitched, bus.PersonaPayload{PersonaID: p.ID})
	s.logger.Info().Str("session", sessionID).Str("from", old.Persona().ID).Str("to", p.ID).Msg("persona switched")
	return next, nil
}

// AttachDevices binds device capabilities to a session id. They survive
// persona switches.
func (s *Service) AttachDevices(sessionID string, mic capture.Microphone, recognizer capture.RecognizerCapability) error {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if ok {
		s.devices[sessionID] = devices{mic: mic, recognizer: recognizer}
	}
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	session.AttachDevices(mic, recognizer)
	return nil
}

// DetachDevices forgets the devices bound to a session id, provided mic is
// still the one attached. A newer connection for the same session keeps its
// devices when an older one goes away. Microphones are compared by identity,
// so implementations must be comparable.
func (s *Service) DetachDevices(sessionID string, mic capture.Microphone) {
	s.mu.Lock()
	dev, attached := s.devices[sessionID]
	if !attached || dev.mic != mic {
		s.mu.Unlock()
		return
	}
	session, ok := s.sessions[sessionID]
	delete(s.devices, sessionID)
	s.mu.Unlock()

	if ok {
		session.CancelRecording()
		session.AttachDevices(nil, capture.Unavailable())
	}
}

// CloseSession tears down and forgets a session.
func (s *Service) CloseSession(sessionID string) error {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	delete(s.devices, sessionID)
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	session.Close()
	s.logger.Info().Str("session", sessionID).Msg("session closed")
	return nil
}

// CloseAll tears down every session, used on shutdown.
func (s *Service) CloseAll() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.sessions = make(map[string]*Session)
	s.devices = make(map[string]devices)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, session := range sessions {
		wg.Add(1)
		go func(session *Session) {
			defer wg.Done()
			session.Close()
		}(session)
	}
	wg.Wait()
}

// Count reports the number of live sessions.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Service) lookupPersona(personaID string) (persona.Persona, error) {
	personaID = strings.TrimSpace(personaID)
	if personaID == "" {
		return persona.Persona{}, ErrPersonaRequired
	}
	p, ok := s.personas.FindByID(personaID)
	if !ok {
		return persona.Persona{}, ErrPersonaNotFound
	}
	return p, nil
}

// cacheFor returns the media cache shared by all sessions of personaID.
func (s *Service) cacheFor(ctx context.Context, personaID string) *mediacache.Cache {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cache, ok := s.caches[personaID]; ok {
		return cache
	}
	cache := mediacache.New(ctx, s.deps.Cache, mediacache.Namespace(personaID), s.logger.With().Str("component", "mediacache").Logger())
	s.caches[personaID] = cache
	return cache
}
