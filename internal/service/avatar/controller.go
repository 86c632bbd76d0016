// Package avatar drives talking-head video generation for assistant replies.
package avatar

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/bus"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/content"
	avatarmodel "github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/avatar"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/persona"
)

// SpeechLimit caps the text sent for lip-sync, in characters.
const SpeechLimit = 250

// VideoGenerator calls the avatar-video endpoint. Cancelling ctx aborts the call.
type VideoGenerator interface {
	GenerateVideo(ctx context.Context, req avatarmodel.VideoRequest) (string, error)
}

// Cache is the text → video lookup shared by a persona's sessions.
type Cache interface {
	Get(text string) (string, bool)
	Put(ctx context.Context, text, url string)
}

// Controller keeps at most one outstanding generation per session. Each
// request carries the token current when it was issued; results whose token
// is no longer current are discarded.
type Controller struct {
	persona   persona.Persona
	generator VideoGenerator
	cache     Cache
	events    bus.Emitter
	logger    zerolog.Logger

	mu         sync.Mutex
	token      uint64
	cancel     context.CancelFunc
	generating bool
	closed     bool
}

// NewController creates a controller for one session.
func NewController(p persona.Persona, generator VideoGenerator, cache Cache, events bus.Emitter, logger zerolog.Logger) *Controller {
	return &Controller{
		persona:   p,
		generator: generator,
		cache:     cache,
		events:    events,
		logger:    logger,
	}
}

// Token reports the current generation token.
func (c *Controller) Token() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Animate produces a talking-head video for reply. It blocks until the video
// is shown, served from cache, superseded, or failed. No error is returned:
// failures only clear the generating indicator.
func (c *Controller) Animate(ctx context.Context, reply string) {
	if generate := c.Begin(ctx, reply); generate != nil {
		generate()
	}
}

// Begin claims the current token for reply and supersedes anything in
// flight. A cache hit is shown at once and nil is returned; otherwise the
// returned function performs the generation and may run on another
// goroutine. Replies keep their order as long as Begin is called in order.
func (c *Controller) Begin(ctx context.Context, reply string) func() {
	text := content.SpeechText(reply, SpeechLimit)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if url, ok := c.cache.Get(text); ok {
		if c.abort() {
			c.events.Emit(bus.EventVideoGenerating, bus.FlagPayload{Active: false})
		}
		c.logger.Debug().Msg("avatar video served from cache")
		c.events.Emit(bus.EventVideoReady, bus.VideoPayload{URL: url})
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.token++
	token := c.token
	if c.cancel != nil {
		c.cancel()
	}
	reqCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.generating = true
	c.mu.Unlock()

	c.events.Emit(bus.EventVideoGenerating, bus.FlagPayload{Active: true})

	return func() {
		defer cancel()
		c.generate(reqCtx, ctx, token, text)
	}
}

func (c *Controller) generate(reqCtx, ctx context.Context, token uint64, text string) {
	start := time.Now()
	url, err := c.generator.GenerateVideo(reqCtx, avatarmodel.VideoRequest{
		ImageURL: c.persona.AvatarURL,
		Text:     text,
		Voice:    c.persona.VoiceID,
	})

	c.mu.Lock()
	current := token == c.token
	if current {
		c.cancel = nil
		c.generating = false
	}
	c.mu.Unlock()

	log := c.logger.With().Uint64("token", token).Int64("latency_ms", time.Since(start).Milliseconds()).Logger()

	if !current {
		log.Debug().Msg("discarding superseded avatar video")
		return
	}

	if err != nil {
		c.events.Emit(bus.EventVideoGenerating, bus.FlagPayload{Active: false})
		if errors.Is(err, context.Canceled) {
			log.Debug().Msg("avatar video request aborted")
			return
		}
		log.Warn().Err(err).Msg("avatar video generation failed")
		return
	}

	c.cache.Put(context.WithoutCancel(ctx), text, url)
	c.events.Emit(bus.EventVideoGenerating, bus.FlagPayload{Active: false})
	c.events.Emit(bus.EventVideoReady, bus.VideoPayload{URL: url})
	log.Info().Msg("avatar video ready")
}

// CloseView closes the video view and aborts any request in flight for it.
func (c *Controller) CloseView() {
	wasGenerating := c.abort()
	if wasGenerating {
		c.events.Emit(bus.EventVideoGenerating, bus.FlagPayload{Active: false})
	}
	c.events.Emit(bus.EventVideoClosed, nil)
}

// Close aborts any outstanding request and ignores later Animate calls.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.abort()
}

// abort invalidates the current token and cancels the outstanding request.
func (c *Controller) abort() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	was := c.generating
	c.generating = false
	return was
}
