package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/handler/blob"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/handler/chat"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/handler/device"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/handler/persona"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/handler/stream"
	middlewarePkg "github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/middleware"
	personaModel "github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/persona"
	blobService "github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/service/blob"
	chatService "github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/service/chat"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(personas personaModel.Store, chatSvc *chatService.Service, blobs *blobService.Store, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": chatSvc.Count(),
		})
	})

	r.Route("/api", func(api chi.Router) {
		persona.New(personas).RegisterRoutes(api)
		chat.New(chatSvc).RegisterRoutes(api)
		stream.New(chatSvc, logger).RegisterRoutes(api)
		device.New(chatSvc, logger).RegisterRoutes(api)
		blob.New(blobs).RegisterRoutes(api)
	})

	return r
}
