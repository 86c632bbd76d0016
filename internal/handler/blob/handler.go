package blob

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	blobService "github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/service/blob"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/pkg/utils"
)

// Handler 提供录音等会话内二进制数据的下载
type Handler struct {
	store *blobService.Store
}

// New 创建blob处理器
func New(store *blobService.Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册blob路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/blobs/{blobID}", h.handleGet)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	b, ok := h.store.Get(chi.URLParam(r, "blobID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "blob not found")
		return
	}

	w.Header().Set("Content-Type", b.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(b.Data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(b.Data)
}
