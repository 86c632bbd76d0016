package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/avatar"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/chat"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/persona"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/speech"
)

func newClient() *Client {
	return NewClient(5*time.Second, zerolog.Nop())
}

func TestReplyClientSendsHistory(t *testing.T) {
	var got chat.ReplyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(chat.ReplyResponse{Reply: "hi [sticker:love]"})
	}))
	defer srv.Close()

	client := NewReplyClient(newClient(), srv.URL)
	reply, err := client.Reply(context.Background(), persona.Persona{ID: "alisa"}, chat.ReplyRequest{
		Message: "hello",
		History: []chat.HistoryEntry{{Role: chat.RoleUser, Content: "earlier"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "hi [sticker:love]", reply)
	assert.Equal(t, "hello", got.Message)
	assert.Len(t, got.History, 1)
}

func TestReplyClientPersonaOverride(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		_ = json.NewEncoder(w).Encode(chat.ReplyResponse{Reply: "ok"})
	}))
	defer srv.Close()

	client := NewReplyClient(newClient(), "")
	_, err := client.Reply(context.Background(), persona.Persona{ID: "x"}, chat.ReplyRequest{Message: "a"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = client.Reply(context.Background(), persona.Persona{ID: "x", ReplyURL: srv.URL}, chat.ReplyRequest{Message: "a"})
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestNon2xxIsNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewReplyClient(newClient(), srv.URL).Reply(context.Background(), persona.Persona{}, chat.ReplyRequest{Message: "a"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetworkFailure))

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.Status)
	assert.Equal(t, "upstream down", statusErr.Body)
}

func TestTransportErrorIsNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewVideoClient(newClient(), url).GenerateVideo(context.Background(), avatar.VideoRequest{Text: "x"})
	assert.ErrorIs(t, err, ErrNetworkFailure)
}

func TestVideoClientAbort(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := NewVideoClient(newClient(), srv.URL).GenerateVideo(ctx, avatar.VideoRequest{Text: "x"})
		errCh <- err
	}()
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("request was not aborted")
	}
}

func TestVideoAndTTSDecode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/video", func(w http.ResponseWriter, r *http.Request) {
		var req avatar.VideoRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "alisa-warm", req.Voice)
		_ = json.NewEncoder(w).Encode(avatar.VideoResponse{VideoURL: "https://video/1"})
	})
	mux.HandleFunc("/tts", func(w http.ResponseWriter, r *http.Request) {
		var req speech.TTSRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "sad", req.Emotion)
		_ = json.NewEncoder(w).Encode(speech.TTSResponse{AudioURL: "https://audio/1", Duration: 1.5})
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url, err := NewVideoClient(newClient(), srv.URL+"/video").GenerateVideo(context.Background(), avatar.VideoRequest{Text: "x", Voice: "alisa-warm"})
	require.NoError(t, err)
	assert.Equal(t, "https://video/1", url)

	resp, err := NewTTSClient(newClient(), srv.URL+"/tts").Synthesize(context.Background(), speech.TTSRequest{Text: "x", Emotion: "sad"})
	require.NoError(t, err)
	assert.Equal(t, 1.5, resp.Duration)

	_, err = NewVideoClient(newClient(), srv.URL+"/empty").GenerateVideo(context.Background(), avatar.VideoRequest{Text: "x"})
	assert.ErrorIs(t, err, ErrNetworkFailure)
}
