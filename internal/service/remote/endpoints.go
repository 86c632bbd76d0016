package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/avatar"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/chat"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/persona"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/speech"
)

// ErrNotConfigured is returned when an endpoint URL is empty.
var ErrNotConfigured = errors.New("remote: endpoint not configured")

// ReplyClient calls the reply endpoint. A persona's ReplyURL overrides the
// default URL.
type ReplyClient struct {
	client *Client
	url    string
}

func NewReplyClient(client *Client, url string) *ReplyClient {
	return &ReplyClient{client: client, url: strings.TrimSpace(url)}
}

// Reply sends the message plus history and returns the assistant text.
func (r *ReplyClient) Reply(ctx context.Context, p persona.Persona, req chat.ReplyRequest) (string, error) {
	url := r.url
	if p.ReplyURL != "" {
		url = p.ReplyURL
	}
	if url == "" {
		return "", ErrNotConfigured
	}
	if req.History == nil {
		req.History = []chat.HistoryEntry{}
	}

	var resp chat.ReplyResponse
	if err := r.client.postJSON(ctx, url, req, &resp); err != nil {
		return "", err
	}
	return resp.Reply, nil
}

// VideoClient calls the avatar-video endpoint.
type VideoClient struct {
	client *Client
	url    string
}

func NewVideoClient(client *Client, url string) *VideoClient {
	return &VideoClient{client: client, url: strings.TrimSpace(url)}
}

// GenerateVideo returns the generated video URL. Cancelling ctx aborts the call.
func (v *VideoClient) GenerateVideo(ctx context.Context, req avatar.VideoRequest) (string, error) {
	if v.url == "" {
		return "", ErrNotConfigured
	}

	var resp avatar.VideoResponse
	if err := v.client.postJSON(ctx, v.url, req, &resp); err != nil {
		return "", err
	}
	if resp.VideoURL == "" {
		return "", fmt.Errorf("%w: empty videoUrl", ErrNetworkFailure)
	}
	return resp.VideoURL, nil
}

// TTSClient calls the text-to-speech endpoint.
type TTSClient struct {
	client *Client
	url    string
}

func NewTTSClient(client *Client, url string) *TTSClient {
	return &TTSClient{client: client, url: strings.TrimSpace(url)}
}

// Synthesize returns the audio URL and optional duration for req.
func (t *TTSClient) Synthesize(ctx context.Context, req speech.TTSRequest) (speech.TTSResponse, error) {
	if t.url == "" {
		return speech.TTSResponse{}, ErrNotConfigured
	}

	var resp speech.TTSResponse
	if err := t.client.postJSON(ctx, t.url, req, &resp); err != nil {
		return speech.TTSResponse{}, err
	}
	if resp.AudioURL == "" {
		return speech.TTSResponse{}, fmt.Errorf("%w: empty audioUrl", ErrNetworkFailure)
	}
	return resp, nil
}
