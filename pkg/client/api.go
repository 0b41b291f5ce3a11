package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/music-chat-room/pkg/protocol"
)

// API talks to the room's REST endpoints.
type API struct {
	baseURL string
	http    *http.Client
}

func NewAPI(baseURL string) *API {
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *API) BaseURL() string {
	return a.baseURL
}

// WebSocketURL derives the /ws address for token from the REST base.
func (a *API) WebSocketURL(token string) (string, error) {
	u, err := url.Parse(a.baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

// ResolveURL turns a queue entry's music_url into something playable.
// Uploaded tracks are served relative to the server.
func (a *API) ResolveURL(musicURL string) string {
	if strings.HasPrefix(musicURL, "http://") || strings.HasPrefix(musicURL, "https://") {
		return musicURL
	}
	return a.baseURL + "/" + strings.TrimLeft(musicURL, "/")
}

// Register validates locally, then creates the account.
func (a *API) Register(ctx context.Context, username, password, confirm string) (uint64, error) {
	if err := ValidateRegistration(username, password, confirm); err != nil {
		return 0, err
	}

	var resp struct {
		Message string `json:"message"`
		UserID  uint64 `json:"user_id"`
	}
	body := map[string]string{"username": strings.TrimSpace(username), "password": password}
	if err := a.do(ctx, http.MethodPost, "/api/register", "", body, &resp); err != nil {
		return 0, err
	}
	return resp.UserID, nil
}

func (a *API) Login(ctx context.Context, username, password string) (*Session, error) {
	if err := ValidateLogin(username, password); err != nil {
		return nil, err
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		UserID      uint64 `json:"user_id"`
		Username    string `json:"username"`
	}
	body := map[string]string{"username": strings.TrimSpace(username), "password": password}
	if err := a.do(ctx, http.MethodPost, "/api/login", "", body, &resp); err != nil {
		return nil, err
	}
	return &Session{Token: resp.AccessToken, UserID: resp.UserID, Username: resp.Username}, nil
}

// Logout revokes the token server-side.
func (a *API) Logout(ctx context.Context, token string) error {
	return a.do(ctx, http.MethodPost, "/api/logout", token, nil, nil)
}

// RecentMessages fetches the backfill, oldest first.
func (a *API) RecentMessages(ctx context.Context, limit int) ([]protocol.ChatEvent, error) {
	path := "/api/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var events []protocol.ChatEvent
	if err := a.do(ctx, http.MethodGet, path, "", nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (a *API) Queue(ctx context.Context) ([]protocol.QueueEntry, error) {
	var resp struct {
		Queue []protocol.QueueEntry `json:"queue"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/queue", "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Queue, nil
}

func (a *API) OnlineUsers(ctx context.Context, token string) ([]protocol.OnlineUser, error) {
	var resp struct {
		OnlineUsers []protocol.OnlineUser `json:"online_users"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/online-users", token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.OnlineUsers, nil
}

// Upload is the server's record of a stored file.
type Upload struct {
	Message  string `json:"message"`
	MusicURL string `json:"music_url"`
	Filename string `json:"filename"`
}

// UploadMusic posts a file as multipart form data. Rejections come back as
// *UploadError carrying the server's detail.
func (a *API) UploadMusic(ctx context.Context, token, filename string, r io.Reader) (*Upload, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/upload-music", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &AuthRejectedError{Status: resp.StatusCode, Detail: readDetail(resp.Body)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UploadError{Status: resp.StatusCode, Detail: readDetail(resp.Body)}
	}

	var upload Upload
	if err := json.NewDecoder(resp.Body).Decode(&upload); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return &upload, nil
}

func (a *API) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthRejectedError{Status: resp.StatusCode, Detail: readDetail(resp.Body)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &APIError{Status: resp.StatusCode, Detail: readDetail(resp.Body)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func readDetail(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Detail != "" {
		return body.Detail
	}
	return strings.TrimSpace(string(data))
}
