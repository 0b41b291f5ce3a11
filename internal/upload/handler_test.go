package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func setupUpload(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore() error = %v", err)
	}
	service := NewService(store)
	service.now = func() time.Time { return time.Date(2024, 5, 1, 12, 30, 45, 0, time.UTC) }

	router := gin.New()
	handler := NewHandler(service)
	handler.RegisterRoutes(router.Group("/api"))
	handler.RegisterFiles(router)
	return router, service
}

func multipartBody(t *testing.T, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	_, _ = part.Write(data)
	_ = w.Close()
	return &buf, w.FormDataContentType()
}

func TestHandler_UploadMusic(t *testing.T) {
	router, _ := setupUpload(t)

	tests := []struct {
		name       string
		filename   string
		wantStatus int
		wantName   string
	}{
		{"mp3", "song.mp3", http.StatusOK, "20240501_123045_song.mp3"},
		{"upper case extension", "Track.FLAC", http.StatusOK, "20240501_123045_Track.FLAC"},
		{"path is stripped", "../../etc/tune.ogg", http.StatusOK, "20240501_123045_tune.ogg"},
		{"not audio", "notes.txt", http.StatusBadRequest, ""},
		{"no extension", "song", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := multipartBody(t, tt.filename, []byte("ID3 data"))
			req := httptest.NewRequest(http.MethodPost, "/api/upload-music", body)
			req.Header.Set("Content-Type", contentType)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				if !strings.Contains(w.Body.String(), "Invalid file type") {
					t.Errorf("body = %s, want invalid file type detail", w.Body.String())
				}
				return
			}

			var resp struct {
				Message  string `json:"message"`
				MusicURL string `json:"music_url"`
				Filename string `json:"filename"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("json.Unmarshal() error = %v", err)
			}
			if resp.Filename != tt.wantName || resp.MusicURL != "/uploads/"+tt.wantName {
				t.Errorf("response = %+v, want filename %q", resp, tt.wantName)
			}
		})
	}
}

func TestHandler_UploadMissingFile(t *testing.T) {
	router, _ := setupUpload(t)

	req := httptest.NewRequest(http.MethodPost, "/api/upload-music", strings.NewReader(""))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestService_RejectsOversizedFile(t *testing.T) {
	_, service := setupUpload(t)

	_, err := service.Save(context.Background(), "big.mp3", make([]byte, MaxFileSize+1))
	if err == nil || !strings.Contains(err.Error(), "50MB") {
		t.Errorf("Save() error = %v, want size error", err)
	}
}

func TestHandler_ServeFile(t *testing.T) {
	router, service := setupUpload(t)

	stored, err := service.Save(context.Background(), "song.mp3", []byte("ID3 data"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, stored.MusicURL, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Content-Type"); got != "audio/mpeg" {
		t.Errorf("Content-Type = %q, want audio/mpeg", got)
	}
	if w.Body.String() != "ID3 data" {
		t.Errorf("body = %q", w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/uploads/missing.mp3", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing file status = %d, want 404", w.Code)
	}
}

func TestDetectContentType(t *testing.T) {
	tests := map[string]string{
		"a.mp3":  "audio/mpeg",
		"a.WAV":  "audio/wav",
		"a.m4a":  "audio/mp4",
		"a.bin":  "application/octet-stream",
		"noext":  "application/octet-stream",
		"a.flac": "audio/flac",
	}
	for name, want := range tests {
		if got := detectContentType(name); got != want {
			t.Errorf("detectContentType(%q) = %q, want %q", name, got, want)
		}
	}
}
