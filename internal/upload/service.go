package upload

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// MaxFileSize is the largest accepted upload.
const MaxFileSize = 50 * 1024 * 1024

var allowedExtensions = []string{".mp3", ".wav", ".m4a", ".ogg", ".flac"}

var contentTypeByExt = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
}

// ValidationError is returned for uploads rejected before storage.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string { return e.Detail }

type Service struct {
	store ObjectStore
	now   func() time.Time
}

func NewService(store ObjectStore) *Service {
	return &Service{store: store, now: time.Now}
}

// Stored describes an accepted upload.
type Stored struct {
	Filename string
	MusicURL string
}

// Save validates and stores the file as "<timestamp>_<name>".
func (s *Service) Save(ctx context.Context, filename string, data []byte) (*Stored, error) {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	ext := strings.ToLower(filepath.Ext(base))
	if !allowed(ext) {
		return nil, &ValidationError{Detail: fmt.Sprintf("Invalid file type. Allowed: %s", strings.Join(allowedExtensions, ", "))}
	}
	if len(data) > MaxFileSize {
		return nil, &ValidationError{Detail: "File size exceeds 50MB limit"}
	}

	name := fmt.Sprintf("%s_%s", s.now().Format("20060102_150405"), base)
	if err := s.store.Put(ctx, name, data, detectContentType(name)); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	return &Stored{Filename: name, MusicURL: "/uploads/" + name}, nil
}

func (s *Service) Open(ctx context.Context, name string) ([]byte, string, error) {
	return s.store.Get(ctx, filepath.Base(name))
}

func allowed(ext string) bool {
	for _, e := range allowedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

func detectContentType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if contentType, ok := contentTypeByExt[ext]; ok {
		return contentType
	}
	return "application/octet-stream"
}
