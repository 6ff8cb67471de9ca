package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "mindgarden/backend/pkg/errors"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// AudioURLPrefix is the public path the audio files are served under
const AudioURLPrefix = "/audio/"

// AudioServiceConfig defines configuration for the audio service
type AudioServiceConfig struct {
	Dir      string
	MaxBytes int64
}

// AudioService stores recordings and synthesized replies as files
type AudioService struct {
	fs     afero.Fs
	config AudioServiceConfig
}

// NewAudioService creates the audio directory on the OS filesystem
func NewAudioService(config AudioServiceConfig) (*AudioService, error) {
	return NewAudioServiceWithFs(afero.NewOsFs(), config)
}

// NewAudioServiceWithFs stores files on fs
func NewAudioServiceWithFs(fs afero.Fs, config AudioServiceConfig) (*AudioService, error) {
	if config.Dir == "" {
		config.Dir = "./uploads/audio"
	}
	if err := fs.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio directory: %w", err)
	}
	return &AudioService{fs: fs, config: config}, nil
}

// Save writes data under a fresh name and returns its public URL
func (s *AudioService) Save(data []byte, ext string) (string, error) {
	if len(data) == 0 {
		return "", apperrors.NewInvalidArgumentError("Audio data cannot be empty")
	}
	if s.config.MaxBytes > 0 && int64(len(data)) > s.config.MaxBytes {
		return "", apperrors.NewInvalidArgumentError("Audio data is too large")
	}

	name := uuid.New().String() + normalizeExt(ext)
	if err := afero.WriteFile(s.fs, filepath.Join(s.config.Dir, name), data, 0o644); err != nil {
		return "", apperrors.NewStoreError("Failed to store audio", err)
	}
	return AudioURLPrefix + name, nil
}

// Open returns a stored file by name
func (s *AudioService) Open(name string) (afero.File, os.FileInfo, error) {
	if name == "" || filepath.Base(name) != name || strings.HasPrefix(name, ".") {
		return nil, nil, os.ErrNotExist
	}
	f, err := s.fs.Open(filepath.Join(s.config.Dir, name))
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, info, nil
}

// Delete removes the file behind a public URL
func (s *AudioService) Delete(url string) error {
	name := strings.TrimPrefix(url, AudioURLPrefix)
	if name == url || filepath.Base(name) != name {
		return os.ErrNotExist
	}
	return s.fs.Remove(filepath.Join(s.config.Dir, name))
}

// ExtForContentType maps a recording content type to a file extension
func ExtForContentType(contentType string) string {
	switch {
	case strings.Contains(contentType, "mpeg"), strings.Contains(contentType, "mp3"):
		return ".mp3"
	case strings.Contains(contentType, "wav"):
		return ".wav"
	case strings.Contains(contentType, "webm"):
		return ".webm"
	case strings.Contains(contentType, "ogg"):
		return ".ogg"
	default:
		return ".m4a"
	}
}

func normalizeExt(ext string) string {
	if ext == "" {
		return ".bin"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
