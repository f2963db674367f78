package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
)

// MaxAudioBytes caps one decoded upload.
const MaxAudioBytes = 6 << 20

// AudioStore keeps uploaded audio clips.
type AudioStore interface {
	// Save stores data for userID and returns the path clients reference.
	Save(ctx context.Context, userID int64, data []byte, mime string) (string, error)
}

// FileAudioStore writes clips under a directory, one subdirectory per user.
type FileAudioStore struct {
	dir string
}

// NewFileAudioStore creates the directory when missing.
func NewFileAudioStore(dir string) (*FileAudioStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &FileAudioStore{dir: dir}, nil
}

// Save implements AudioStore. Files are named by a fresh op id so concurrent
// uploads never collide.
func (s *FileAudioStore) Save(_ context.Context, userID int64, data []byte, mime string) (string, error) {
	userDir := filepath.Join(s.dir, fmt.Sprintf("%d", userID))
	if err := os.MkdirAll(userDir, 0o750); err != nil {
		return "", err
	}
	name := strings.TrimPrefix(domain.NewOpID(), domain.OpIDPrefix) + audioExt(mime)
	path := filepath.Join(userDir, name)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", err
	}
	return path, nil
}

func audioExt(mime string) string {
	switch strings.ToLower(mime) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	case "audio/webm":
		return ".webm"
	}
	return ".bin"
}

// DecodeAudio validates and decodes an UPLOAD_AUDIO payload.
func DecodeAudio(req *UploadAudioRequest) ([]byte, error) {
	if req.AudioBase64 == "" {
		return nil, domain.ErrValidation.WithDetails("audioBase64 is required")
	}
	if base64.StdEncoding.DecodedLen(len(req.AudioBase64)) > MaxAudioBytes+3 {
		return nil, domain.ErrValidation.WithDetails("audio is too large")
	}
	data, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		return nil, domain.ErrValidation.WithDetails("audioBase64 is not valid base64")
	}
	if len(data) == 0 {
		return nil, domain.ErrValidation.WithDetails("audio is empty")
	}
	return data, nil
}
