package utils

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalPictureStorage writes pictures under a directory that the server also
// exposes at URLPrefix.
type LocalPictureStorage struct {
	Dir       string
	URLPrefix string
}

func NewLocalPictureStorage(dir, urlPrefix string) *LocalPictureStorage {
	return &LocalPictureStorage{Dir: dir, URLPrefix: "/" + strings.Trim(urlPrefix, "/")}
}

func (s *LocalPictureStorage) SavePicture(_ context.Context, file io.Reader, key string, _ string) (string, error) {
	clean := path.Clean("/" + key)[1:]
	if clean == "" {
		return "", fmt.Errorf("invalid picture key %q", key)
	}

	filePath := filepath.Join(s.Dir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	dst, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		return "", fmt.Errorf("error saving file content: %w", err)
	}
	return clean, nil
}

func (s *LocalPictureStorage) PictureURL(_ context.Context, key string) (string, error) {
	return s.URLPrefix + "/" + strings.TrimPrefix(key, "/"), nil
}
