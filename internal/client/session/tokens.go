package session

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// StaticTokenSource always returns the same token. Refresh cannot produce a
// new one and returns it unchanged.
type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context) (string, error) {
	return string(s), nil
}

func (s StaticTokenSource) Refresh(context.Context) (string, error) {
	return string(s), nil
}

// FileTokenSource reads the token from a file kept up to date by the
// identity provider integration. The token is cached until Refresh.
type FileTokenSource struct {
	path string

	mu    sync.Mutex
	token string
}

func NewFileTokenSource(path string) *FileTokenSource {
	return &FileTokenSource{path: path}
}

func (f *FileTokenSource) Token(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.token != "" {
		return f.token, nil
	}
	return f.load()
}

func (f *FileTokenSource) Refresh(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.load()
}

func (f *FileTokenSource) load() (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	f.token = strings.TrimSpace(string(data))
	return f.token, nil
}
