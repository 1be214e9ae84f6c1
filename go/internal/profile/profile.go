// Package profile persists the player's display name between sessions.
package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultKey is the profile key used when the caller has no account.
const DefaultKey = "default"

// MaxNameLength bounds a display name in characters.
const MaxNameLength = 32

var ErrNotFound = errors.New("profile not found")

// Store gets and sets display names by profile key.
type Store interface {
	GetName(ctx context.Context, key string) (string, error)
	SetName(ctx context.Context, key, name string) error
}

// CleanName trims a display name and rejects empty or overlong ones.
func CleanName(name string) (string, error) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return "", errors.New("display name is empty")
	}
	if len([]rune(name)) > MaxNameLength {
		return "", fmt.Errorf("display name longer than %d characters", MaxNameLength)
	}
	return name, nil
}

type fileProfile struct {
	Name      string    `yaml:"name"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

type fileData struct {
	Profiles map[string]fileProfile `yaml:"profiles"`
}

// FileStore keeps profiles in a YAML file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by path. The file is created on the
// first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath is ~/.config/wordparty/profile.yaml, or the equivalent user
// config directory on the platform.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate user config dir: %w", err)
	}
	return filepath.Join(dir, "wordparty", "profile.yaml"), nil
}

func (s *FileStore) load() (fileData, error) {
	data := fileData{Profiles: map[string]fileProfile{}}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return data, nil
	}
	if err != nil {
		return data, fmt.Errorf("read profile file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return data, fmt.Errorf("parse profile file: %w", err)
	}
	if data.Profiles == nil {
		data.Profiles = map[string]fileProfile{}
	}
	return data, nil
}

func (s *FileStore) GetName(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return "", err
	}
	p, ok := data.Profiles[key]
	if !ok || p.Name == "" {
		return "", ErrNotFound
	}
	return p.Name, nil
}

func (s *FileStore) SetName(_ context.Context, key, name string) error {
	name, err := CleanName(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	data.Profiles[key] = fileProfile{Name: name, UpdatedAt: time.Now().UTC()}

	raw, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal profile file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write profile file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace profile file: %w", err)
	}
	return nil
}
