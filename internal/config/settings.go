package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/git-pkgs/hkg/internal/core"
)

// Options are user preferences stored next to the repository list.
type Options struct {
	// PreserveEtc keeps prior etc files as .hkg_old on update.
	PreserveEtc bool `toml:"preserve_etc"`
	// Compression is used by package builds.
	Compression string `toml:"compression,omitempty"`
}

// Settings is the content of settings.toml. Repositories are kept in
// registration order, which is also resolution order.
type Settings struct {
	Repositories []core.Repository `toml:"repository"`
	Options      Options           `toml:"options"`
}

// DefaultSettings returns the settings used when no file exists.
func DefaultSettings() Settings {
	return Settings{Options: Options{PreserveEtc: true, Compression: "gzip"}}
}

// Store reads and writes a settings file. Each call re-reads the file.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load reads the settings file. A missing file yields DefaultSettings.
func (s *Store) Load() (Settings, error) {
	settings := DefaultSettings()
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return settings, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("config load failed (%s): %w", s.path, err)
	}
	if err := toml.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("config parse failed (%s): %w", s.path, err)
	}
	if err := Validate(settings); err != nil {
		return Settings{}, fmt.Errorf("config invalid (%s): %w", s.path, err)
	}
	return settings, nil
}

// Validate checks repository URLs for syntax and uniqueness.
func Validate(settings Settings) error {
	seen := make(map[string]bool)
	for i, repo := range settings.Repositories {
		normalized, err := NormalizeURL(repo.URL)
		if err != nil {
			return fmt.Errorf("repository[%d]: %w", i, err)
		}
		if seen[normalized] {
			return fmt.Errorf("repository[%d]: %w: %s", i, core.ErrRepositoryExists, normalized)
		}
		seen[normalized] = true
	}
	return nil
}

// Save replaces the settings file, creating its directory if needed.
func (s *Store) Save(settings Settings) error {
	data, err := toml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.toml")
	if err != nil {
		return fmt.Errorf("creating temp settings: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("writing temp settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("closing temp settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}
	return nil
}

// Repositories returns the configured repositories in registration order.
func (s *Store) Repositories() ([]core.Repository, error) {
	settings, err := s.Load()
	if err != nil {
		return nil, err
	}
	return settings.Repositories, nil
}

// Repository returns the configured repository with the given URL.
func (s *Store) Repository(rawURL string) (core.Repository, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return core.Repository{}, err
	}
	repos, err := s.Repositories()
	if err != nil {
		return core.Repository{}, err
	}
	for _, repo := range repos {
		if sameURL(repo.URL, normalized) {
			return repo, nil
		}
	}
	return core.Repository{}, fmt.Errorf("%w: %s", core.ErrRepositoryNotConfigured, normalized)
}

// AddRepository appends a repository. An empty label defaults to the URL.
func (s *Store) AddRepository(rawURL, label string) (core.Repository, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return core.Repository{}, err
	}
	settings, err := s.Load()
	if err != nil {
		return core.Repository{}, err
	}
	for _, repo := range settings.Repositories {
		if sameURL(repo.URL, normalized) {
			return core.Repository{}, fmt.Errorf("%w: %s", core.ErrRepositoryExists, normalized)
		}
	}

	if label == "" {
		label = normalized
	}
	repo := core.Repository{URL: normalized, Label: label}
	settings.Repositories = append(settings.Repositories, repo)
	if err := s.Save(settings); err != nil {
		return core.Repository{}, err
	}
	return repo, nil
}

// RemoveRepository deletes a repository, keeping the order of the rest.
func (s *Store) RemoveRepository(rawURL string) (core.Repository, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return core.Repository{}, err
	}
	settings, err := s.Load()
	if err != nil {
		return core.Repository{}, err
	}

	for i, repo := range settings.Repositories {
		if !sameURL(repo.URL, normalized) {
			continue
		}
		settings.Repositories = append(settings.Repositories[:i:i], settings.Repositories[i+1:]...)
		if err := s.Save(settings); err != nil {
			return core.Repository{}, err
		}
		return repo, nil
	}
	return core.Repository{}, fmt.Errorf("%w: %s", core.ErrRepositoryNotConfigured, normalized)
}

func sameURL(a, b string) bool {
	na, err := NormalizeURL(a)
	if err != nil {
		return a == b
	}
	return na == b
}

// NormalizeURL validates a repository URL and strips trailing slashes.
// http and https URLs need a host; file URLs need an absolute path.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty repository URL")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid repository URL %q: %w", raw, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return "", fmt.Errorf("repository URL %q has no host", raw)
		}
	case "file":
		if u.Host != "" && u.Host != "localhost" {
			return "", fmt.Errorf("repository URL %q: file URLs must be local", raw)
		}
		if !strings.HasPrefix(u.Path, "/") {
			return "", fmt.Errorf("repository URL %q: file URLs need an absolute path", raw)
		}
		u.Host = ""
		u.OmitHost = false
	default:
		return "", fmt.Errorf("repository URL %q: unsupported scheme %q (want http, https or file)", raw, u.Scheme)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("repository URL %q must not carry a query or fragment", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String(), nil
}
