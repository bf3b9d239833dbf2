package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"sync"
)

// ErrUnsupportedScheme is returned for URLs no Getter is registered for.
var ErrUnsupportedScheme = errors.New("unsupported URL scheme")

// Transport dispatches Get calls to a Getter chosen by URL scheme.
type Transport struct {
	mu      sync.RWMutex
	getters map[string]Getter
}

// NewTransport creates an empty transport.
func NewTransport() *Transport {
	return &Transport{getters: make(map[string]Getter)}
}

// NewDefaultTransport serves http and https through web and file URLs from
// the local filesystem.
func NewDefaultTransport(web Getter, maxSize int64) *Transport {
	t := NewTransport()
	t.Register("http", web)
	t.Register("https", web)
	t.Register("file", &FileGetter{MaxSize: maxSize})
	return t
}

// Register sets the Getter for scheme, replacing any previous one.
func (t *Transport) Register(scheme string, g Getter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.getters[strings.ToLower(scheme)] = g
}

// Get fetches rawURL with the Getter registered for its scheme.
func (t *Transport) Get(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", rawURL, err)
	}

	t.mu.RLock()
	g, ok := t.getters[strings.ToLower(u.Scheme)]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return g.Get(ctx, rawURL)
}

// FileGetter reads file:// URLs, serving a repository laid out on a local or
// mounted filesystem.
type FileGetter struct {
	MaxSize int64
}

func (g *FileGetter) Get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", rawURL, err)
	}
	if u.Scheme != "file" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	f, err := os.Open(u.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", rawURL, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", u.Path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", u.Path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory: %w", rawURL, ErrNotFound)
	}

	maxSize := g.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return readLimited(f, maxSize)
}
