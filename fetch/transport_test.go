package fetch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type stubGetter struct {
	calls []string
	body  []byte
	err   error
}

func (s *stubGetter) Get(_ context.Context, url string) ([]byte, error) {
	s.calls = append(s.calls, url)
	return s.body, s.err
}

func TestTransportDispatchesByScheme(t *testing.T) {
	web := &stubGetter{body: []byte("web")}
	tr := NewDefaultTransport(web, 0)

	for _, u := range []string{"http://a.example/x", "HTTPS://b.example/y"} {
		body, err := tr.Get(context.Background(), u)
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", u, err)
		}
		if string(body) != "web" {
			t.Errorf("Get(%s) = %q, want web", u, body)
		}
	}
	if len(web.calls) != 2 {
		t.Errorf("web getter called %d times, want 2", len(web.calls))
	}

	if _, err := tr.Get(context.Background(), "ftp://c.example/z"); !errors.Is(err, ErrUnsupportedScheme) {
		t.Errorf("Get(ftp) = %v, want ErrUnsupportedScheme", err)
	}
}

func TestTransportRegisterOverrides(t *testing.T) {
	tr := NewTransport()
	first := &stubGetter{body: []byte("first")}
	second := &stubGetter{body: []byte("second")}
	tr.Register("http", first)
	tr.Register("http", second)

	body, err := tr.Get(context.Background(), "http://a.example")
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "second" {
		t.Errorf("Get = %q, want second", body)
	}
}

func TestFileGetter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "packages.hdb")
	if err := os.WriteFile(path, []byte("[AVAILABLE]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	g := &FileGetter{}
	body, err := g.Get(context.Background(), "file://"+path)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(body) != "[AVAILABLE]\n" {
		t.Errorf("body = %q", body)
	}

	if _, err := g.Get(context.Background(), "file://"+filepath.Join(dir, "missing")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
	if _, err := g.Get(context.Background(), "file://"+dir); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(dir) = %v, want ErrNotFound", err)
	}
}

func TestFileGetterSizeLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big")
	if err := os.WriteFile(path, make([]byte, 100), 0o644); err != nil {
		t.Fatal(err)
	}
	g := &FileGetter{MaxSize: 10}
	if _, err := g.Get(context.Background(), "file://"+path); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Get = %v, want ErrTooLarge", err)
	}
}

func TestFileGetterCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (&FileGetter{}).Get(ctx, "file:///nonexistent"); !errors.Is(err, context.Canceled) {
		t.Errorf("Get = %v, want context.Canceled", err)
	}
}
