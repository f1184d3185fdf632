package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not-really-a-png"))
	}))
	defer srv.Close()

	s := testStore(t)
	ref, err := s.Fetch(context.Background(), srv.URL+"/cat.png", "cat.png")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if ref.Kind != KindImage {
		t.Errorf("Kind = %q, want %q", ref.Kind, KindImage)
	}
	if ref.RemoteURL == "" {
		t.Error("RemoteURL not recorded")
	}
	if !strings.HasSuffix(ref.LocalPath, ".png") {
		t.Errorf("LocalPath %q should keep the hint extension", ref.LocalPath)
	}

	data, err := os.ReadFile(ref.LocalPath)
	if err != nil {
		t.Fatalf("reading cached file: %v", err)
	}
	if string(data) != "not-really-a-png" {
		t.Errorf("cached content = %q", data)
	}
}

func TestFetchUniqueNames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	s := testStore(t)
	a, err := s.Fetch(context.Background(), srv.URL+"/a.jpg", "a.jpg")
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	b, err := s.Fetch(context.Background(), srv.URL+"/a.jpg", "a.jpg")
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if a.LocalPath == b.LocalPath {
		t.Error("two fetches produced the same local path")
	}
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	s := testStore(t)
	_, err := s.Fetch(context.Background(), srv.URL+"/gone.png", "gone.png")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestFetchEmptyLocator(t *testing.T) {
	s := testStore(t)
	_, err := s.Fetch(context.Background(), "  ", "")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestResolveExisting(t *testing.T) {
	s := testStore(t)

	path := filepath.Join(s.Dir(), "here.png")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	if !s.ResolveExisting(path) {
		t.Error("existing file should resolve")
	}
	if s.ResolveExisting(filepath.Join(s.Dir(), "missing.png")) {
		t.Error("missing file should not resolve")
	}
	if s.ResolveExisting("") {
		t.Error("empty path should not resolve")
	}
}

func TestPut(t *testing.T) {
	s := testStore(t)
	ref, err := s.Put([]byte("img"), "key.png", "img_key_123")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ref.Kind != KindImage {
		t.Errorf("Kind = %q, want image", ref.Kind)
	}
	if ref.PlatformHandle != "img_key_123" {
		t.Errorf("PlatformHandle = %q", ref.PlatformHandle)
	}
	if !s.ResolveExisting(ref.LocalPath) {
		t.Error("put file should resolve")
	}
}

func TestClassifyPath(t *testing.T) {
	cases := []struct {
		path string
		want Kind
	}{
		{"a.png", KindImage},
		{"b.JPG", KindImage},
		{"c.mp4", KindVideo},
		{"d.silk", KindAudio},
		{"e.pdf", KindFile},
		{"noext", KindFile},
	}
	for _, tc := range cases {
		if got := ClassifyPath(tc.path); got != tc.want {
			t.Errorf("ClassifyPath(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestAvailability(t *testing.T) {
	cases := []struct {
		ref  Reference
		want Availability
	}{
		{Reference{LocalPath: "/a"}, LocalOnly},
		{Reference{RemoteURL: "https://x"}, RemoteOnly},
		{Reference{PlatformHandle: "k"}, RemoteOnly},
		{Reference{LocalPath: "/a", RemoteURL: "https://x"}, Both},
		{Reference{}, Unavailable},
	}
	for _, tc := range cases {
		if got := tc.ref.Availability(); got != tc.want {
			t.Errorf("Availability(%+v) = %q, want %q", tc.ref, got, tc.want)
		}
	}
}
