package artifact

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func touch(t *testing.T, dir, name string, mtime time.Time) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("jar"), 0o640); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if err := os.Chtimes(p, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
	return p
}

func TestResolveLocalPicksNewest(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	touch(t, dir, "server-1.20.jar", base)
	want := touch(t, dir, "server-1.21.jar", base.Add(time.Minute))

	got, err := NewResolver().Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestResolveLocalPrefersPrimaryNames(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	// The mod jar is newer but does not match the server naming pattern.
	touch(t, dir, "worldedit.jar", base.Add(time.Hour))
	want := touch(t, dir, "minecraft_server-1.21.jar", base)

	got, err := NewResolver().Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestResolveLocalFallsBackToAnyJar(t *testing.T) {
	dir := t.TempDir()
	want := touch(t, dir, "custom-build.jar", time.Now().Add(-time.Hour))
	got, err := NewResolver().Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestResolveLocalSkipsBackupMarkers(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	touch(t, dir, "server-backup.jar", base.Add(time.Hour))
	touch(t, dir, "server_old.jar", base.Add(time.Hour))
	touch(t, dir, "server.jar.old", base.Add(time.Hour)) // wrong extension entirely
	want := touch(t, dir, "server.jar", base)

	got, err := NewResolver().Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestResolveLocalTieBreakIsLexicographic(t *testing.T) {
	dir := t.TempDir()
	same := time.Now().Add(-time.Hour).Truncate(time.Second)
	touch(t, dir, "server-a.jar", same)
	want := touch(t, dir, "server-b.jar", same)

	got, err := NewResolver().Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

// manifestServer serves a minimal Mojang-style manifest chain plus the jar.
func manifestServer(t *testing.T, release string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"latest":{"release":%q},"versions":[{"id":"old","url":"%s/old.json"},{"id":%q,"url":"%s/detail.json"}]}`,
			release, srv.URL, release, srv.URL)
	})
	mux.HandleFunc("/detail.json", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"downloads":{"server":{"url":"%s/server.jar"}}}`, srv.URL)
	})
	mux.HandleFunc("/server.jar", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("fake jar bytes"))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveFetchesWhenDirEmpty(t *testing.T) {
	srv := manifestServer(t, "1.21.1")
	dir := t.TempDir()
	r := NewResolver()
	r.ManifestURL = srv.URL + "/manifest.json"

	got, err := r.Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := filepath.Join(dir, "minecraft_server-1.21.1.jar")
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
	b, err := os.ReadFile(got)
	if err != nil || string(b) != "fake jar bytes" {
		t.Fatalf("downloaded content wrong: %q err=%v", string(b), err)
	}
	if _, err := os.Stat(want + ".partial"); !os.IsNotExist(err) {
		t.Fatalf("partial file left behind")
	}
}

func TestResolveManifestErrors(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]http.HandlerFunc{
		"http error": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", http.StatusInternalServerError)
		},
		"malformed json": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("{not json"))
		},
		"no latest": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"latest":{},"versions":[]}`))
		},
		"latest missing from versions": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"latest":{"release":"1.21"},"versions":[{"id":"1.20","url":"http://x"}]}`))
		},
	}
	for name, h := range cases {
		srv := httptest.NewServer(h)
		r := NewResolver()
		r.ManifestURL = srv.URL
		_, err := r.Resolve(context.Background(), dir)
		srv.Close()
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("%s: expected ErrUnavailable, got %v", name, err)
		}
	}
}

func TestResolveConcurrentOnSharedResolver(t *testing.T) {
	srv := manifestServer(t, "1.21.1")
	r := NewResolver()
	r.ManifestURL = srv.URL + "/manifest.json"

	// One Resolver is shared by every world; parallel fetches into distinct
	// directories must not trip the race detector or interfere.
	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		dir := t.TempDir()
		go func() {
			_, err := r.Resolve(context.Background(), dir)
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent Resolve: %v", err)
		}
	}
}

func TestResolveUnreachableManifest(t *testing.T) {
	r := NewResolver()
	r.ManifestURL = "http://127.0.0.1:1/manifest.json"
	r.Timeout = time.Second
	_, err := r.Resolve(context.Background(), t.TempDir())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
