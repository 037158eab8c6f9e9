// Package artifact locates the server jar a world runs, preferring what is
// already on disk and falling back to downloading the latest stable release
// from the Mojang version manifest.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrUnavailable is returned when neither a local jar nor a successful
// network fetch is possible. Transient and permanent causes look identical
// from here; retrying is the caller's decision.
var ErrUnavailable = errors.New("server artifact unavailable")

// DefaultManifestURL is Mojang's version manifest endpoint.
const DefaultManifestURL = "https://piston-meta.mojang.com/mc/game/version_manifest_v2.json"

// DefaultFetchTimeout bounds the whole manifest walk plus jar download.
const DefaultFetchTimeout = 5 * time.Minute

const jarExt = ".jar"

// Resolver finds or fetches a server jar for a directory. A single Resolver
// is safe for concurrent use once ManifestURL and Timeout are set.
type Resolver struct {
	ManifestURL string
	Timeout     time.Duration
}

func NewResolver() *Resolver {
	return &Resolver{ManifestURL: DefaultManifestURL, Timeout: DefaultFetchTimeout}
}

// httpClient builds per call so concurrent Resolves on a shared Resolver
// never write shared state.
func (r *Resolver) httpClient() *http.Client {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &http.Client{Timeout: timeout}
}

// Resolve returns the path of the jar to launch from dir. When dir holds no
// eligible jar the latest stable release is downloaded into it.
func (r *Resolver) Resolve(ctx context.Context, dir string) (string, error) {
	if p, ok, err := resolveLocal(dir); err != nil {
		return "", fmt.Errorf("%w: scanning %s: %v", ErrUnavailable, dir, err)
	} else if ok {
		return p, nil
	}
	return r.fetchLatest(ctx, dir)
}

// resolveLocal picks the newest eligible jar in dir. Names carrying a
// backup/old marker are skipped; names matching the primary server pattern
// win over the rest. Ties on modification time go to the lexicographically
// greatest name so the pick is deterministic.
func resolveLocal(dir string) (string, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	type candidate struct {
		name    string
		modTime time.Time
		primary bool
	}
	var cands []candidate
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), jarExt) || hasBackupMarker(name) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		cands = append(cands, candidate{name: name, modTime: fi.ModTime(), primary: isPrimaryName(name)})
	}
	if len(cands) == 0 {
		return "", false, nil
	}
	anyPrimary := false
	for _, c := range cands {
		if c.primary {
			anyPrimary = true
			break
		}
	}
	if anyPrimary {
		kept := cands[:0]
		for _, c := range cands {
			if c.primary {
				kept = append(kept, c)
			}
		}
		cands = kept
	}
	sort.Slice(cands, func(i, j int) bool {
		if !cands[i].modTime.Equal(cands[j].modTime) {
			return cands[i].modTime.After(cands[j].modTime)
		}
		return cands[i].name > cands[j].name
	})
	return filepath.Join(dir, cands[0].name), true, nil
}

// hasBackupMarker reports whether the jar name is a stashed copy rather
// than a launchable server (server.jar.old, server-backup.jar, ...).
func hasBackupMarker(name string) bool {
	lower := strings.ToLower(name)
	base := strings.TrimSuffix(lower, jarExt)
	for _, m := range []string{".old", ".bak", "_old", "-old", "-backup", "_backup"} {
		if strings.HasSuffix(base, m) {
			return true
		}
	}
	return false
}

// isPrimaryName matches the conventional server jar names.
func isPrimaryName(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range []string{"server", "minecraft_server", "paper"} {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// Manifest shapes follow Mojang's version_manifest_v2.json.

type versionManifest struct {
	Latest struct {
		Release string `json:"release"`
	} `json:"latest"`
	Versions []struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	} `json:"versions"`
}

type versionDetail struct {
	Downloads struct {
		Server struct {
			URL string `json:"url"`
		} `json:"server"`
	} `json:"downloads"`
}

// fetchLatest walks manifest -> version metadata -> server download and
// streams the jar to dir under a deterministic version-tagged name.
func (r *Resolver) fetchLatest(ctx context.Context, dir string) (string, error) {
	manifestURL := r.ManifestURL
	if manifestURL == "" {
		manifestURL = DefaultManifestURL
	}
	var manifest versionManifest
	if err := r.getJSON(ctx, manifestURL, &manifest); err != nil {
		return "", fmt.Errorf("%w: version manifest: %v", ErrUnavailable, err)
	}
	release := manifest.Latest.Release
	if release == "" {
		return "", fmt.Errorf("%w: manifest declares no latest release", ErrUnavailable)
	}
	var detailURL string
	for _, v := range manifest.Versions {
		if v.ID == release {
			detailURL = v.URL
			break
		}
	}
	if detailURL == "" {
		return "", fmt.Errorf("%w: manifest has no entry for release %s", ErrUnavailable, release)
	}
	var detail versionDetail
	if err := r.getJSON(ctx, detailURL, &detail); err != nil {
		return "", fmt.Errorf("%w: version %s metadata: %v", ErrUnavailable, release, err)
	}
	if detail.Downloads.Server.URL == "" {
		return "", fmt.Errorf("%w: version %s has no server download", ErrUnavailable, release)
	}
	dest := filepath.Join(dir, "minecraft_server-"+release+jarExt)
	if err := r.download(ctx, detail.Downloads.Server.URL, dest); err != nil {
		return "", fmt.Errorf("%w: downloading %s: %v", ErrUnavailable, release, err)
	}
	return dest, nil
}

func (r *Resolver) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := r.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// download streams url to dest via a partial file so a torn transfer never
// leaves a half-written jar under the final name.
func (r *Resolver) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := r.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}
	tmp := dest + ".partial"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}
