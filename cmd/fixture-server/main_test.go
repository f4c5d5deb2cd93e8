package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"k8s.io/examples/AI/attnsim/pkg/blobs"
)

// fakeUpstream serves blobs from memory.
type fakeUpstream struct {
	blobs     map[string]string
	downloads int
}

func (u *fakeUpstream) Download(ctx context.Context, info blobs.BlobInfo, destPath string) error {
	u.downloads++
	content, ok := u.blobs[info.Hash]
	if !ok {
		return os.ErrNotExist
	}
	return os.WriteFile(destPath, []byte(content), 0644)
}

func hashOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestServeFixture(t *testing.T) {
	dir := t.TempDir()
	cached, remote := `{"strategy":"batched"}`, `{"strategy":"incremental"}`
	if err := os.WriteFile(filepath.Join(dir, hashOf(cached)), []byte(cached), 0644); err != nil {
		t.Fatalf("writing cached fixture: %v", err)
	}
	upstream := &fakeUpstream{blobs: map[string]string{hashOf(remote): remote}}

	ts := httptest.NewServer(&httpServer{cache: &fixtureCache{BaseDir: dir, upstream: upstream}})
	defer ts.Close()

	grid := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{path: "/" + hashOf(cached), wantStatus: http.StatusOK, wantBody: cached},
		{path: "/" + hashOf(remote), wantStatus: http.StatusOK, wantBody: remote},
		{path: "/" + hashOf(remote), wantStatus: http.StatusOK, wantBody: remote},
		{path: "/" + hashOf("missing"), wantStatus: http.StatusNotFound},
		{path: "/not-a-hash", wantStatus: http.StatusBadRequest},
		{path: "/a/b", wantStatus: http.StatusNotFound},
	}
	for _, g := range grid {
		resp, err := http.Get(ts.URL + g.path)
		if err != nil {
			t.Fatalf("GET %s: %v", g.path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != g.wantStatus {
			t.Errorf("GET %s: expected status %d, got %d", g.path, g.wantStatus, resp.StatusCode)
			continue
		}
		if g.wantBody != "" && string(body) != g.wantBody {
			t.Errorf("GET %s: expected %q, got %q", g.path, g.wantBody, body)
		}
	}

	// The remote fixture is cached after the first request.
	if upstream.downloads != 2 {
		t.Errorf("expected 2 upstream downloads (remote once, missing once), got %d", upstream.downloads)
	}
}

func TestServeFixtureMethodNotAllowed(t *testing.T) {
	ts := httptest.NewServer(&httpServer{cache: &fixtureCache{BaseDir: t.TempDir()}})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/"+hashOf("x"), "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, resp.StatusCode)
	}
}
