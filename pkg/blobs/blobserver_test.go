package blobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func hashOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestBlobServerDownload(t *testing.T) {
	ctx := context.Background()
	content := `{"keys":[]}`
	hash := hashOf(content)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch strings.TrimPrefix(r.URL.Path, "/blobs/") {
		case hash:
			w.Write([]byte(content))
		case hashOf("broken"):
			http.Error(w, "broken", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	u, err := url.Parse(ts.URL + "/blobs")
	if err != nil {
		t.Fatalf("parsing url: %v", err)
	}
	server := &BlobServer{BaseURL: u}
	dir := t.TempDir()

	dest := filepath.Join(dir, "fixture.json")
	if err := server.Download(ctx, BlobInfo{Hash: hash}, dest); err != nil {
		t.Fatalf("failed to download: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading download: %v", err)
	}
	if string(got) != content {
		t.Errorf("expected %q, got %q", content, got)
	}

	err = server.Download(ctx, BlobInfo{Hash: hashOf("missing")}, filepath.Join(dir, "missing.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}

	err = server.Download(ctx, BlobInfo{Hash: hashOf("broken")}, filepath.Join(dir, "broken.json"))
	if err == nil || errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected server error, got %v", err)
	}

	if err := server.Download(ctx, BlobInfo{Hash: "../etc/passwd"}, filepath.Join(dir, "bad.json")); err == nil {
		t.Errorf("expected invalid hash to be rejected")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the completed download to remain, got %v", entries)
	}
}

func TestBlobInfoValidate(t *testing.T) {
	grid := []struct {
		hash  string
		valid bool
	}{
		{hash: hashOf("x"), valid: true},
		{hash: "", valid: false},
		{hash: "abc", valid: false},
		{hash: strings.Repeat("z", 64), valid: false},
	}
	for _, g := range grid {
		err := BlobInfo{Hash: g.hash}.Validate()
		if (err == nil) != g.valid {
			t.Errorf("Validate(%q): expected valid=%v, got %v", g.hash, g.valid, err)
		}
	}
}
