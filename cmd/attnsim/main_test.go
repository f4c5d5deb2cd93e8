package main

import (
	"bytes"
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	api "k8s.io/examples/AI/attnsim/api/v1alpha1"
	"k8s.io/examples/AI/attnsim/pkg/attention"
	"k8s.io/examples/AI/attnsim/pkg/fixture"
)

func TestLoadFixture(t *testing.T) {
	ctx := context.Background()
	req, err := fixture.Generate(rand.New(rand.NewSource(1)), 2, 3)
	if err != nil {
		t.Fatalf("failed to generate: %v", err)
	}

	dir := t.TempDir()
	p := filepath.Join(dir, "fixture.json")
	hash, err := fixture.WriteFile(p, req)
	if err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	ts := httptest.NewServer(http.StripPrefix("/fixtures/", http.FileServer(http.Dir(dir))))
	defer ts.Close()
	if err := os.Rename(p, filepath.Join(dir, hash)); err != nil {
		t.Fatalf("renaming fixture: %v", err)
	}

	got, err := loadFixture(ctx, ts.URL+"/fixtures/"+hash)
	if err != nil {
		t.Fatalf("failed to load over http: %v", err)
	}
	if gotHash, _ := fixture.Hash(got); gotHash != hash {
		t.Errorf("expected hash %q, got %q", hash, gotHash)
	}

	if _, err := loadFixture(ctx, filepath.Join(dir, hash)); err != nil {
		t.Errorf("failed to load local file: %v", err)
	}
	if _, err := loadFixture(ctx, "gs://bucket-without-object"); err == nil {
		t.Errorf("expected gs:// reference without object to fail")
	}
}

func TestReport(t *testing.T) {
	ctx := context.Background()
	req, err := fixture.Generate(rand.New(rand.NewSource(2)), 3, 2)
	if err != nil {
		t.Fatalf("failed to generate: %v", err)
	}

	opt := Options{Strategy: "incremental"}
	opt.apply(req)
	good, err := attention.Evaluate(ctx, req)
	if err != nil {
		t.Fatalf("failed to evaluate: %v", err)
	}

	var out bytes.Buffer
	refs := []string{"good"}
	if err := report(&out, refs, []*api.CalculateRequest{req}, []*api.CalculateResponse{good}); err != nil {
		t.Errorf("expected report to pass: %v", err)
	}
	if !strings.Contains(out.String(), "== good (incremental)") {
		t.Errorf("unexpected report:\n%s", out.String())
	}

	perKey := *req
	perKey.Strategy = "per-key"
	wrong, err := attention.Evaluate(ctx, &perKey)
	if err != nil {
		t.Fatalf("failed to evaluate: %v", err)
	}
	out.Reset()
	if err := report(&out, []string{"wrong"}, []*api.CalculateRequest{&perKey}, []*api.CalculateResponse{wrong}); err == nil {
		t.Errorf("expected per-key answers to fail grading:\n%s", out.String())
	}
}
