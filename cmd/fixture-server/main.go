package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/examples/AI/attnsim/pkg/blobs"
	"k8s.io/klog/v2"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	log := klog.FromContext(ctx)

	listen := ":8080"
	cacheDir := os.Getenv("CACHE_DIR")
	if cacheDir == "" {
		// CACHE_DIR is set when running on kubernetes
		cacheDir = "~/.cache/fixture-server/fixtures"
	}
	cacheBucket := os.Getenv("CACHE_BUCKET")
	flag.StringVar(&listen, "listen", listen, "listen address")
	flag.StringVar(&cacheDir, "cache-dir", cacheDir, "cache directory")
	flag.StringVar(&cacheBucket, "cache-bucket", cacheBucket, "GCS bucket (gs://<bucketName>) to fetch fixtures missing from the cache; empty serves the cache only")
	klog.InitFlags(nil)
	flag.Parse()

	if strings.HasPrefix(cacheDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("getting home directory: %w", err)
		}
		cacheDir = filepath.Join(homeDir, strings.TrimPrefix(cacheDir, "~/"))
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return fmt.Errorf("creating cache directory %q: %w", cacheDir, err)
	}

	cache := &fixtureCache{
		BaseDir: cacheDir,
	}
	if cacheBucket != "" {
		if !strings.HasPrefix(cacheBucket, "gs://") {
			return fmt.Errorf("cache bucket must be a GCS bucket URL (gs://<bucketName>)")
		}
		bucket := strings.TrimPrefix(cacheBucket, "gs://")
		log.Info("using GCS fallback", "bucket", bucket)
		cache.upstream = &blobs.GCSBlobstore{Bucket: bucket}
	}

	s := &httpServer{
		cache: cache,
	}

	log.Info("serving fixtures", "listen", listen, "cacheDir", cacheDir)
	if err := http.ListenAndServe(listen, s); err != nil {
		return fmt.Errorf("serving on %q: %w", listen, err)
	}

	return nil
}

type httpServer struct {
	cache *fixtureCache
}

func (s *httpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tokens := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(tokens) == 1 {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			s.serveGETFixture(w, r, tokens[0])
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	http.Error(w, "not found", http.StatusNotFound)
}

func (s *httpServer) serveGETFixture(w http.ResponseWriter, r *http.Request, hash string) {
	ctx := r.Context()
	log := klog.FromContext(ctx)

	f, err := s.cache.GetFixture(ctx, hash)
	if err != nil {
		switch status.Code(err) {
		case codes.NotFound:
			http.Error(w, "not found", http.StatusNotFound)
		case codes.InvalidArgument:
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			log.Error(err, "error getting fixture", "hash", hash)
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}
	defer f.Close()

	log.V(2).Info("serving fixture", "path", f.Name())
	w.Header().Set("Content-Type", "application/json")
	http.ServeFile(w, r, f.Name())
}

type fixtureCache struct {
	BaseDir string

	// upstream, if set, is consulted on a cache miss.
	upstream blobs.BlobReader
}

func (c *fixtureCache) GetFixture(ctx context.Context, hash string) (*os.File, error) {
	info := blobs.BlobInfo{Hash: hash}
	if err := info.Validate(); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}

	localPath := filepath.Join(c.BaseDir, hash)
	f, err := os.Open(localPath)
	if err == nil {
		return f, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("opening fixture %q: %w", hash, err)
	}

	if c.upstream == nil {
		return nil, status.Errorf(codes.NotFound, "fixture %q not found", hash)
	}
	if err := c.upstream.Download(ctx, info, localPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, status.Errorf(codes.NotFound, "fixture %q not found", hash)
		}
		return nil, fmt.Errorf("fetching fixture %q from upstream: %w", hash, err)
	}
	return os.Open(localPath)
}
