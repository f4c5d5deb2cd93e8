package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	api "k8s.io/examples/AI/attnsim/api/v1alpha1"
	"k8s.io/examples/AI/attnsim/pkg/attention"
	"k8s.io/examples/AI/attnsim/pkg/blobs"
	"k8s.io/examples/AI/attnsim/pkg/fixture"
	"k8s.io/klog/v2"
)

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

type Options struct {
	Strategy        string
	NoStabilize     bool
	Trace           bool
	Capacity        int
	FastMemoryLimit int

	// Server, if set, runs fixtures on a remote attnserver.
	Server   string
	Parallel int

	Generate  int
	Dim       int
	Seed      int64
	Output    string
	PublishTo string
}

func run(ctx context.Context) error {
	opt := Options{
		Strategy: os.Getenv("ATTNSIM_STRATEGY"),
		Server:   os.Getenv("ATTNSIM_SERVER"),
		Parallel: 4,
		Dim:      8,
		Seed:     1,
	}
	flag.StringVar(&opt.Strategy, "strategy", opt.Strategy, "attention strategy: batched, incremental or per-key (default batched)")
	flag.BoolVar(&opt.NoStabilize, "no-stabilize", opt.NoStabilize, "do not subtract the row maximum before exponentiating")
	flag.BoolVar(&opt.Trace, "trace", opt.Trace, "log every executed instruction with its operands")
	flag.IntVar(&opt.Capacity, "capacity", opt.Capacity, "maximum live tensors; 0 is unlimited")
	flag.IntVar(&opt.FastMemoryLimit, "fast-memory-limit", opt.FastMemoryLimit, "maximum elements resident in fast memory; 0 is unlimited")
	flag.StringVar(&opt.Server, "server", opt.Server, "address of an attnserver to run fixtures on, instead of running them locally")
	flag.IntVar(&opt.Parallel, "parallel", opt.Parallel, "number of fixtures run concurrently")
	flag.IntVar(&opt.Generate, "generate", opt.Generate, "generate a random fixture with this many positions")
	flag.IntVar(&opt.Dim, "dim", opt.Dim, "width of generated keys, values and queries")
	flag.Int64Var(&opt.Seed, "seed", opt.Seed, "random seed for generated fixtures")
	flag.StringVar(&opt.Output, "output", opt.Output, "write the generated fixture to this path")
	flag.StringVar(&opt.PublishTo, "publish", opt.PublishTo, "upload the generated fixture to this GCS bucket (gs://<bucketName>)")

	klog.InitFlags(nil)
	flag.Parse()

	log := klog.FromContext(ctx)

	var refs []string
	var requests []*api.CalculateRequest

	if opt.Generate > 0 {
		req, err := fixture.Generate(rand.New(rand.NewSource(opt.Seed)), opt.Generate, opt.Dim)
		if err != nil {
			return fmt.Errorf("generating fixture: %w", err)
		}
		hash, err := publish(ctx, opt, req)
		if err != nil {
			return err
		}
		log.Info("generated fixture", "positions", opt.Generate, "dim", opt.Dim, "hash", hash)
		refs = append(refs, "generated:"+hash)
		requests = append(requests, req)
	}

	for _, ref := range flag.Args() {
		req, err := loadFixture(ctx, ref)
		if err != nil {
			return err
		}
		refs = append(refs, ref)
		requests = append(requests, req)
	}
	if len(requests) == 0 {
		return fmt.Errorf("no fixtures given; pass fixture paths, gs:// or http(s):// references, or -generate")
	}

	var calculate func(ctx context.Context, req *api.CalculateRequest) (*api.CalculateResponse, error)
	if opt.Server != "" {
		conn, err := grpc.NewClient(opt.Server, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("failed to connect to server %q: %w", opt.Server, err)
		}
		defer conn.Close()
		client := api.NewAttentionSimulatorClient(conn)
		calculate = func(ctx context.Context, req *api.CalculateRequest) (*api.CalculateResponse, error) {
			return client.Calculate(ctx, req)
		}
		log.Info("running fixtures remotely", "server", opt.Server)
	} else {
		calculate = attention.Evaluate
	}

	responses := make([]*api.CalculateResponse, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, opt.Parallel))
	for i, req := range requests {
		opt.apply(req)
		g.Go(func() error {
			response, err := calculate(gctx, req)
			if err != nil {
				return fmt.Errorf("running fixture %s: %w", refs[i], err)
			}
			responses[i] = response
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return report(os.Stdout, refs, requests, responses)
}

func (o *Options) apply(req *api.CalculateRequest) {
	if o.Strategy != "" {
		req.Strategy = o.Strategy
	}
	if o.NoStabilize {
		req.DisableStabilization = true
	}
	if o.Trace {
		req.Verbose = true
	}
	if o.Capacity != 0 {
		req.Capacity = int32(o.Capacity)
	}
	if o.FastMemoryLimit != 0 {
		req.FastMemoryLimit = int64(o.FastMemoryLimit)
	}
}

// report prints every fixture's report and fails if any graded fixture has a
// wrong position.
func report(w io.Writer, refs []string, requests []*api.CalculateRequest, responses []*api.CalculateResponse) error {
	failed := 0
	for i, response := range responses {
		fmt.Fprintf(w, "== %s (%s)\n%s", refs[i], strategyName(requests[i]), response.GetReport())
		if len(requests[i].GetExpected()) > 0 && int(response.GetPassed()) != len(requests[i].GetExpected()) {
			failed++
		}
	}
	if failed != 0 {
		return fmt.Errorf("%d of %d fixtures had wrong answers", failed, len(responses))
	}
	return nil
}

func strategyName(req *api.CalculateRequest) string {
	if req.GetStrategy() == "" {
		return "batched"
	}
	return req.GetStrategy()
}

// loadFixture reads a fixture from a local path, gs://<bucket>/<hash> or
// http(s)://<fixture-server>/<hash>.
func loadFixture(ctx context.Context, ref string) (*api.CalculateRequest, error) {
	loader := &fixture.Loader{
		MaxAttempts: 5,
		RetryDelay:  5 * time.Second,
	}

	var hash string
	switch {
	case strings.HasPrefix(ref, "gs://"):
		bucket, object, ok := strings.Cut(strings.TrimPrefix(ref, "gs://"), "/")
		if !ok {
			return nil, fmt.Errorf("fixture reference %q must be gs://<bucket>/<hash>", ref)
		}
		loader.Reader = &blobs.GCSBlobstore{Bucket: bucket}
		hash = object

	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		u, err := url.Parse(ref)
		if err != nil {
			return nil, fmt.Errorf("parsing fixture url %q: %w", ref, err)
		}
		hash = path.Base(u.Path)
		u.Path = path.Dir(u.Path)
		loader.Reader = &blobs.BlobServer{BaseURL: u}

	default:
		return fixture.ReadFile(ref)
	}

	req, err := loader.Fetch(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("loading fixture %q: %w", ref, err)
	}
	return req, nil
}

// publish writes the fixture to -output and uploads it to -publish, returning its hash.
func publish(ctx context.Context, opt Options, req *api.CalculateRequest) (string, error) {
	p := opt.Output
	if p == "" {
		tmpDir, err := os.MkdirTemp("", "attnsim")
		if err != nil {
			return "", fmt.Errorf("creating temp dir: %w", err)
		}
		defer os.RemoveAll(tmpDir)
		p = filepath.Join(tmpDir, "fixture-"+strconv.FormatInt(opt.Seed, 10)+".json")
	}

	hash, err := fixture.WriteFile(p, req)
	if err != nil {
		return "", err
	}
	if opt.PublishTo == "" {
		return hash, nil
	}

	if !strings.HasPrefix(opt.PublishTo, "gs://") {
		return "", fmt.Errorf("-publish must be a GCS bucket URL (gs://<bucketName>)")
	}
	store := &blobs.GCSBlobstore{Bucket: strings.TrimSuffix(strings.TrimPrefix(opt.PublishTo, "gs://"), "/")}
	if err := store.Upload(ctx, p, blobs.BlobInfo{Hash: hash}); err != nil {
		return "", fmt.Errorf("publishing fixture: %w", err)
	}
	return hash, nil
}
