package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func newTestPipeline(t *testing.T, cfg *Config, sources []*Source) *Pipeline {
	t.Helper()
	logger := testLogger()
	return &Pipeline{
		cfg:        cfg,
		logger:     logger,
		sources:    sources,
		fetcher:    NewFetcher(cfg, logger),
		normalizer: NewNormalizer(logger),
		store:      NewStore(logger),
	}
}

func staticServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPipeline_EndToEnd(t *testing.T) {
	blocklist := staticServer(t, "good.com\nbad.com\nBAD.COM\nnot a domain\n# noise\n")
	allowlist := staticServer(t, "good.com\n")

	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()
	sources := []*Source{
		testSource(t, &Source{Name: "blocklist", URL: blocklist.URL, Format: FormatList}),
		testSource(t, &Source{Name: "allowlist", URL: allowlist.URL, Format: FormatWhitelist}),
	}

	p := newTestPipeline(t, cfg, sources)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := p.store.Domains(); !reflect.DeepEqual(got, []string{"bad.com"}) {
		t.Errorf("Domains() = %v, want [bad.com]", got)
	}
	if got := p.store.SkipDomains(); !reflect.DeepEqual(got, []string{"good.com"}) {
		t.Errorf("SkipDomains() = %v, want [good.com]", got)
	}

	if got := readArtifact(t, cfg.OutputDir, fileDomainsTxt); got != "bad.com\n" {
		t.Errorf("%s = %q, want just the non-whitelisted domain", fileDomainsTxt, got)
	}
	wantHash, err := hashDomain("bad.com")
	if err != nil {
		t.Fatalf("hashDomain() error = %v", err)
	}
	if got := readArtifact(t, cfg.OutputDir, fileSHA1Txt); got != wantHash+"\n" {
		t.Errorf("%s = %q, want %q", fileSHA1Txt, got, wantHash+"\n")
	}
}

func TestPipeline_DiffAgainstPreviousRun(t *testing.T) {
	blocklist := staticServer(t, "bad.com\n")

	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()
	previous := "bad.com\nold.com\n"
	if err := os.WriteFile(filepath.Join(cfg.OutputDir, fileDomainsTxt), []byte(previous), 0644); err != nil {
		t.Fatalf("seed previous output: %v", err)
	}

	p := newTestPipeline(t, cfg, []*Source{
		testSource(t, &Source{Name: "blocklist", URL: blocklist.URL, Format: FormatList}),
	})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !p.store.HasPrevious() {
		t.Fatal("previous run not loaded")
	}
	added, removed := p.store.Diff()
	if len(added) != 0 {
		t.Errorf("Diff() added = %v, want none", added)
	}
	if !reflect.DeepEqual(removed, []string{"old.com"}) {
		t.Errorf("Diff() removed = %v, want [old.com]", removed)
	}
}

func TestPipeline_StrictPromotesSkippedSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	build := func(strict bool) *Pipeline {
		cfg := DefaultConfig()
		cfg.OutputDir = t.TempDir()
		cfg.Strict = strict
		return newTestPipeline(t, cfg, []*Source{
			testSource(t, &Source{Name: "broken", URL: srv.URL, Format: FormatList}),
		})
	}

	if err := build(true).Run(context.Background()); err == nil || !strings.Contains(err.Error(), "strict mode") {
		t.Errorf("strict Run() error = %v, want a strict-mode failure", err)
	}
	if err := build(false).Run(context.Background()); err != nil {
		t.Errorf("lenient Run() error = %v, want nil (source skipped)", err)
	}
}

func TestPipeline_TolerantFileSource(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.Strict = true // a tolerated missing file is not a skipped source

	p := newTestPipeline(t, cfg, []*Source{
		testSource(t, &Source{Name: "optional", URL: filepath.Join(cfg.OutputDir, "absent.txt"), Format: FormatFile, Tolerant: true}),
	})
	if err := p.Run(context.Background()); err != nil {
		t.Errorf("Run() error = %v, want nil for a tolerated missing file", err)
	}
}

func TestPipeline_RequiredFileSourceIsFatal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()

	p := newTestPipeline(t, cfg, []*Source{
		testSource(t, &Source{Name: "required", URL: filepath.Join(cfg.OutputDir, "absent.txt"), Format: FormatFile}),
	})
	if err := p.Run(context.Background()); err == nil {
		t.Error("Run() = nil, want error for a required missing file")
	}
}

func TestPipeline_HashFeed(t *testing.T) {
	h1 := "0123456789abcdef0123456789abcdef01234567"
	h2 := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	feed := staticServer(t, h1+"\n"+h2+"\nnot a hash\n")

	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()

	p := newTestPipeline(t, cfg, []*Source{
		testSource(t, &Source{Name: "hashes", URL: feed.URL, Format: FormatSHA1}),
	})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := p.store.Hashes(); !reflect.DeepEqual(got, []string{h1, h2}) {
		t.Errorf("Hashes() = %v, want the two feed hashes", got)
	}
	if p.store.DomainCount() != 0 {
		t.Errorf("DomainCount() = %d, hash feeds must not contribute domains", p.store.DomainCount())
	}
}

func TestPipeline_RescanRescuesUnstructuredPayload(t *testing.T) {
	srv := staticServer(t, "<html>junk one.com and two.org</html>")

	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()

	p := newTestPipeline(t, cfg, []*Source{
		testSource(t, &Source{Name: "messy", URL: srv.URL, Format: FormatList}),
	})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := p.store.Domains(); !reflect.DeepEqual(got, []string{"one.com", "two.org"}) {
		t.Errorf("Domains() = %v, want the rescued [one.com two.org]", got)
	}
}

func TestPipeline_ScrapeSource(t *testing.T) {
	srv := staticServer(t, `{"domains": ["poll.com"]}`)

	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.ScrapeAttempts = 3
	cfg.ScrapeWorkers = 2
	cfg.ScrapeRate = 1000

	p := newTestPipeline(t, cfg, []*Source{
		testSource(t, &Source{Name: "poller", URL: srv.URL, Format: FormatJSON, Scrape: true}),
	})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := p.store.Domains(); !reflect.DeepEqual(got, []string{"poll.com"}) {
		t.Errorf("Domains() = %v, want [poll.com]", got)
	}
	if got := p.store.Provenance("poller"); !reflect.DeepEqual(got, []string{"poll.com"}) {
		t.Errorf("Provenance(poller) = %v, want the deduplicated scrape subset", got)
	}
}

func TestPipeline_CanceledContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPipeline(t, cfg, []*Source{
		testSource(t, &Source{Name: "never", URL: "http://127.0.0.1:1/", Format: FormatList}),
	})
	if err := p.Run(ctx); err == nil {
		t.Error("Run() with a canceled context: want error")
	}
}
