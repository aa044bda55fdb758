package main

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type Fetcher struct {
	client  *http.Client
	config  *Config
	logger  *logrus.Logger
	limiter *rate.Limiter
}

func NewFetcher(config *Config, logger *logrus.Logger) *Fetcher {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   config.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= config.MaxRedirects {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	return &Fetcher{
		client:  client,
		config:  config,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(config.ScrapeRate), config.ScrapeWorkers),
	}
}

// Fetch retrieves one payload for a source. Scrape sources go through
// FetchScrape instead.
func (f *Fetcher) Fetch(ctx context.Context, src *Source) ([]byte, error) {
	switch src.Kind {
	case KindFile:
		return f.fetchFile(src)
	case KindWebsocket:
		return fetchWebsocket(ctx, src, f.config)
	case KindCustom:
		return src.adapter(ctx, f, src)
	default:
		return f.fetchHTTP(ctx, src)
	}
}

// fetchHTTP retries timeout-class failures with a fixed delay between
// attempts. Anything else (refused connections, TLS errors, bad status)
// fails the fetch on the spot; the orchestrator decides what that means for
// the run.
func (f *Fetcher) fetchHTTP(ctx context.Context, src *Source) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= f.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(f.config.RetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			f.logger.WithFields(logrus.Fields{
				"source":  src.Name,
				"attempt": attempt + 1,
			}).Debug("retrying after timeout")
		}

		body, err := f.doRequest(ctx, src)
		if err == nil {
			return body, nil
		}
		if !isTimeoutErr(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%s: retries exhausted: %w", src.Name, lastErr)
}

func (f *Fetcher) doRequest(ctx context.Context, src *Source) ([]byte, error) {
	timeout := f.config.HTTPTimeout
	if src.Timeout > 0 {
		timeout = src.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", f.config.AcceptLanguage)
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	for k, v := range src.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, fmt.Errorf("bad status code: %d", resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, f.config.MaxBodySize)
	var reader io.Reader = limited
	var closer io.Closer

	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gzr, err := gzip.NewReader(limited)
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		reader = gzr
		closer = gzr
	case "deflate":
		fr := flate.NewReader(limited)
		reader = fr
		closer = fr
	}
	if closer != nil {
		defer closer.Close()
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) >= f.config.MaxBodySize {
		return nil, fmt.Errorf("body too large: %d bytes", len(body))
	}
	return body, nil
}

func (f *Fetcher) fetchFile(src *Source) ([]byte, error) {
	data, err := os.ReadFile(src.URL)
	if err != nil {
		if os.IsNotExist(err) && src.Tolerant {
			f.logger.WithFields(logrus.Fields{
				"source": src.Name,
				"path":   src.URL,
			}).Debug("optional file missing")
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", src.URL, err)
	}
	return data, nil
}

// FetchScrape hits one source repeatedly through a fixed worker pool; each
// fetch may reveal a different random subset of domains. When the
// wall-clock ceiling fires, whatever is still in flight is abandoned: its
// results are ignored and the goroutines drain on their own.
func (f *Fetcher) FetchScrape(ctx context.Context, src *Source) [][]byte {
	jobs := make(chan struct{})
	results := make(chan []byte, f.config.ScrapeAttempts)

	var wg sync.WaitGroup
	for i := 0; i < f.config.ScrapeWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				if err := f.limiter.Wait(ctx); err != nil {
					return
				}
				body, err := f.Fetch(ctx, src)
				if err != nil {
					f.logger.WithFields(logrus.Fields{
						"source": src.Name,
						"error":  err.Error(),
					}).Debug("scrape fetch failed")
					continue
				}
				if len(body) > 0 {
					results <- body
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := 0; i < f.config.ScrapeAttempts; i++ {
			select {
			case jobs <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	ceiling := time.NewTimer(f.config.ScrapeCeiling)
	defer ceiling.Stop()

	var payloads [][]byte
	for {
		select {
		case body := <-results:
			payloads = append(payloads, body)
		case <-done:
			for {
				select {
				case body := <-results:
					payloads = append(payloads, body)
				default:
					return payloads
				}
			}
		case <-ceiling.C:
			f.logger.WithFields(logrus.Fields{
				"source":    src.Name,
				"collected": len(payloads),
			}).Warn("scrape ceiling reached, abandoning outstanding fetches")
			return payloads
		case <-ctx.Done():
			return payloads
		}
	}
}

func isTimeoutErr(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded)
}
