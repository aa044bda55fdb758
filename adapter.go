package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"
)

// adapterFunc is a named one-off protocol for a single awkward source. The
// set is closed: names resolve against builtinAdapters at config load,
// never at fetch time.
type adapterFunc func(ctx context.Context, f *Fetcher, src *Source) ([]byte, error)

const adapterTokenForm = "token-form"

func builtinAdapters() map[string]adapterFunc {
	return map[string]adapterFunc{
		adapterTokenForm: fetchTokenForm,
	}
}

// fetchTokenForm handles sites that gate their address list behind an
// anti-forgery token: GET the landing page, pull the hidden token plus the
// session cookies, then replay both against the follow-up endpoint. Any
// step failing means no payload; the run goes on without this source.
func fetchTokenForm(ctx context.Context, f *Fetcher, src *Source) ([]byte, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	client := &http.Client{
		Transport: f.client.Transport,
		Jar:       jar,
		Timeout:   f.config.HTTPTimeout,
	}

	page, err := adapterGet(ctx, client, f.config, src.URL)
	if err != nil {
		return nil, fmt.Errorf("landing page: %w", err)
	}

	token, err := extractFormToken(page)
	if err != nil {
		return nil, err
	}

	followURL := strings.TrimSuffix(src.URL, "/") + "/new_email_address"
	form := url.Values{"_token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, followURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create follow-up request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", src.URL)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("follow-up request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, fmt.Errorf("follow-up status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read follow-up body: %w", err)
	}
	return body, nil
}

func adapterGet(ctx context.Context, client *http.Client, config *Config, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", config.UserAgent)
	req.Header.Set("Accept-Language", config.AcceptLanguage)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, config.MaxBodySize))
}

var tokenSelectors = []string{
	`input[name="_token"]`,
	`input[name="csrf_token"]`,
	`input[name="authenticity_token"]`,
	`meta[name="csrf-token"]`,
}

func extractFormToken(page []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse landing page: %w", err)
	}
	for _, sel := range tokenSelectors {
		node := doc.Find(sel).First()
		if v, ok := node.Attr("value"); ok && v != "" {
			return v, nil
		}
		if v, ok := node.Attr("content"); ok && v != "" {
			return v, nil
		}
	}
	return "", errors.New("no session token on landing page")
}
