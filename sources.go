package main

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/encoding/htmlindex"
)

type SourceFormat string

const (
	FormatList      SourceFormat = "list"
	FormatJSON      SourceFormat = "json"
	FormatHTML      SourceFormat = "html"
	FormatSHA1      SourceFormat = "sha1"
	FormatWS        SourceFormat = "ws"
	FormatFile      SourceFormat = "file"
	FormatWhitelist SourceFormat = "whitelist"
)

type SourceKind int

const (
	KindHTTP SourceKind = iota
	KindFile
	KindWebsocket
	KindCustom
)

func (k SourceKind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindFile:
		return "file"
	case KindWebsocket:
		return "websocket"
	case KindCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Source is one upstream feed of disposable domains. The catalog below is
// static configuration: sites change their markup, entries rot, and the
// Stages regexes are expected to need maintenance.
type Source struct {
	Name     string       `validate:"required"`
	URL      string       `validate:"required"`
	Format   SourceFormat `validate:"required,oneof=list json html sha1 ws file whitelist"`
	Stages   []string     // ordered regex cascade for html payloads
	Encoding string       // IANA charset name, empty means UTF-8
	Timeout  time.Duration
	Headers  map[string]string
	Scrape   bool // fetch repeatedly, each hit may reveal different domains
	Tolerant bool // file sources only: missing file is an empty result
	Adapter  string

	Kind    SourceKind
	stages  []*regexp.Regexp
	adapter adapterFunc
}

var jsonHeaders = map[string]string{"Accept": "application/json"}

func defaultSources() []*Source {
	return []*Source{
		{Name: "martenson-blocklist", URL: "https://raw.githubusercontent.com/martenson/disposable-email-domains/master/disposable_email_blocklist.conf", Format: FormatList},
		{Name: "wesbos-burners", URL: "https://raw.githubusercontent.com/wesbos/burner-email-providers/master/emails.txt", Format: FormatList},
		{Name: "mailchecker", URL: "https://raw.githubusercontent.com/FGRibreau/mailchecker/master/list.txt", Format: FormatList},
		{Name: "fakefilter", URL: "https://raw.githubusercontent.com/7c/fakefilter/main/txt/data.txt", Format: FormatList},
		{Name: "stopforumspam-toxic", URL: "https://www.stopforumspam.com/downloads/toxic_domains_whole.txt", Format: FormatList},
		{Name: "mailinator-bdea", URL: "https://raw.githubusercontent.com/GeroldSetz/Mailinator-Domains/master/mailinator_domains_from_bdea.cc.txt", Format: FormatList},
		{Name: "ivolo-index", URL: "https://raw.githubusercontent.com/ivolo/disposable-email-domains/master/index.json", Format: FormatJSON, Headers: jsonHeaders},
		{Name: "ivolo-wildcard", URL: "https://raw.githubusercontent.com/ivolo/disposable-email-domains/master/wildcard.json", Format: FormatJSON, Headers: jsonHeaders},
		{Name: "tempmail-plus", URL: "https://tempmail.plus/api/domains", Format: FormatJSON, Headers: jsonHeaders},
		{Name: "bdea-sha1", URL: "https://bdea.cc/domains_sha1.txt", Format: FormatSHA1},
		{Name: "temp-mail-org", URL: "https://temp-mail.org/en/option/change/", Format: FormatHTML,
			Stages: []string{`<option[^>]+value="@?([^">]+)"`}},
		{Name: "tempr-email", URL: "https://tempr.email/", Format: FormatHTML}, // default (PW) option pattern
		{Name: "guerrillamail", URL: "https://www.guerrillamail.com/", Format: FormatHTML,
			Stages: []string{`<option[^>]+value="([^">]+)"[^>]*>@?[a-z0-9.-]+</option>`}},
		{Name: "fakemailgenerator", URL: "https://www.fakemailgenerator.com/", Format: FormatHTML,
			Stages: []string{
				`(?s)<div[^>]+class="tt-suggestion"[^>]*>(.*?)</div>`,
				`@([a-z0-9.-]+\.[a-z]{2,})`,
			}},
		{Name: "yopmail-domains", URL: "https://yopmail.com/en/domain", Format: FormatHTML,
			Stages: []string{
				`(?s)<div[^>]+id="domainlist"[^>]*>(.*?)</div>`,
				`>\s*@?([a-z0-9-]+\.[a-z]{2,})\s*<`,
			}},
		{Name: "mohmal", URL: "https://www.mohmal.com/en", Format: FormatHTML,
			Stages: []string{`<option[^>]+value="([^">]+)"`}},
		{Name: "trashmail", URL: "https://trashmail.com/", Format: FormatHTML,
			Stages: []string{`<option[^>]+value="([^">]+)"`}},
		{Name: "throwawaymail", URL: "https://www.throwawaymail.com/en", Format: FormatHTML,
			Stages: []string{`@([a-z0-9.-]+\.[a-z]{2,})`}},
		{Name: "tempail", URL: "https://tempail.com/en/", Format: FormatHTML,
			Stages: []string{`<option[^>]+value="([^">]+)"`}},
		{Name: "correotemporal", URL: "https://correotemporal.org/", Format: FormatHTML, Encoding: "iso-8859-1",
			Stages: []string{`@([a-z0-9.-]+\.[a-z]{2,})`}},
		{Name: "dropmail-ws", URL: "wss://dropmail.me/websocket", Format: FormatWS, Scrape: true, Timeout: 15 * time.Second},
		{Name: "minuteinbox", URL: "https://www.minuteinbox.com/index/index", Format: FormatJSON, Headers: jsonHeaders, Scrape: true, Timeout: 15 * time.Second},
		{Name: "emailfake-session", URL: "https://emailfake.com/", Format: FormatHTML, Adapter: adapterTokenForm,
			Stages: []string{`@([a-z0-9.-]+\.[a-z]{2,})`}},
		{Name: "local-blacklist", URL: "blacklist.txt", Format: FormatFile, Tolerant: true},
		{Name: "martenson-allowlist", URL: "https://raw.githubusercontent.com/martenson/disposable-email-domains/master/allowlist.conf", Format: FormatWhitelist},
		{Name: "local-whitelist", URL: "whitelist.txt", Format: FormatWhitelist, Tolerant: true},
	}
}

// loadSources assembles the catalog plus any user-supplied files, then
// resolves everything that can fail at runtime (regex stages, adapter names,
// encodings) so a bad descriptor aborts before the first fetch.
func loadSources(cfg *Config) ([]*Source, error) {
	sources := defaultSources()

	if cfg.AddFile != "" {
		sources = append(sources, &Source{Name: "extra-domains", URL: cfg.AddFile, Format: FormatFile})
	}
	if cfg.WhitelistFile != "" {
		sources = append(sources, &Source{Name: "extra-whitelist", URL: cfg.WhitelistFile, Format: FormatWhitelist})
	}

	if cfg.OnlySource != "" {
		var filtered []*Source
		for _, src := range sources {
			if src.Name == cfg.OnlySource {
				filtered = append(filtered, src)
			}
		}
		if len(filtered) == 0 {
			return nil, fmt.Errorf("unknown source %q", cfg.OnlySource)
		}
		sources = filtered
	}

	validate := validator.New()
	names := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		if err := validate.Struct(src); err != nil {
			return nil, fmt.Errorf("source %q: %w", src.Name, err)
		}
		if _, dup := names[src.Name]; dup {
			return nil, fmt.Errorf("duplicate source name %q", src.Name)
		}
		names[src.Name] = struct{}{}

		if err := resolveSource(src); err != nil {
			return nil, err
		}
	}
	return sources, nil
}

func resolveSource(src *Source) error {
	src.Kind = deriveKind(src)

	for _, pattern := range src.Stages {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("source %q: bad stage pattern %q: %w", src.Name, pattern, err)
		}
		src.stages = append(src.stages, re)
	}

	if src.Encoding != "" {
		if _, err := htmlindex.Get(src.Encoding); err != nil {
			return fmt.Errorf("source %q: unknown encoding %q: %w", src.Name, src.Encoding, err)
		}
	}

	if src.Adapter != "" {
		fn, ok := builtinAdapters()[src.Adapter]
		if !ok {
			return fmt.Errorf("source %q: unknown adapter %q", src.Name, src.Adapter)
		}
		src.adapter = fn
	}
	return nil
}

func deriveKind(src *Source) SourceKind {
	if src.Adapter != "" {
		return KindCustom
	}
	switch {
	case strings.HasPrefix(src.URL, "ws://"), strings.HasPrefix(src.URL, "wss://"):
		return KindWebsocket
	case strings.HasPrefix(src.URL, "http://"), strings.HasPrefix(src.URL, "https://"):
		return KindHTTP
	default:
		return KindFile
	}
}
