package main

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/idna"
)

// errIDNAEncode marks domains whose punycode form cannot be computed. The
// domain stays in the set; only its hash is skipped.
var errIDNAEncode = errors.New("idna encoding failed")

// hashDomain digests the IDNA (ASCII) form of a domain. No salt: published
// hashes must stay comparable across runs and across publishers.
func hashDomain(domain string) (string, error) {
	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", errIDNAEncode, domain, err)
	}
	sum := sha1.Sum([]byte(ascii))
	return hex.EncodeToString(sum[:]), nil
}

type AbsorbResult struct {
	Added       int
	Total       int
	Whitelisted bool
}

// Store is the single aggregation point for a run. It is only ever mutated
// from the orchestrating goroutine between pool joins; worker pools hand
// back immutable payloads instead of writing here.
type Store struct {
	domains    map[string]struct{}
	hashes     map[string]struct{}
	skip       map[string]struct{}
	seen       map[string]struct{} // survives whitelist subtraction, diffing only
	provenance map[string][]string

	prevDomains map[string]struct{}
	prevHashes  map[string]struct{}
	prevLoaded  bool

	logger *logrus.Logger
}

func NewStore(logger *logrus.Logger) *Store {
	return &Store{
		domains:     make(map[string]struct{}),
		hashes:      make(map[string]struct{}),
		skip:        make(map[string]struct{}),
		seen:        make(map[string]struct{}),
		provenance:  make(map[string][]string),
		prevDomains: make(map[string]struct{}),
		prevHashes:  make(map[string]struct{}),
		logger:      logger,
	}
}

// Absorb merges one source's validated domains. Whitelist sources feed the
// skip set and never count. For scrape sources only the domains this run
// had not seen before land in provenance, since most of their 80 fetches
// repeat each other.
func (s *Store) Absorb(src *Source, domains []string) AbsorbResult {
	if src.Format == FormatWhitelist {
		for _, d := range domains {
			s.skip[d] = struct{}{}
		}
		return AbsorbResult{Whitelisted: true}
	}

	added := 0
	contributed := make([]string, 0, len(domains))
	for _, d := range domains {
		s.seen[d] = struct{}{}
		_, exists := s.domains[d]
		if !exists {
			s.domains[d] = struct{}{}
			added++
			if err := s.addHash(d); err != nil {
				s.logger.WithFields(logrus.Fields{
					"source": src.Name,
					"domain": d,
					"error":  err.Error(),
				}).Warn("hash skipped")
			}
		}
		if !src.Scrape || !exists {
			contributed = append(contributed, d)
		}
	}
	s.provenance[src.Name] = append(s.provenance[src.Name], contributed...)
	return AbsorbResult{Added: added, Total: len(s.domains)}
}

func (s *Store) addHash(domain string) error {
	h, err := hashDomain(domain)
	if err != nil {
		return err
	}
	s.hashes[h] = struct{}{}
	return nil
}

// AddHashes merges pre-hashed entries from sha1 feeds. Lines were already
// pattern-checked by the normalizer.
func (s *Store) AddHashes(hashes []string) int {
	added := 0
	for _, h := range hashes {
		if _, exists := s.hashes[h]; !exists {
			s.hashes[h] = struct{}{}
			added++
		}
	}
	return added
}

// ApplyWhitelist removes every skip-set domain and its hash. Pure set
// difference; domains absent from the set are ignored.
func (s *Store) ApplyWhitelist() int {
	removed := 0
	for d := range s.skip {
		if _, ok := s.domains[d]; ok {
			delete(s.domains, d)
			removed++
		}
		if h, err := hashDomain(d); err == nil {
			delete(s.hashes, h)
		}
	}
	return removed
}

// LoadPrevious reads the prior run's outputs for diffing. A missing file
// just means a first run.
func (s *Store) LoadPrevious(dir string) {
	if data, err := os.ReadFile(filepath.Join(dir, fileDomainsTxt)); err == nil {
		for _, d := range splitLines(string(data)) {
			s.prevDomains[d] = struct{}{}
		}
		s.prevLoaded = true
	}
	if data, err := os.ReadFile(filepath.Join(dir, fileSHA1Txt)); err == nil {
		for _, h := range splitLines(string(data)) {
			s.prevHashes[h] = struct{}{}
		}
	}
	if s.prevLoaded {
		s.logger.WithFields(logrus.Fields{
			"domains": len(s.prevDomains),
			"hashes":  len(s.prevHashes),
		}).Debug("previous run loaded")
	}
}

// Diff reports domains gained and lost against the previous run. Both
// slices are sorted; nil when no previous output existed.
func (s *Store) Diff() (added, removed []string) {
	if !s.prevLoaded {
		return nil, nil
	}
	for d := range s.domains {
		if _, ok := s.prevDomains[d]; !ok {
			added = append(added, d)
		}
	}
	for d := range s.prevDomains {
		if _, ok := s.domains[d]; !ok {
			removed = append(removed, d)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

func (s *Store) Domains() []string {
	return sortedKeys(s.domains)
}

func (s *Store) Hashes() []string {
	return sortedKeys(s.hashes)
}

func (s *Store) SkipDomains() []string {
	return sortedKeys(s.skip)
}

func (s *Store) Contains(domain string) bool {
	_, ok := s.domains[domain]
	return ok
}

// Seen reports whether any source offered the domain this run, whether or
// not the whitelist later removed it. Distinguishes "whitelisted away" from
// "gone upstream" when diffing.
func (s *Store) Seen(domain string) bool {
	_, ok := s.seen[domain]
	return ok
}

func (s *Store) DomainCount() int { return len(s.domains) }

func (s *Store) HashCount() int { return len(s.hashes) }

func (s *Store) SkipCount() int { return len(s.skip) }

// HasPrevious reports whether a prior run's domain list was found on disk.
func (s *Store) HasPrevious() bool { return s.prevLoaded }

func (s *Store) Provenance(sourceName string) []string {
	return s.provenance[sourceName]
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
