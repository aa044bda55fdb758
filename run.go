package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Whitelist entries that exist to be unresolvable; the sanity check skips
// them.
var reservedExampleDomains = map[string]struct{}{
	"example.com": {},
	"example.org": {},
	"example.net": {},
}

type Pipeline struct {
	cfg        *Config
	logger     *logrus.Logger
	sources    []*Source
	fetcher    *Fetcher
	normalizer *Normalizer
	store      *Store
	verifier   *Verifier
}

func NewPipeline(cfg *Config, logger *logrus.Logger) (*Pipeline, error) {
	sources, err := loadSources(cfg)
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}

	p := &Pipeline{
		cfg:        cfg,
		logger:     logger,
		sources:    sources,
		fetcher:    NewFetcher(cfg, logger),
		normalizer: NewNormalizer(logger),
		store:      NewStore(logger),
	}

	if cfg.Verify || cfg.SanityCheck {
		resolver, err := NewResolver(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("init resolver: %w", err)
		}
		p.verifier = NewVerifier(resolver, logger)
	}
	return p, nil
}

// Run drives every source through fetch, normalize, validate and absorb,
// applies the whitelist once, then verifies and writes artifacts. The store
// is only touched between pool joins; workers hand back payloads.
func (p *Pipeline) Run(ctx context.Context) error {
	started := time.Now()
	p.store.LoadPrevious(p.cfg.OutputDir)

	for _, src := range p.sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.processSource(ctx, src); err != nil {
			return err
		}
	}

	removedByWhitelist := p.store.ApplyWhitelist()

	if p.cfg.SanityCheck && p.verifier != nil {
		p.sanityCheckWhitelist(ctx)
	}

	var verified []VerifyResult
	if p.cfg.Verify {
		domains := p.store.Domains()
		p.logger.WithFields(logrus.Fields{
			"domains": len(domains),
			"workers": p.cfg.DNSWorkers,
		}).Info("verifying mail capability")
		verified = p.verifier.VerifyAll(ctx, domains, p.cfg.DNSWorkers)
	}

	writer := NewWriter(p.cfg.OutputDir, p.logger)
	if err := writer.WriteAll(p.sources, p.store, verified, p.cfg); err != nil {
		return fmt.Errorf("write artifacts: %w", err)
	}

	p.report(started, removedByWhitelist, verified)
	return nil
}

func (p *Pipeline) processSource(ctx context.Context, src *Source) error {
	log := p.logger.WithFields(logrus.Fields{
		"source": src.Name,
		"kind":   src.Kind.String(),
		"format": string(src.Format),
	})
	log.Debug("processing source")

	var payloads [][]byte
	if src.Scrape {
		payloads = p.fetcher.FetchScrape(ctx, src)
	} else {
		raw, err := p.fetcher.Fetch(ctx, src)
		if err != nil {
			if src.Kind == KindFile {
				// A required local file is configuration; its absence kills
				// the run.
				return err
			}
			log.WithField("error", err.Error()).Warn("fetch failed, source skipped")
			return p.strictCheck(src, "fetch failed")
		}
		if raw == nil {
			// Tolerant file source with nothing on disk.
			return nil
		}
		payloads = [][]byte{raw}
	}

	var (
		valid     []string
		validSeen = make(map[string]struct{})
		hashLines int
		hashAdded int
	)
	for _, raw := range payloads {
		payload, err := p.normalizer.Normalize(src, raw)
		if err != nil {
			log.WithField("error", err.Error()).Warn("payload not usable")
			continue
		}
		if src.Format == FormatSHA1 {
			hashLines += len(payload.Hashes)
			hashAdded += p.store.AddHashes(payload.Hashes)
			continue
		}

		domains := filterDomains(payload.Candidates)
		if len(domains) == 0 {
			// Declared structure produced nothing; sweep the raw text
			// before giving up on this payload.
			domains = rescanForDomains(raw)
			if len(domains) > 0 {
				log.WithField("rescued", len(domains)).Info("fallback rescan rescued domains")
			}
		}
		for _, d := range domains {
			if _, dup := validSeen[d]; dup {
				continue
			}
			validSeen[d] = struct{}{}
			valid = append(valid, d)
		}
	}

	if src.Format == FormatSHA1 {
		if hashLines == 0 {
			log.Warn("source yielded no usable hashes")
			return p.strictCheck(src, "no usable result")
		}
		log.WithFields(logrus.Fields{
			"lines": hashLines,
			"added": hashAdded,
		}).Info("hash feed merged")
		return nil
	}

	if len(valid) == 0 {
		log.Warn("source yielded no usable domains")
		return p.strictCheck(src, "no usable result")
	}

	result := p.store.Absorb(src, valid)
	if result.Whitelisted {
		log.WithField("whitelisted", len(valid)).Info("whitelist entries recorded")
		return nil
	}
	log.WithFields(logrus.Fields{
		"listed": len(valid),
		"added":  result.Added,
		"total":  result.Total,
	}).Info("source absorbed")
	return nil
}

// strictCheck promotes a silently-skipped source to a run-aborting failure
// when debug/strict mode is on.
func (p *Pipeline) strictCheck(src *Source, reason string) error {
	if p.cfg.Strict {
		return fmt.Errorf("strict mode: source %s: %s", src.Name, reason)
	}
	return nil
}

// sanityCheckWhitelist verifies the whitelist's own quality. Advisory only:
// a dead whitelist domain is worth a warning, never a failed run.
func (p *Pipeline) sanityCheckWhitelist(ctx context.Context) {
	var targets []string
	for _, d := range p.store.SkipDomains() {
		if _, reserved := reservedExampleDomains[d]; reserved {
			continue
		}
		targets = append(targets, d)
	}
	if len(targets) == 0 {
		return
	}
	for _, r := range p.verifier.VerifyAll(ctx, targets, p.cfg.DNSWorkers) {
		if !r.MailCapable {
			p.logger.WithFields(logrus.Fields{
				"domain": r.Domain,
				"reason": r.Reason,
			}).Warn("whitelist domain not mail-capable")
		}
	}
}

func (p *Pipeline) report(started time.Time, removedByWhitelist int, verified []VerifyResult) {
	if p.store.HasPrevious() {
		added, removed := p.store.Diff()
		p.logger.WithFields(logrus.Fields{
			"new":  len(added),
			"gone": len(removed),
		}).Info("diff against previous run")
		for _, d := range added {
			p.logger.WithField("domain", d).Debug("new domain")
		}
		for _, d := range removed {
			if p.store.Seen(d) {
				p.logger.WithField("domain", d).Debug("domain removed by whitelist")
			} else {
				p.logger.WithField("domain", d).Debug("domain gone from sources")
			}
		}
	}

	fields := logrus.Fields{
		"domains":   p.store.DomainCount(),
		"hashes":    p.store.HashCount(),
		"whitelist": p.store.SkipCount(),
		"removed":   removedByWhitelist,
		"elapsed":   time.Since(started).Round(time.Millisecond).String(),
	}
	if len(verified) > 0 {
		capable := 0
		for _, r := range verified {
			if r.MailCapable {
				capable++
			}
		}
		fields["mail_capable"] = capable
		fields["no_mx"] = len(verified) - capable
	}
	p.logger.WithFields(fields).Info("run summary")
}
