package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	fileDomainsTxt    = "domains.txt"
	fileDomainsJSON   = "domains.json"
	fileSHA1Txt       = "domains_sha1.txt"
	fileSHA1JSON      = "domains_sha1.json"
	fileDomainsMXTxt  = "domains_mx.txt"
	fileDomainsMXJSON = "domains_mx.json"
	fileSHA1MXTxt     = "domains_sha1_mx.txt"
	fileSHA1MXJSON    = "domains_sha1_mx.json"
	fileNoMXTxt       = "domains_no_mx.txt"
	fileSourceMap     = "domains_source_map.txt"
)

type Writer struct {
	dir    string
	logger *logrus.Logger
}

func NewWriter(dir string, logger *logrus.Logger) *Writer {
	return &Writer{dir: dir, logger: logger}
}

// WriteAll produces every artifact the run has data for. Lists are sorted
// so published files diff cleanly between runs.
func (w *Writer) WriteAll(sources []*Source, store *Store, verified []VerifyResult, cfg *Config) error {
	domains := store.Domains()
	hashes := store.Hashes()

	if err := w.writeLines(fileDomainsTxt, domains); err != nil {
		return err
	}
	if err := w.writeJSON(fileDomainsJSON, domains); err != nil {
		return err
	}
	if err := w.writeLines(fileSHA1Txt, hashes); err != nil {
		return err
	}
	if err := w.writeJSON(fileSHA1JSON, hashes); err != nil {
		return err
	}

	if len(verified) > 0 {
		mxDomains := make([]string, 0, len(verified))
		noMX := make([]string, 0)
		for _, r := range verified {
			if r.MailCapable {
				mxDomains = append(mxDomains, r.Domain)
			} else {
				noMX = append(noMX, r.Domain)
			}
		}
		sort.Strings(mxDomains)
		sort.Strings(noMX)

		mxHashes := make([]string, 0, len(mxDomains))
		for _, d := range mxDomains {
			h, err := hashDomain(d)
			if err != nil {
				w.logger.WithFields(logrus.Fields{
					"domain": d,
					"error":  err.Error(),
				}).Warn("mx hash skipped")
				continue
			}
			mxHashes = append(mxHashes, h)
		}
		sort.Strings(mxHashes)

		if err := w.writeLines(fileDomainsMXTxt, mxDomains); err != nil {
			return err
		}
		if err := w.writeJSON(fileDomainsMXJSON, mxDomains); err != nil {
			return err
		}
		if err := w.writeLines(fileSHA1MXTxt, mxHashes); err != nil {
			return err
		}
		if err := w.writeJSON(fileSHA1MXJSON, mxHashes); err != nil {
			return err
		}
		if cfg.ListNoMX {
			if err := w.writeLines(fileNoMXTxt, noMX); err != nil {
				return err
			}
		}
	}

	if cfg.SourceMap {
		if err := w.writeSourceMap(sources, store); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeLines(name string, lines []string) error {
	data := ""
	if len(lines) > 0 {
		data = strings.Join(lines, "\n") + "\n"
	}
	return w.writeFile(name, []byte(data))
}

func (w *Writer) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return w.writeFile(name, append(data, '\n'))
}

// writeSourceMap dumps provenance in catalog order, one "source: domain"
// line per contribution.
func (w *Writer) writeSourceMap(sources []*Source, store *Store) error {
	var sb strings.Builder
	for _, src := range sources {
		contributed := append([]string(nil), store.Provenance(src.Name)...)
		sort.Strings(contributed)
		for _, d := range contributed {
			fmt.Fprintf(&sb, "%s: %s\n", src.Name, d)
		}
	}
	return w.writeFile(fileSourceMap, []byte(sb.String()))
}

// Writes go through a temp file and a rename so a crash never leaves a
// truncated artifact behind.
func (w *Writer) writeFile(name string, data []byte) error {
	path := filepath.Join(w.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	w.logger.WithFields(logrus.Fields{
		"file":  path,
		"bytes": len(data),
	}).Debug("artifact written")
	return nil
}
