package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/htmlindex"
)

// errNoUsableList marks a payload that produced nothing to work with:
// empty body, unparseable JSON, a regex stage that matched nothing. Distinct
// from a successfully parsed but empty list.
var errNoUsableList = errors.New("no usable list in payload")

var (
	// Generic fallback for html sources without explicit stages: option
	// values whose label carries the "(PW)" marker used by the discard-style
	// frontends.
	defaultOptionRe = regexp.MustCompile(`(?i)<option[^>]+value="@?([^">]+)"[^>]*>[^<]*\(PW\)`)

	emailHostRe = regexp.MustCompile(`@([^@\s]+)$`)
	sha1LineRe  = regexp.MustCompile(`^[a-f0-9]{40}`)
)

// Websocket feeds frame the domain list in a line tagged with a leading 'D'.
const wsDomainMarker = "D"

// Payload is the normalized form of one fetched body: either domain
// candidates for the validator, or (sha1 feeds only) hashes that bypass the
// domain pipeline entirely.
type Payload struct {
	Candidates []string
	Hashes     []string
}

type Normalizer struct {
	logger *logrus.Logger
}

func NewNormalizer(logger *logrus.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize turns raw fetched bytes into candidates according to the
// source's declared format. Candidates keep their original case; folding is
// the validator's job.
func (n *Normalizer) Normalize(src *Source, raw []byte) (*Payload, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%s: empty payload: %w", src.Name, errNoUsableList)
	}

	text, err := decodePayload(raw, src.Encoding)
	if err != nil {
		n.logger.WithFields(logrus.Fields{
			"source":   src.Name,
			"encoding": src.Encoding,
			"error":    err.Error(),
		}).Warn("payload decode failed, falling back to raw bytes")
		text = string(raw)
	}

	switch src.Format {
	case FormatList, FormatFile, FormatWhitelist:
		return &Payload{Candidates: splitLines(text)}, nil
	case FormatJSON:
		return n.normalizeJSON(src, text)
	case FormatHTML:
		return n.normalizeHTML(src, text)
	case FormatSHA1:
		return n.normalizeSHA1(src, text)
	case FormatWS:
		return normalizeWS(src, text)
	default:
		return nil, fmt.Errorf("%s: unsupported format %q: %w", src.Name, src.Format, errNoUsableList)
	}
}

// decodePayload converts raw bytes from the source's declared charset to
// UTF-8. An empty name means the payload already is UTF-8.
func decodePayload(raw []byte, encodingName string) (string, error) {
	if encodingName == "" || strings.EqualFold(encodingName, "utf-8") || strings.EqualFold(encodingName, "utf8") {
		return string(raw), nil
	}
	enc, err := htmlindex.Get(encodingName)
	if err != nil {
		return "", fmt.Errorf("unknown encoding %q: %w", encodingName, err)
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", encodingName, err)
	}
	return string(decoded), nil
}

func splitLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

func (n *Normalizer) normalizeJSON(src *Source, text string) (*Payload, error) {
	var top interface{}
	if err := json.Unmarshal([]byte(text), &top); err != nil {
		return nil, fmt.Errorf("%s: invalid json (%v): %w", src.Name, err, errNoUsableList)
	}

	if obj, ok := top.(map[string]interface{}); ok {
		if v, present := obj["domains"]; present {
			top = v
		} else if v, present := obj["email"]; present {
			addr, _ := v.(string)
			if err := checkmail.ValidateFormat(addr); err != nil {
				return nil, fmt.Errorf("%s: email field %q unusable: %w", src.Name, addr, errNoUsableList)
			}
			m := emailHostRe.FindStringSubmatch(addr)
			if m == nil {
				return nil, fmt.Errorf("%s: no host in email %q: %w", src.Name, addr, errNoUsableList)
			}
			top = []interface{}{m[1]}
		}
	}

	arr, ok := top.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%s: json payload is not a domain array: %w", src.Name, errNoUsableList)
	}

	candidates := make([]string, 0, len(arr))
	dropped := 0
	for _, el := range arr {
		s, isStr := el.(string)
		if !isStr || s == "" {
			dropped++
			continue
		}
		candidates = append(candidates, s)
	}
	if dropped > 0 {
		n.logger.WithFields(logrus.Fields{"source": src.Name, "dropped": dropped}).Debug("non-string json elements dropped")
	}
	return &Payload{Candidates: candidates}, nil
}

// normalizeHTML runs the source's regex cascade. Every stage extracts the
// first capture group when the pattern has one, the whole match otherwise;
// a stage's matches, joined by newlines, are the next stage's input. Only
// the final stage's matches are entity-unescaped.
func (n *Normalizer) normalizeHTML(src *Source, text string) (*Payload, error) {
	stages := src.stages
	if len(stages) == 0 {
		stages = []*regexp.Regexp{defaultOptionRe}
	}

	input := text
	var matches []string
	for i, re := range stages {
		matches = extractStage(re, input)
		if len(matches) == 0 {
			return nil, fmt.Errorf("%s: html stage %d matched nothing: %w", src.Name, i+1, errNoUsableList)
		}
		input = strings.Join(matches, "\n")
	}

	candidates := make([]string, 0, len(matches))
	for _, m := range matches {
		m = strings.TrimSpace(html.UnescapeString(m))
		if m != "" {
			candidates = append(candidates, m)
		}
	}
	return &Payload{Candidates: candidates}, nil
}

func extractStage(re *regexp.Regexp, input string) []string {
	raw := re.FindAllStringSubmatch(input, -1)
	out := make([]string, 0, len(raw))
	for _, m := range raw {
		if len(m) > 1 {
			out = append(out, m[1])
		} else {
			out = append(out, m[0])
		}
	}
	return out
}

// normalizeSHA1 feeds pre-hashed lists straight into the hash set. The
// payload never contributes domains, so callers must treat a non-nil Hashes
// slice as "handled".
func (n *Normalizer) normalizeSHA1(src *Source, text string) (*Payload, error) {
	var hashes []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if h := sha1LineRe.FindString(line); h != "" {
			hashes = append(hashes, h)
		}
	}
	if len(hashes) == 0 {
		n.logger.WithFields(logrus.Fields{"source": src.Name}).Warn("sha1 payload contained no hash lines")
	}
	return &Payload{Hashes: hashes}, nil
}

func normalizeWS(src *Source, text string) (*Payload, error) {
	for _, line := range strings.Split(text, "\n") {
		if !strings.HasPrefix(line, wsDomainMarker) {
			continue
		}
		parts := strings.Split(strings.TrimPrefix(line, wsDomainMarker), ",")
		candidates := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				candidates = append(candidates, p)
			}
		}
		return &Payload{Candidates: candidates}, nil
	}
	return nil, fmt.Errorf("%s: no domain frame in websocket payload: %w", src.Name, errNoUsableList)
}
