package main

import (
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// testSource builds a resolved descriptor the way loadSources would.
func testSource(t *testing.T, src *Source) *Source {
	t.Helper()
	if err := resolveSource(src); err != nil {
		t.Fatalf("resolveSource(%q): %v", src.Name, err)
	}
	return src
}

func TestNormalize_List(t *testing.T) {
	src := testSource(t, &Source{Name: "t", URL: "http://x", Format: FormatList})
	raw := []byte("foo.com\n# a comment\n\n  bar.org  \r\nbaz.net")

	payload, err := NewNormalizer(testLogger()).Normalize(src, raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := []string{"foo.com", "bar.org", "baz.net"}
	if !reflect.DeepEqual(payload.Candidates, want) {
		t.Errorf("Candidates = %v, want %v", payload.Candidates, want)
	}
}

func TestNormalize_EmptyPayload(t *testing.T) {
	src := testSource(t, &Source{Name: "t", URL: "http://x", Format: FormatList})
	_, err := NewNormalizer(testLogger()).Normalize(src, []byte("  \n\t "))
	if !errors.Is(err, errNoUsableList) {
		t.Fatalf("Normalize() error = %v, want errNoUsableList", err)
	}
}

func TestNormalize_JSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []string
		wantErr bool
	}{
		{
			name: "domains object keeps case and drops non-strings",
			raw:  `{"domains": ["A.COM", "b.org", 123, ""]}`,
			want: []string{"A.COM", "b.org"},
		},
		{
			name: "bare array",
			raw:  `["x.com", "y.org"]`,
			want: []string{"x.com", "y.org"},
		},
		{
			name: "email object yields host",
			raw:  `{"email": "someone@Temp-Mail.org"}`,
			want: []string{"Temp-Mail.org"},
		},
		{
			name:    "object without usable key",
			raw:     `{"count": 3}`,
			wantErr: true,
		},
		{
			name:    "scalar",
			raw:     `"foo.com"`,
			wantErr: true,
		},
		{
			name:    "broken json",
			raw:     `{"domains": [`,
			wantErr: true,
		},
	}

	n := NewNormalizer(testLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := testSource(t, &Source{Name: "t", URL: "http://x", Format: FormatJSON})
			payload, err := n.Normalize(src, []byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, errNoUsableList) {
					t.Fatalf("Normalize() error = %v, want errNoUsableList", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if !reflect.DeepEqual(payload.Candidates, tt.want) {
				t.Errorf("Candidates = %v, want %v", payload.Candidates, tt.want)
			}
		})
	}
}

func TestNormalize_HTMLDefaultPattern(t *testing.T) {
	src := testSource(t, &Source{Name: "t", URL: "http://x", Format: FormatHTML})
	raw := []byte(`<select>
<option value="@trbvm.com">trbvm.com (PW)</option>
<option value="keep.net">keep.net</option>
</select>`)

	payload, err := NewNormalizer(testLogger()).Normalize(src, raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := []string{"trbvm.com"}
	if !reflect.DeepEqual(payload.Candidates, want) {
		t.Errorf("Candidates = %v, want %v", payload.Candidates, want)
	}
}

func TestNormalize_HTMLCascade(t *testing.T) {
	src := testSource(t, &Source{
		Name:   "t",
		URL:    "http://x",
		Format: FormatHTML,
		Stages: []string{
			`(?s)<ul id="domains">(.*?)</ul>`,
			`<li>([^<]+)</li>`,
		},
	})
	raw := []byte(`<ul id="nav"><li>ignored.com</li></ul>
<ul id="domains"><li>one.com</li><li>two&#45;x.org</li></ul>`)

	payload, err := NewNormalizer(testLogger()).Normalize(src, raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	// Final stage matches are entity-unescaped.
	want := []string{"one.com", "two-x.org"}
	if !reflect.DeepEqual(payload.Candidates, want) {
		t.Errorf("Candidates = %v, want %v", payload.Candidates, want)
	}
}

func TestNormalize_HTMLWholeMatchStage(t *testing.T) {
	// A stage without a capture group contributes its whole match.
	src := testSource(t, &Source{
		Name:   "t",
		URL:    "http://x",
		Format: FormatHTML,
		Stages: []string{`[a-z0-9-]+\.example`},
	})
	raw := []byte("aaa.example bbb.example")

	payload, err := NewNormalizer(testLogger()).Normalize(src, raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := []string{"aaa.example", "bbb.example"}
	if !reflect.DeepEqual(payload.Candidates, want) {
		t.Errorf("Candidates = %v, want %v", payload.Candidates, want)
	}
}

func TestNormalize_HTMLStageMiss(t *testing.T) {
	src := testSource(t, &Source{
		Name:   "t",
		URL:    "http://x",
		Format: FormatHTML,
		Stages: []string{`<nothing-matches-this>`},
	})
	_, err := NewNormalizer(testLogger()).Normalize(src, []byte("<html>whatever</html>"))
	if !errors.Is(err, errNoUsableList) {
		t.Fatalf("Normalize() error = %v, want errNoUsableList", err)
	}
}

func TestNormalize_SHA1(t *testing.T) {
	src := testSource(t, &Source{Name: "t", URL: "http://x", Format: FormatSHA1})
	h1 := "0123456789abcdef0123456789abcdef01234567"
	h2 := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	raw := []byte(h1 + "\n" +
		h2 + " trailing text\n" + // prefix match keeps the hash
		"0123456789ABCDEF0123456789ABCDEF01234567\n" + // uppercase is not a hash line
		"deadbeef\n" + // too short
		"# comment\n")

	payload, err := NewNormalizer(testLogger()).Normalize(src, raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := []string{h1, h2}
	if !reflect.DeepEqual(payload.Hashes, want) {
		t.Errorf("Hashes = %v, want %v", payload.Hashes, want)
	}
	if len(payload.Candidates) != 0 {
		t.Errorf("Candidates = %v, want none for sha1 feeds", payload.Candidates)
	}
}

func TestNormalize_WS(t *testing.T) {
	src := testSource(t, &Source{Name: "t", URL: "ws://x", Format: FormatWS})
	raw := []byte("W{\"session\":1}\nDfoo.com, bar.org ,\nDother.com")

	payload, err := NewNormalizer(testLogger()).Normalize(src, raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	// Only the first domain frame counts.
	want := []string{"foo.com", "bar.org"}
	if !reflect.DeepEqual(payload.Candidates, want) {
		t.Errorf("Candidates = %v, want %v", payload.Candidates, want)
	}
}

func TestNormalize_WSNoDomainFrame(t *testing.T) {
	src := testSource(t, &Source{Name: "t", URL: "ws://x", Format: FormatWS})
	_, err := NewNormalizer(testLogger()).Normalize(src, []byte("W{}\nAaddr@x.com"))
	if !errors.Is(err, errNoUsableList) {
		t.Fatalf("Normalize() error = %v, want errNoUsableList", err)
	}
}

func TestDecodePayload(t *testing.T) {
	// "café.com" in latin-1.
	latin1 := []byte{'c', 'a', 'f', 0xe9, '.', 'c', 'o', 'm'}

	got, err := decodePayload(latin1, "iso-8859-1")
	if err != nil {
		t.Fatalf("decodePayload() error = %v", err)
	}
	if got != "café.com" {
		t.Errorf("decodePayload() = %q, want %q", got, "café.com")
	}

	if _, err := decodePayload([]byte("x"), "no-such-charset"); err == nil {
		t.Error("decodePayload() with unknown charset: want error")
	}

	plain, err := decodePayload([]byte("plain"), "")
	if err != nil || plain != "plain" {
		t.Errorf("decodePayload() passthrough = %q, %v", plain, err)
	}
}
