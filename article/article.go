// Package article holds the article model: ordered headers, raw body,
// canonical serialization and the validation rules applied before anything
// touches the store.
package article

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Limits applied during validation.
const (
	MaxMessageIDLength = 250
	MaxNewsgroupLength = 128
)

// Header is one header line. Names compare case-insensitively.
type Header struct {
	Name  string
	Value string
}

// Article is one posted message. It is immutable once accepted by a store.
type Article struct {
	MessageID   string
	Newsgroups  []string
	Headers     []Header
	Body        []byte
	ContentHash []byte
}

// ValidationError rejects an article or message-id before any store access.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// New builds an article from headers and body, deriving MessageID and
// Newsgroups from the headers.
func New(headers []Header, body []byte) *Article {
	a := &Article{Headers: headers, Body: body}
	a.derive()
	return a
}

func (a *Article) derive() {
	a.MessageID = strings.TrimSpace(a.Get("Message-ID"))
	a.Newsgroups = splitNewsgroups(a.Get("Newsgroups"))
}

func splitNewsgroups(v string) []string {
	var groups []string
	for _, g := range strings.Split(v, ",") {
		g = strings.TrimSpace(g)
		if g != "" {
			groups = append(groups, g)
		}
	}
	return groups
}

// Get returns the first value of the named header.
func (a *Article) Get(name string) string {
	for _, h := range a.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Values returns every value of the named header, in order.
func (a *Article) Values(name string) []string {
	var out []string
	for _, h := range a.Headers {
		if strings.EqualFold(h.Name, name) {
			out = append(out, h.Value)
		}
	}
	return out
}

// Set replaces the first header called name, or appends one.
func (a *Article) Set(name, value string) {
	for i, h := range a.Headers {
		if strings.EqualFold(h.Name, name) {
			a.Headers[i].Value = value
			a.derive()
			return
		}
	}
	a.Headers = append(a.Headers, Header{Name: name, Value: value})
	a.derive()
}

// Validate checks the message-id and newsgroups.
func (a *Article) Validate() error {
	if a.MessageID == "" {
		return &ValidationError{Field: "Message-ID", Reason: "missing"}
	}
	if !ValidMessageID(a.MessageID) {
		return &ValidationError{Field: "Message-ID", Reason: fmt.Sprintf("malformed %q", a.MessageID)}
	}
	if len(a.Newsgroups) == 0 {
		return &ValidationError{Field: "Newsgroups", Reason: "missing"}
	}
	for _, g := range a.Newsgroups {
		if !ValidNewsgroup(g) {
			return &ValidationError{Field: "Newsgroups", Reason: fmt.Sprintf("bad group name %q", g)}
		}
	}
	for _, h := range a.Headers {
		if !validHeaderName(h.Name) {
			return &ValidationError{Field: "header", Reason: fmt.Sprintf("bad name %q", h.Name)}
		}
		if !validHeaderValue(h.Value) {
			return &ValidationError{Field: h.Name, Reason: "line break not followed by whitespace"}
		}
	}
	return nil
}

func validHeaderName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= ' ' || c >= 0x7f || c == ':' {
			return false
		}
	}
	return true
}

// validHeaderValue allows line breaks only as folds, so HeaderBytes output
// parses back to the same value.
func validHeaderValue(v string) bool {
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case 0:
			return false
		case '\r':
			if i+1 >= len(v) || v[i+1] != '\n' {
				return false
			}
			i++
			fallthrough
		case '\n':
			if i+1 >= len(v) || (v[i+1] != ' ' && v[i+1] != '\t') {
				return false
			}
		}
	}
	return true
}

// HeaderBytes serializes the headers, one CRLF-terminated line each.
func (a *Article) HeaderBytes() []byte {
	var buf bytes.Buffer
	for _, h := range a.Headers {
		buf.WriteString(h.Name)
		buf.WriteString(": ")
		buf.WriteString(h.Value)
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}

// Bytes is the canonical serialization: headers, a blank line, the body.
// ContentHash is computed over these bytes.
func (a *Article) Bytes() []byte {
	hdr := a.HeaderBytes()
	out := make([]byte, 0, len(hdr)+2+len(a.Body))
	out = append(out, hdr...)
	out = append(out, '\r', '\n')
	return append(out, a.Body...)
}

// ValidMessageID reports whether id has the <local@domain> shape with both
// parts non-empty and only printable, non-space ASCII inside the brackets.
func ValidMessageID(id string) bool {
	if len(id) < 5 || len(id) > MaxMessageIDLength {
		return false
	}
	if id[0] != '<' || id[len(id)-1] != '>' {
		return false
	}
	inner := id[1 : len(id)-1]
	at := strings.IndexByte(inner, '@')
	if at <= 0 || at == len(inner)-1 {
		return false
	}
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if c < 0x21 || c > 0x7e || c == '<' || c == '>' {
			return false
		}
	}
	return true
}

// ValidNewsgroup reports whether name is an acceptable newsgroup name.
func ValidNewsgroup(name string) bool {
	if name == "" || len(name) > MaxNewsgroupLength {
		return false
	}
	if name[0] == '.' || name[len(name)-1] == '.' {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '.', c == '+', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

// GenerateMessageID returns a fresh id under the instance's domain.
func GenerateMessageID(instance string) string {
	local := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "<" + local + "@" + instance + ">"
}
