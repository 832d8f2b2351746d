// Package normalize maps provider payloads onto model.ExternalJobRecord.
//
// Every mapping is a pure function of the payload: no I/O, no clock. Missing
// optional fields stay nil. An undecodable payload, a null payload, or one
// with no provider id, title or company is an error.
package normalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"jobmate/ingestion-service/internal/model"
	"jobmate/ingestion-service/internal/source"
)

var (
	// ErrUnparseable is returned when a payload is not a JSON object of the
	// provider's shape.
	ErrUnparseable = errors.New("unparseable source record")

	// ErrUnknownProvider is returned for records from a provider without a mapping.
	ErrUnknownProvider = errors.New("no normalizer for provider")
)

// Func maps one provider payload to a canonical record.
type Func func(payload json.RawMessage) (model.ExternalJobRecord, error)

// Registry dispatches raw records to their provider's Func.
type Registry struct {
	funcs map[model.Provider]Func
}

// NewRegistry returns a registry with every built-in provider mapping.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[model.Provider]Func)}
	r.Register(model.ProviderIndeed, Indeed)
	r.Register(model.ProviderAdzuna, Adzuna)
	return r
}

// Register installs or replaces the mapping for p.
func (r *Registry) Register(p model.Provider, f Func) {
	r.funcs[p] = f
}

// Normalize maps raw into the canonical shape.
func (r *Registry) Normalize(raw source.RawRecord) (model.ExternalJobRecord, error) {
	f, ok := r.funcs[raw.Source]
	if !ok {
		return model.ExternalJobRecord{}, fmt.Errorf("%w: %s", ErrUnknownProvider, raw.Source)
	}
	return f(raw.Payload)
}

// ContentID derives a stable identity from the posting's visible content
// for providers that do not embed an id. The same title, company and
// location always hash to the same value regardless of case or spacing.
func ContentID(title, company, location string) string {
	key := strings.Join([]string{
		strings.ToLower(cleanText(title)),
		strings.ToLower(cleanText(company)),
		strings.ToLower(cleanText(location)),
	}, "|")
	sum := sha256.Sum256([]byte(key))
	return "h_" + hex.EncodeToString(sum[:])[:32]
}

// decode unmarshals a provider payload. A null or empty payload would
// decode to a zero struct and is rejected.
func decode(provider string, payload json.RawMessage, v any) error {
	if trimmed := bytes.TrimSpace(payload); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("%w: %s: empty payload", ErrUnparseable, provider)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnparseable, provider, err)
	}
	return nil
}

// requireContent rejects a record identified only by the hash of an empty
// title and company; every such payload would collapse onto one row.
func requireContent(rec model.ExternalJobRecord, title, company, location string) error {
	if title == "" && company == "" && rec.ExternalID == ContentID(title, company, location) {
		return fmt.Errorf("%w: %s: no id, title or company", ErrUnparseable, rec.Source)
	}
	return nil
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	htmlTagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
)

// cleanText collapses runs of whitespace and trims.
func cleanText(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// stripHTML turns an HTML fragment into plain text.
func stripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	r := strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'", "&nbsp;", " ")
	return cleanText(r.Replace(s))
}

// textPtr cleans s and returns nil when nothing is left.
func textPtr(s string) *string {
	return model.StringPtr(cleanText(s))
}

// firstNonEmpty returns the first argument that is not blank.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// detectRemote reports true when any hint names remote work. It returns nil
// rather than false when nothing says either way.
func detectRemote(explicit *bool, hints ...string) *bool {
	if explicit != nil {
		return explicit
	}
	for _, h := range hints {
		if strings.Contains(strings.ToLower(h), "remote") {
			t := true
			return &t
		}
	}
	return nil
}

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexStrings accepts a JSON string, an array of strings, or null.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = nil
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*f = list
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*f = nil
	} else {
		*f = []string{s}
	}
	return nil
}

// join cleans each value and joins the non-empty ones with ", ".
func join(values []string) string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = cleanText(v); v != "" {
			out = append(out, v)
		}
	}
	return strings.Join(out, ", ")
}
