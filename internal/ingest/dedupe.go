package ingest

import (
	"strings"

	"jobmate/ingestion-service/internal/model"
)

// Dedupe collapses records sharing a Key. Order is preserved and the first
// occurrence wins.
func Dedupe(records []model.ExternalJobRecord) []model.ExternalJobRecord {
	seen := make(map[string]struct{}, len(records))
	out := make([]model.ExternalJobRecord, 0, len(records))
	for _, r := range records {
		k := r.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// ContainsExcludedTerm returns true if any term appears (case-insensitive)
// anywhere in the combined title + company + description text.
func ContainsExcludedTerm(rec model.ExternalJobRecord, terms []string) bool {
	if len(terms) == 0 {
		return false
	}
	combined := strings.ToLower(rec.Title + " " + model.Deref(rec.CompanyName) + " " + model.Deref(rec.Description))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if strings.Contains(combined, strings.ToLower(term)) {
			return true
		}
	}
	return false
}
