// Package model defines the canonical data structures shared by the
// ingestion pipeline, the stores and the HTTP triggers.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Provider tags the upstream source a posting was ingested from.
// Values mirror the external_jobs.source column.
type Provider string

const (
	ProviderIndeed Provider = "indeed"
	ProviderAdzuna Provider = "adzuna"
)

// ParseProvider converts a raw string to a Provider, returning an error for
// unknown values.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case ProviderIndeed, ProviderAdzuna:
		return p, nil
	}
	return "", fmt.Errorf("unknown job source %q", s)
}

// ExternalJobRecord is a posting normalised from a provider payload.
// (Source, ExternalID) identifies it; every other field is optional and is
// nil when the provider did not supply it.
type ExternalJobRecord struct {
	Source     Provider `json:"source"`
	ExternalID string   `json:"externalId"`
	Title      string   `json:"title"`

	CompanyName    *string `json:"companyName,omitempty"`
	CompanyURL     *string `json:"companyUrl,omitempty"`
	CompanyLogoURL *string `json:"companyLogoUrl,omitempty"`

	Location *string `json:"location,omitempty"`
	IsRemote *bool   `json:"isRemote,omitempty"`
	JobType  *string `json:"jobType,omitempty"`

	SalaryMin        *float64 `json:"salaryMin,omitempty"`
	SalaryMax        *float64 `json:"salaryMax,omitempty"`
	SalaryCurrency   *string  `json:"salaryCurrency,omitempty"`
	CompensationText *string  `json:"compensationText,omitempty"`

	ExperienceLevel *string  `json:"experienceLevel,omitempty"`
	Category        *string  `json:"category,omitempty"`
	Skills          []string `json:"skills,omitempty"`

	Description     *string `json:"description,omitempty"`
	DescriptionHTML *string `json:"descriptionHtml,omitempty"`

	ApplyURL *string    `json:"applyUrl,omitempty"`
	JobURL   *string    `json:"jobUrl,omitempty"`
	PostedAt *time.Time `json:"postedAt,omitempty"`
}

// Key returns the identity key "source:externalId".
func (r ExternalJobRecord) Key() string {
	return string(r.Source) + ":" + r.ExternalID
}

// StringPtr returns nil for blank strings and a pointer to the trimmed value
// otherwise.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
