package normalize

import (
	"encoding/json"
	"strings"

	"jobmate/ingestion-service/internal/model"
)

// adzunaResult mirrors a single Adzuna job listing.
type adzunaResult struct {
	ID                flexString     `json:"id"`
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	Company           adzunaCompany  `json:"company"`
	Location          adzunaLocation `json:"location"`
	Category          adzunaCategory `json:"category"`
	SalaryMin         *float64       `json:"salary_min"`
	SalaryMax         *float64       `json:"salary_max"`
	SalaryIsPredicted flexString     `json:"salary_is_predicted"`
	RedirectURL       string         `json:"redirect_url"`
	Created           string         `json:"created"`
	ContractTime      string         `json:"contract_time"`
	ContractType      string         `json:"contract_type"`
}

type adzunaCompany struct {
	DisplayName string `json:"display_name"`
}

type adzunaLocation struct {
	DisplayName string   `json:"display_name"`
	Area        []string `json:"area"`
}

type adzunaCategory struct {
	Label string `json:"label"`
	Tag   string `json:"tag"`
}

// Adzuna maps an Adzuna search result. Adzuna never states a currency, so
// SalaryCurrency stays nil; predicted salaries are dropped.
func Adzuna(payload json.RawMessage) (model.ExternalJobRecord, error) {
	var r adzunaResult
	if err := decode("adzuna", payload, &r); err != nil {
		return model.ExternalJobRecord{}, err
	}

	title := stripHTML(r.Title)
	company := cleanText(r.Company.DisplayName)
	location := cleanText(r.Location.DisplayName)
	description := stripHTML(r.Description)

	id := strings.TrimSpace(string(r.ID))
	if id == "" {
		id = ContentID(title, company, location)
	}

	rec := model.ExternalJobRecord{
		Source:     model.ProviderAdzuna,
		ExternalID: id,
		Title:      title,

		CompanyName: model.StringPtr(company),
		Location:    model.StringPtr(location),
		IsRemote:    detectRemote(nil, location, title),
		JobType:     adzunaJobType(r.ContractTime, r.ContractType),
		Category:    textPtr(r.Category.Label),

		Description: model.StringPtr(description),
		ApplyURL:    model.StringPtr(r.RedirectURL),
		JobURL:      model.StringPtr(r.RedirectURL),
	}
	if err := requireContent(rec, title, company, location); err != nil {
		return model.ExternalJobRecord{}, err
	}

	if predicted := string(r.SalaryIsPredicted); predicted != "1" && predicted != "true" {
		rec.SalaryMin, rec.SalaryMax = positive(r.SalaryMin), positive(r.SalaryMax)
	}

	if t, ok := parseTime(r.Created); ok {
		rec.PostedAt = &t
	}

	return rec, nil
}

// adzunaJobType renders contract_time and contract_type as "full-time, permanent".
func adzunaJobType(values ...string) *string {
	for i, v := range values {
		values[i] = strings.ReplaceAll(v, "_", "-")
	}
	return model.StringPtr(join(values))
}

func positive(v *float64) *float64 {
	if v == nil || *v <= 0 {
		return nil
	}
	return v
}
