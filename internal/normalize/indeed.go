package normalize

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"jobmate/ingestion-service/internal/model"
)

// indeedRecord mirrors one dataset item of the Indeed scraper actor.
// Different actor versions name a few fields differently; both spellings
// are accepted.
type indeedRecord struct {
	ID                flexString   `json:"id"`
	JobKey            string       `json:"jobKey"`
	PositionName      string       `json:"positionName"`
	Title             string       `json:"title"`
	Company           string       `json:"company"`
	CompanyName       string       `json:"companyName"`
	Location          string       `json:"location"`
	Salary            indeedSalary `json:"salary"`
	JobType           flexStrings  `json:"jobType"`
	URL               string       `json:"url"`
	ExternalApplyLink string       `json:"externalApplyLink"`
	Description       string       `json:"description"`
	DescriptionHTML   string       `json:"descriptionHTML"`
	PostedAt          string       `json:"postedAt"`
	PostingDateParsed string       `json:"postingDateParsed"`
	ScrapedAt         string       `json:"scrapedAt"`
	IsRemote          *bool        `json:"isRemote"`
	CompanyLogo       string       `json:"companyLogo"`
	CompanyURL        string       `json:"companyUrl"`
	Category          string       `json:"category"`
	ExperienceLevel   string       `json:"experienceLevel"`
	Skills            flexStrings  `json:"skills"`
	CompanyInfo       struct {
		IndeedURL   string `json:"indeedUrl"`
		URL         string `json:"url"`
		CompanyLogo string `json:"companyLogo"`
	} `json:"companyInfo"`
}

// indeedSalary accepts either a salary string or an object carrying the
// text and parsed bounds.
type indeedSalary struct {
	Text     string
	Min      *float64
	Max      *float64
	Currency string
}

func (s *indeedSalary) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var text string
	if err := json.Unmarshal(b, &text); err == nil {
		s.Text = text
		return nil
	}
	var obj struct {
		Text     string   `json:"salaryText"`
		Min      *float64 `json:"salaryMin"`
		Max      *float64 `json:"salaryMax"`
		Currency string   `json:"salaryCurrency"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	s.Text, s.Min, s.Max, s.Currency = obj.Text, obj.Min, obj.Max, obj.Currency
	return nil
}

// Indeed maps an Indeed scraper item.
func Indeed(payload json.RawMessage) (model.ExternalJobRecord, error) {
	var r indeedRecord
	if err := decode("indeed", payload, &r); err != nil {
		return model.ExternalJobRecord{}, err
	}

	title := cleanText(firstNonEmpty(r.PositionName, r.Title))
	company := cleanText(firstNonEmpty(r.Company, r.CompanyName))
	location := cleanText(r.Location)

	rec := model.ExternalJobRecord{
		Source:     model.ProviderIndeed,
		ExternalID: indeedID(r, title, company, location),
		Title:      title,

		CompanyName:    model.StringPtr(company),
		CompanyURL:     model.StringPtr(firstNonEmpty(r.CompanyURL, r.CompanyInfo.URL, r.CompanyInfo.IndeedURL)),
		CompanyLogoURL: model.StringPtr(firstNonEmpty(r.CompanyLogo, r.CompanyInfo.CompanyLogo)),

		Location: model.StringPtr(location),
		IsRemote: detectRemote(r.IsRemote, append([]string{location}, r.JobType...)...),
		JobType:  model.StringPtr(join(r.JobType)),

		ExperienceLevel: textPtr(r.ExperienceLevel),
		Category:        textPtr(r.Category),
		Skills:          cleanList(r.Skills),

		ApplyURL: model.StringPtr(firstNonEmpty(r.ExternalApplyLink, r.URL)),
		JobURL:   model.StringPtr(r.URL),
		PostedAt: indeedPostedAt(r),
	}
	if err := requireContent(rec, title, company, location); err != nil {
		return model.ExternalJobRecord{}, err
	}

	applySalary(&rec, r.Salary)

	if html := strings.TrimSpace(r.DescriptionHTML); html != "" {
		rec.DescriptionHTML = &html
	}
	rec.Description = textPtr(r.Description)
	if rec.Description == nil && rec.DescriptionHTML != nil {
		rec.Description = model.StringPtr(stripHTML(*rec.DescriptionHTML))
	}

	return rec, nil
}

func applySalary(rec *model.ExternalJobRecord, in indeedSalary) {
	parsed := ParseSalary(in.Text)
	rec.CompensationText = parsed.Text
	rec.SalaryMin, rec.SalaryMax, rec.SalaryCurrency = parsed.Min, parsed.Max, parsed.Currency

	// Bounds supplied by the provider win over bounds parsed from text.
	if in.Min != nil || in.Max != nil {
		rec.SalaryMin, rec.SalaryMax = in.Min, in.Max
	}
	if c := strings.ToUpper(strings.TrimSpace(in.Currency)); c != "" {
		rec.SalaryCurrency = &c
	}
}

// indeedID prefers the provider id, then the jk parameter of the job URL,
// then a content hash.
func indeedID(r indeedRecord, title, company, location string) string {
	if id := strings.TrimSpace(string(r.ID)); id != "" {
		return id
	}
	if jk := strings.TrimSpace(r.JobKey); jk != "" {
		return jk
	}
	for _, raw := range []string{r.URL, r.ExternalApplyLink} {
		if u, err := url.Parse(raw); err == nil {
			if jk := u.Query().Get("jk"); jk != "" {
				return jk
			}
		}
	}
	return ContentID(title, company, location)
}

var relativeAgeRe = regexp.MustCompile(`(\d+)\+?\s*(minute|hour|day|week|month)s?\s+ago`)

// indeedPostedAt resolves the absolute posting date, or a relative phrase
// against the item's own scrape time.
func indeedPostedAt(r indeedRecord) *time.Time {
	if t, ok := parseTime(r.PostingDateParsed); ok {
		return &t
	}

	scraped, ok := parseTime(r.ScrapedAt)
	if !ok {
		return nil
	}

	phrase := strings.ToLower(cleanText(r.PostedAt))
	switch {
	case phrase == "":
		return nil
	case strings.Contains(phrase, "just posted"), strings.Contains(phrase, "today"), strings.Contains(phrase, "just now"):
		return &scraped
	}

	m := relativeAgeRe.FindStringSubmatch(phrase)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}

	var t time.Time
	switch m[2] {
	case "minute":
		t = scraped.Add(-time.Duration(n) * time.Minute)
	case "hour":
		t = scraped.Add(-time.Duration(n) * time.Hour)
	case "day":
		t = scraped.AddDate(0, 0, -n)
	case "week":
		t = scraped.AddDate(0, 0, -7*n)
	case "month":
		t = scraped.AddDate(0, -n, 0)
	}
	return &t
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func cleanList(values []string) []string {
	var out []string
	for _, v := range values {
		if v = cleanText(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
