package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Location is the country + city pair reported by a source platform.
type Location struct {
	Country string `json:"country" csv:"country"`
	City    string `json:"city" csv:"city"`
}

// String renders the location as "City, COUNTRY", skipping empty parts.
func (l Location) String() string {
	switch {
	case l.City == "" && l.Country == "":
		return ""
	case l.City == "":
		return l.Country
	case l.Country == "":
		return l.City
	default:
		return l.City + ", " + l.Country
	}
}

// UnmarshalJSON accepts either the {country, city} object or the flat
// "City, Region, COUNTRY" string some scrapers emit. In the string form the
// first part is the city and the last part, when there are several, the
// country.
func (l *Location) UnmarshalJSON(data []byte) error {
	var flat string
	if err := json.Unmarshal(data, &flat); err == nil {
		parts := strings.Split(flat, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		*l = Location{City: parts[0]}
		if len(parts) > 1 {
			l.Country = parts[len(parts)-1]
		}
		return nil
	}
	type plain Location
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*l = Location(obj)
	return nil
}

// RawPosting is a single job posting exactly as the scraper produced it.
// It is never mutated by the pipeline.
type RawPosting struct {
	ExternalID      string     `json:"external_id,omitempty"`
	Title           string     `json:"title"`
	Company         string     `json:"company"`
	Location        Location   `json:"location"`
	Description     string     `json:"description"`
	SourceURL       string     `json:"source_url"`
	SourcePlatform  string     `json:"source_platform"`
	SalaryMin       *float64   `json:"salary_min,omitempty"`
	SalaryMax       *float64   `json:"salary_max,omitempty"`
	Currency        string     `json:"currency,omitempty"`
	Remote          *bool      `json:"remote,omitempty"`
	SkillsRequired  []string   `json:"skills_required,omitempty"`
	SkillsPreferred []string   `json:"skills_preferred,omitempty"`
	PostedAt        *time.Time `json:"posted_at,omitempty"`
}

// CanonicalPosting is the normalized working unit produced by the sanitizer.
// Display fields keep their original casing; *Key fields are case-folded
// and used for candidate lookup.
type CanonicalPosting struct {
	ExternalID     string
	Title          string
	Company        string
	CompanyKey     string
	Country        string
	City           string
	CityKey        string
	Description    string
	SourceURL      string
	SourcePlatform string
	SalaryMin      *float64
	SalaryMax      *float64
	Currency       string
	Remote         bool
	PostedAt       *time.Time

	// FullDescription is the pre-truncation text; classification scores
	// against it. It is not persisted.
	FullDescription   string
	DescriptionLength int

	SkillsRequired  []string
	SkillsPreferred []string
}

// LocationString returns the display location used for similarity scoring.
func (p CanonicalPosting) LocationString() string {
	return Location{Country: p.Country, City: p.City}.String()
}

// ClassificationText returns the description text the classifier should
// score against, preferring the untruncated form.
func (p CanonicalPosting) ClassificationText() string {
	if p.FullDescription != "" {
		return p.FullDescription
	}
	return p.Description
}

// Raw converts a canonical posting back into scraper shape. Sanitizing the
// result yields the same canonical posting.
func (p CanonicalPosting) Raw() RawPosting {
	remote := p.Remote
	return RawPosting{
		ExternalID:      p.ExternalID,
		Title:           p.Title,
		Company:         p.Company,
		Location:        Location{Country: p.Country, City: p.City},
		Description:     p.ClassificationText(),
		SourceURL:       p.SourceURL,
		SourcePlatform:  p.SourcePlatform,
		SalaryMin:       p.SalaryMin,
		SalaryMax:       p.SalaryMax,
		Currency:        p.Currency,
		Remote:          &remote,
		SkillsRequired:  p.SkillsRequired,
		SkillsPreferred: p.SkillsPreferred,
		PostedAt:        p.PostedAt,
	}
}
