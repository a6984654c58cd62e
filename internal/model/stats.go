package model

import "time"

// SkillCount is one row of the skill ranking.
type SkillCount struct {
	Skill string `json:"skill"`
	Count int    `json:"count"`
}

// Stats is the aggregate snapshot served to the presentation layer.
type Stats struct {
	Total               int                `json:"total"`
	ByCountry           map[string]int     `json:"by_country"`
	ByIndustry          map[string]int     `json:"by_industry"`
	ByCategory          map[string]int     `json:"by_category"`
	ByStatus            map[string]int     `json:"by_status"`
	AvgSalaryByCategory map[string]float64 `json:"avg_salary_by_category"`
	TopSkills           []SkillCount       `json:"top_skills"`
	GeneratedAt         time.Time          `json:"generated_at"`
}

// NewStats returns a Stats value with all maps allocated.
func NewStats() *Stats {
	return &Stats{
		ByCountry:           make(map[string]int),
		ByIndustry:          make(map[string]int),
		ByCategory:          make(map[string]int),
		ByStatus:            make(map[string]int),
		AvgSalaryByCategory: make(map[string]float64),
	}
}

// Rejection is an audit-log entry for a posting the validator refused.
type Rejection struct {
	ID             int64       `json:"id"`
	Title          string      `json:"title"`
	Company        string      `json:"company"`
	SourceURL      string      `json:"source_url"`
	SourcePlatform string      `json:"source_platform"`
	Reasons        []ErrorKind `json:"reasons"`
	RejectedAt     time.Time   `json:"rejected_at"`
}

// RecordFilter narrows List queries.
type RecordFilter struct {
	Status   Status
	Industry Industry
	Country  string
	Limit    int
	Offset   int
}

// TrendPoint counts records first seen on one UTC day.
type TrendPoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}
