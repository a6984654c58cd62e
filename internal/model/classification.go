package model

// Industry is the top-level vertical a posting belongs to.
type Industry string

const (
	IndustryIT         Industry = "IT"
	IndustryHealthcare Industry = "Healthcare"
)

// Category is one of the fixed taxonomy labels.
type Category string

const (
	CategoryFrontend          Category = "Frontend Development"
	CategoryBackend           Category = "Backend Development"
	CategoryFullStack         Category = "Full Stack Development"
	CategoryMobile            Category = "Mobile Development"
	CategoryCloudDevOps       Category = "Cloud & DevOps"
	CategoryDataEngineering   Category = "Data Engineering"
	CategoryDataScience       Category = "Data Science & Analytics"
	CategoryMachineLearning   Category = "Machine Learning & AI"
	CategorySecurity          Category = "Cybersecurity"
	CategoryQA                Category = "QA & Testing"
	CategoryEHR               Category = "EHR & Clinical Systems"
	CategoryInteroperability  Category = "Healthcare Interoperability"
	CategoryHealthcareData    Category = "Healthcare Data & Analytics"
	CategoryHealthInformatics Category = "Health Informatics"

	// CategoryUncategorized is assigned when no keyword matches.
	CategoryUncategorized Category = "Uncategorized"
)

// Classification is the classifier's verdict for one posting.
type Classification struct {
	Industry            Industry             `json:"industry"`
	PrimaryCategory     Category             `json:"primary_category"`
	SecondaryCategories []Category           `json:"secondary_categories"`
	Confidence          float64              `json:"confidence"`
	Scores              map[Category]float64 `json:"scores,omitempty"`
}

// IsUncategorized reports whether the classifier fell back to the sentinel.
func (c Classification) IsUncategorized() bool {
	return c.PrimaryCategory == CategoryUncategorized
}
