package registry

import "github.com/sells-group/jobfeed/internal/model"

func kw(term string, weight float64) Keyword { return Keyword{Term: term, Weight: weight} }

var defaultCategories = []Category{
	{
		Name:     model.CategoryFrontend,
		Industry: model.IndustryIT,
		Titles:   []string{"Frontend Developer", "Frontend Engineer", "Front End Developer", "Front-End Developer", "React Developer", "Angular Developer", "Vue Developer", "UI Developer", "UI Engineer", "Web Developer"},
		Keywords: []Keyword{
			kw("frontend", 9), kw("front-end", 9), kw("front end", 9),
			kw("react", 8), kw("angular", 8), kw("vue", 8), kw("next.js", 7), kw("redux", 6),
			kw("typescript", 5), kw("javascript", 4), kw("css", 4), kw("html", 3),
			kw("tailwind", 5), kw("webpack", 4), kw("ui", 3), kw("ux", 2),
		},
	},
	{
		Name:     model.CategoryBackend,
		Industry: model.IndustryIT,
		Titles:   []string{"Backend Developer", "Backend Engineer", "Back End Developer", "Back-End Developer", "API Developer", "Java Developer", "Python Developer", "Golang Developer", ".NET Developer"},
		Keywords: []Keyword{
			kw("backend", 9), kw("back-end", 9), kw("back end", 9),
			kw("django", 7), kw("flask", 6), kw("spring boot", 7), kw("fastapi", 6),
			kw("node.js", 6), kw("golang", 6), kw("java", 5), kw("python", 4),
			kw("microservices", 6), kw("rest api", 5), kw("apis", 4), kw("api", 3),
			kw("postgresql", 4), kw("mysql", 4), kw("mongodb", 4), kw("sql", 3), kw("redis", 3),
		},
	},
	{
		Name:     model.CategoryFullStack,
		Industry: model.IndustryIT,
		Titles:   []string{"Full Stack Developer", "Full Stack Engineer", "Full Stack Software Engineer", "Fullstack Developer", "Full-Stack Developer", "MERN Stack Developer"},
		Keywords: []Keyword{
			kw("full stack", 9), kw("full-stack", 9), kw("fullstack", 9),
			kw("mern", 7), kw("mean stack", 7), kw("frontend and backend", 6), kw("end-to-end", 3),
		},
	},
	{
		Name:     model.CategoryMobile,
		Industry: model.IndustryIT,
		Titles:   []string{"Mobile Developer", "iOS Developer", "Android Developer", "Mobile Engineer", "React Native Developer", "Flutter Developer"},
		Keywords: []Keyword{
			kw("mobile", 7), kw("ios", 8), kw("android", 8), kw("swift", 7), kw("kotlin", 7),
			kw("react native", 8), kw("flutter", 8), kw("xamarin", 6), kw("objective-c", 6),
		},
	},
	{
		Name:     model.CategoryCloudDevOps,
		Industry: model.IndustryIT,
		Titles:   []string{"DevOps Engineer", "Cloud Engineer", "Site Reliability Engineer", "SRE", "Platform Engineer", "Cloud Architect", "Infrastructure Engineer"},
		Keywords: []Keyword{
			kw("devops", 9), kw("sre", 8), kw("site reliability", 8),
			kw("kubernetes", 7), kw("terraform", 7), kw("docker", 5), kw("ci/cd", 6), kw("jenkins", 5),
			kw("aws", 5), kw("azure", 5), kw("gcp", 5), kw("ansible", 6), kw("helm", 5),
			kw("monitoring", 3), kw("cloud", 4), kw("infrastructure", 4),
		},
	},
	{
		Name:     model.CategoryDataEngineering,
		Industry: model.IndustryIT,
		Titles:   []string{"Data Engineer", "Big Data Engineer", "ETL Developer", "Analytics Engineer", "Data Platform Engineer"},
		Keywords: []Keyword{
			kw("data engineer", 9), kw("data pipeline", 8), kw("etl", 8), kw("elt", 6),
			kw("spark", 7), kw("airflow", 7), kw("kafka", 6), kw("snowflake", 6), kw("databricks", 6),
			kw("dbt", 6), kw("hadoop", 5), kw("data warehouse", 6), kw("bigquery", 5),
		},
	},
	{
		Name:     model.CategoryDataScience,
		Industry: model.IndustryIT,
		Titles:   []string{"Data Scientist", "Data Analyst", "Business Intelligence Analyst", "BI Developer", "Analytics Manager"},
		Keywords: []Keyword{
			kw("data scientist", 9), kw("data science", 8), kw("data analyst", 8), kw("analytics", 5),
			kw("statistics", 6), kw("tableau", 6), kw("power bi", 6), kw("pandas", 5),
			kw("a/b testing", 5), kw("business intelligence", 6),
		},
	},
	{
		Name:     model.CategoryMachineLearning,
		Industry: model.IndustryIT,
		Titles:   []string{"Machine Learning Engineer", "ML Engineer", "AI Engineer", "Deep Learning Engineer", "NLP Engineer", "Computer Vision Engineer", "MLOps Engineer"},
		Keywords: []Keyword{
			kw("machine learning", 9), kw("deep learning", 8), kw("artificial intelligence", 7),
			kw("pytorch", 7), kw("tensorflow", 7), kw("nlp", 7), kw("llm", 7), kw("genai", 7),
			kw("computer vision", 7), kw("model training", 6), kw("mlops", 6), kw("scikit-learn", 5),
			kw("ml", 5), kw("ai", 4),
		},
	},
	{
		Name:     model.CategorySecurity,
		Industry: model.IndustryIT,
		Titles:   []string{"Security Engineer", "Cybersecurity Analyst", "Security Analyst", "Penetration Tester", "Information Security Engineer", "SOC Analyst"},
		Keywords: []Keyword{
			kw("cybersecurity", 9), kw("security", 6), kw("infosec", 8), kw("penetration testing", 8),
			kw("siem", 7), kw("soc", 6), kw("vulnerability", 6), kw("iam", 5), kw("threat", 5),
			kw("firewall", 5), kw("incident response", 6), kw("owasp", 6),
		},
	},
	{
		Name:     model.CategoryQA,
		Industry: model.IndustryIT,
		Titles:   []string{"QA Engineer", "Test Engineer", "SDET", "QA Analyst", "Automation Engineer", "Quality Assurance Engineer"},
		Keywords: []Keyword{
			kw("qa", 8), kw("quality assurance", 9), kw("sdet", 9), kw("test automation", 8),
			kw("selenium", 7), kw("cypress", 7), kw("playwright", 6), kw("testing", 4),
			kw("regression", 4), kw("jest", 4),
		},
	},
	{
		Name:     model.CategoryEHR,
		Industry: model.IndustryHealthcare,
		Titles:   []string{"EHR Developer", "Epic Developer", "Epic Analyst", "Cerner Developer", "EHR Analyst", "Clinical Applications Analyst", "EMR Specialist"},
		Keywords: []Keyword{
			kw("ehr", 9), kw("emr", 9), kw("epic", 8), kw("cerner", 8), kw("meditech", 7),
			kw("allscripts", 7), kw("clinical workflows", 6), kw("clinical systems", 7), kw("clinical", 4),
		},
	},
	{
		Name:     model.CategoryInteroperability,
		Industry: model.IndustryHealthcare,
		Titles:   []string{"Integration Engineer", "Interface Engineer", "Interface Analyst", "HL7 Developer", "FHIR Developer", "Interoperability Engineer"},
		Keywords: []Keyword{
			kw("fhir", 9), kw("hl7", 9), kw("interoperability", 8), kw("health information exchange", 8),
			kw("mirth", 7), kw("rhapsody", 6), kw("dicom", 6), kw("integration", 3),
		},
	},
	{
		Name:     model.CategoryHealthcareData,
		Industry: model.IndustryHealthcare,
		Titles:   []string{"Healthcare Data Analyst", "Clinical Data Analyst", "Healthcare Data Engineer", "Clinical Data Scientist"},
		Keywords: []Keyword{
			kw("claims data", 8), kw("clinical data", 8), kw("healthcare analytics", 8), kw("population health", 7),
			kw("hedis", 7), kw("omop", 7), kw("real-world evidence", 6), kw("patient data", 5),
		},
	},
	{
		Name:     model.CategoryHealthInformatics,
		Industry: model.IndustryHealthcare,
		Titles:   []string{"Health Informatics Specialist", "Clinical Informaticist", "Nursing Informatics Specialist", "Informatics Analyst"},
		Keywords: []Keyword{
			kw("health informatics", 9), kw("clinical informatics", 9), kw("nursing informatics", 8),
			kw("informatics", 6), kw("telehealth", 5), kw("hipaa", 5), kw("icd-10", 5), kw("snomed", 6),
		},
	},
}

var defaultSkills = []string{
	"Python", "Java", "JavaScript", "TypeScript", "Golang", "Rust", "C++", "C#", "Ruby", "PHP", "Kotlin", "Swift", "Scala",
	"React", "Redux", "Angular", "Vue", "Next.js", "Node.js", "Django", "Flask", "FastAPI", "Spring Boot", ".NET",
	"HTML", "CSS", "Tailwind", "GraphQL",
	"SQL", "PostgreSQL", "MySQL", "MongoDB", "Redis", "Elasticsearch", "Cassandra", "DynamoDB",
	"AWS", "Azure", "GCP", "Docker", "Kubernetes", "Terraform", "Ansible", "Jenkins", "CI/CD", "Git", "Linux",
	"Spark", "Kafka", "Airflow", "Snowflake", "Databricks", "dbt", "Hadoop",
	"Pandas", "NumPy", "scikit-learn", "TensorFlow", "PyTorch", "NLP", "LLM", "Tableau", "Power BI",
	"Selenium", "Cypress", "Playwright", "Jest",
	"React Native", "Flutter", "iOS", "Android",
	"Epic", "Cerner", "HL7", "FHIR", "DICOM", "HIPAA", "ICD-10", "SNOMED", "Mirth",
}

// Default returns the built-in registry: ten IT and four Healthcare
// categories plus the skill lexicon.
func Default() *Registry {
	r, err := New(defaultCategories, defaultSkills)
	if err != nil {
		panic(err)
	}
	return r
}
