package domain

import (
	"math"
	"strings"
)

// RubricCategory is one scoring area of a rubric.
type RubricCategory struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description" yaml:"description"`
	MaxPoints   float64 `json:"maxPoints" yaml:"max_points"`
	Criteria    string  `json:"criteria" yaml:"criteria"`
}

// Rubric is an ordered set of scoring categories plus a total-points figure.
type Rubric struct {
	Categories  []RubricCategory `json:"categories" yaml:"categories"`
	TotalPoints float64          `json:"totalPoints" yaml:"total_points"`

	// PassingThreshold is an optional passing score, in points.
	PassingThreshold *float64 `json:"passingThreshold,omitempty" yaml:"passing_threshold,omitempty"`

	// AutoGradeEnabled marks rubrics that instructors run AI grading with.
	AutoGradeEnabled bool `json:"autoGradeEnabled" yaml:"auto_grade_enabled"`
}

// NewRubric builds a rubric whose TotalPoints is the sum of the categories'
// max points.
func NewRubric(categories []RubricCategory) Rubric {
	var total float64
	for _, c := range categories {
		total += c.MaxPoints
	}
	return Rubric{
		Categories:       append([]RubricCategory(nil), categories...),
		TotalPoints:      total,
		AutoGradeEnabled: true,
	}
}

// CategoryNames returns the rubric's category names in rubric order. This is
// the canonical order for aggregation.
func (r Rubric) CategoryNames() []string {
	names := make([]string, len(r.Categories))
	for i, c := range r.Categories {
		names[i] = c.Name
	}
	return names
}

// Validate checks that the rubric can be graded against: at least one
// category, unique non-empty names, non-negative max points, and a positive
// total.
func (r Rubric) Validate() error {
	verr := NewValidationError("Rubric")

	if len(r.Categories) == 0 {
		verr.AddError("at least one category is required")
	}
	if !(r.TotalPoints > 0) || math.IsInf(r.TotalPoints, 0) {
		verr.AddErrorf("total points must be positive, got %v", r.TotalPoints)
	}

	seen := make(map[string]struct{}, len(r.Categories))
	for i, c := range r.Categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			verr.AddErrorf("category %d has no name", i+1)
			continue
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			verr.AddErrorf("duplicate category %q", name)
		}
		seen[key] = struct{}{}
		if c.MaxPoints < 0 {
			verr.AddErrorf("category %q has negative max points", name)
		}
	}

	if r.PassingThreshold != nil && (*r.PassingThreshold < 0 || *r.PassingThreshold > r.TotalPoints) {
		verr.AddErrorf("passing threshold %v is outside [0, %v]", *r.PassingThreshold, r.TotalPoints)
	}

	return verr.ErrOrNil()
}

// Built-in rubric template names.
const (
	TemplateStandardOSCE        = "standard-osce"
	TemplateFPCCCompleteHistory = "fpcc-complete-history"
)

// RubricTemplate returns a fresh rubric for a built-in template name.
func RubricTemplate(name string) (Rubric, bool) {
	switch name {
	case TemplateStandardOSCE:
		return NewRubric(StandardOSCERubric()), true
	case TemplateFPCCCompleteHistory:
		return NewRubric(FPCCCompleteHistoryRubric()), true
	default:
		return Rubric{}, false
	}
}

// StandardOSCERubric returns the five-category, 50-point OSCE template.
func StandardOSCERubric() []RubricCategory {
	return []RubricCategory{
		{
			Name:        "History Taking",
			Description: "Gathering relevant patient information",
			MaxPoints:   10,
			Criteria:    "Asked appropriate questions, obtained comprehensive history, followed logical sequence",
		},
		{
			Name:        "Communication Skills",
			Description: "Interpersonal and communication abilities",
			MaxPoints:   10,
			Criteria:    "Clear communication, active listening, empathy, appropriate language level",
		},
		{
			Name:        "Clinical Reasoning",
			Description: "Diagnostic thinking and problem-solving",
			MaxPoints:   10,
			Criteria:    "Logical differential diagnosis, appropriate follow-up questions, clinical judgment",
		},
		{
			Name:        "Professionalism",
			Description: "Professional behavior and ethics",
			MaxPoints:   10,
			Criteria:    "Respectful manner, appropriate boundaries, ethical considerations",
		},
		{
			Name:        "Patient Education",
			Description: "Explaining and educating the patient",
			MaxPoints:   10,
			Criteria:    "Clear explanations, checked understanding, provided appropriate guidance",
		},
	}
}

// fpccScoring prefixes every FPCC criteria block.
const fpccScoring = "Scoring: ME (2pts), NI (1pt), DNM (0pt) per item\n"

// FPCCCompleteHistoryRubric returns the complete-history direct observation
// template. Each item scores Meets Expectations (2), Needs Improvement (1) or
// Does Not Meet (0).
func FPCCCompleteHistoryRubric() []RubricCategory {
	return []RubricCategory{
		{
			Name:        "Introduction",
			Description: "Initial patient interaction and rapport building",
			MaxPoints:   8,
			Criteria: fpccScoring + bullets(
				"Introduces self to patient",
				"Confirms how patient prefers to be addressed (i.e. first name, Mr/Mrs X)",
				"Asks patient's age",
				"If applicable: confirms patient's pronouns",
			),
		},
		{
			Name:        "Chief Complaint",
			Description: "Identifying the patient's primary concerns",
			MaxPoints:   6,
			Criteria: fpccScoring + bullets(
				"Elicits a clear chief complaint",
				`Identifies other concerns by asking "what else?"`,
				"Sets agenda for the visit",
			),
		},
		{
			Name:        "History of Present Illness",
			Description: "Detailed exploration of current symptoms (CLODIIERRS)",
			MaxPoints:   22,
			Criteria: fpccScoring + bullets(
				"Assesses course, chronology (CLODIIERRS)",
				"Assesses location",
				"Assesses onset",
				"Assesses duration",
				"Assesses intensity/severity",
				"Assesses impact on lifestyle",
				"Assesses exacerbating factors",
				"Assesses relieving factors",
				"Assesses radiation",
				"Assesses associated symptoms",
				"May identify and ask PMH, FH, SH, and ROS relevant to CC and HPI",
			),
		},
		{
			Name:        "Past Medical History",
			Description: "Previous medical conditions and health maintenance",
			MaxPoints:   14,
			Criteria: fpccScoring + bullets(
				"Identifies active medical problems",
				"Identifies former medical problems",
				"Identifies prior hospitalizations",
				"Identifies prior surgeries",
				"Identifies OB/Gyn history (if applicable): pregnancies, birth history",
				"Identifies pediatric history (if applicable): birth history, immunizations, developmental milestones",
				"Identifies relevant preventive topics (if applicable): cancer screenings, immunizations",
			),
		},
		{
			Name:        "Medications",
			Description: "Current medication use",
			MaxPoints:   4,
			Criteria: fpccScoring + bullets(
				"Identifies all prescription medications with dose and frequency",
				"Identifies OTC and herbal medicines",
			),
		},
		{
			Name:        "Allergies",
			Description: "Drug allergies and relationship to medical history",
			MaxPoints:   4,
			Criteria: fpccScoring + bullets(
				"Identifies all drug allergies and reactions",
				"Explores relationship between PMH and CC (Ex: have you had anything like this before? "+
					"Do you think this is related to one of your chronic conditions?)",
			),
		},
		{
			Name:        "Family History",
			Description: "Hereditary and familial health patterns",
			MaxPoints:   6,
			Criteria: fpccScoring + bullets(
				"Identifies medical conditions in first-degree relatives",
				"Explores important causes of mortality in US – heart disease, diabetes, cancer",
				"Identifies important familial risk factors related to CC/HPI (ex: Does anything like this run in your family?)",
			),
		},
		{
			Name:        "Social History",
			Description: "Lifestyle, habits, and social determinants of health",
			MaxPoints:   16,
			Criteria: fpccScoring + bullets(
				"Quantify and detail use of alcohol",
				"Quantify and detail use of tobacco products",
				"Quantify and detail use of illicit drugs",
				"Asks about diet and exercise",
				"Elicits household composition",
				"Elicits sexual history and intimate partner violence",
				"Expanded social history which could include relationship status, housing, activities/hobbies, "+
					"education, work, major stressors, sleep, travel history, religion/spirituality/culture, etc.",
				"Identifies important risk factors for the CC/HPI (ex: has anything in your daily routine changed "+
					"that could be contributing to these symptoms?)",
			),
		},
		{
			Name:        "Review of Systems",
			Description: "Comprehensive systems review",
			MaxPoints:   2,
			Criteria:    fpccScoring + bullets("Reflects on all relevant systems"),
		},
		{
			Name:        "Conclusion",
			Description: "Closing the interview and summarizing findings",
			MaxPoints:   6,
			Criteria: fpccScoring + bullets(
				"Invites questions and further comments",
				"Elicits patient's concerns or expectations about the visit",
				"Summarizes",
			),
		},
	}
}

func bullets(items ...string) string {
	return "• " + strings.Join(items, "\n• ")
}
