package judges

import (
	"bytes"
	"fmt"
	"strconv"
	"text/template"

	"github.com/ahrav/go-rubric/internal/domain"
)

// SystemPrompt frames every judge as a medical-education evaluator.
const SystemPrompt = `You are an expert medical education evaluator. Your task is to grade a student's performance in a simulated patient interview based on a provided rubric.

## Your Role
- You are evaluating a medical student's interview with a simulated patient (virtual patient)
- The "user" messages are from the student conducting the interview
- The "assistant" messages are from the simulated patient responding

## Grading Guidelines
1. Evaluate ONLY the student's performance (user messages), not the patient's responses
2. For each rubric category, assess how well the student met the criteria
3. Provide specific evidence from the transcript to support your scores
4. Be fair but rigorous - students should demonstrate competency to earn full points
5. Consider both what was asked AND how it was asked (communication style, empathy, etc.)

## Scoring Scale
- For each category, score from 0 to the maximum points allowed
- 0 = Did not address this area at all
- 25% of max = Minimal attempt, significant gaps
- 50% of max = Partial completion, some important elements missing
- 75% of max = Good performance with minor gaps
- 100% of max = Excellent, comprehensive coverage

## Response Format
You must respond with valid JSON matching the exact structure requested. Do not include any text before or after the JSON.`

// userPromptText renders a GradingInput. Sections are separated by blank
// lines and the trailing JSON skeleton mirrors gradeResponse.
const userPromptText = `{{with .PatientContext}}## Patient Context
- Name: {{.Name}}
- Age: {{.Age}}
- Chief Complaint: {{.ChiefComplaint}}

{{end}}## Grading Rubric (Total: {{num .Rubric.TotalPoints}} points)

{{range $i, $c := .Rubric.Categories}}{{if $i}}

{{end}}### Category {{add $i 1}}: {{$c.Name}} ({{num $c.MaxPoints}} points)
**Description:** {{$c.Description}}
**Criteria:** {{$c.Criteria}}{{end}}

## Chat Transcript to Evaluate

{{range $i, $m := .Transcript}}{{if $i}}

{{end}}[{{speaker $m.Role}}]: {{$m.Content}}{{end}}

## Your Task

Grade the student's performance in the above transcript according to each rubric category. For each category:
1. Assign a score from 0 to the maximum points
2. Provide specific reasoning with evidence from the transcript

Respond with a JSON object in this exact format:
{
  "categoryScores": [
    {
      "category": "Category Name",
      "score": <number>,
      "maxPoints": <number>,
      "reasoning": "Specific explanation with evidence from transcript"
    }
  ],
  "totalScore": <sum of all category scores>,
  "overallFeedback": "A 2-3 sentence summary of the student's overall performance"
}`

var userPromptTemplate = template.Must(template.New("gradingUserPrompt").Funcs(template.FuncMap{
	"add": func(a, b int) int { return a + b },
	// num prints 10 rather than 10.000000 and keeps 7.5 intact.
	"num": func(x float64) string { return strconv.FormatFloat(x, 'f', -1, 64) },
	"speaker": func(r domain.Role) string {
		if r == domain.RoleUser {
			return "STUDENT"
		}
		return "PATIENT"
	},
}).Parse(userPromptText))

// BuildUserPrompt renders the rubric, transcript, and optional patient
// context into the grading request.
func BuildUserPrompt(input domain.GradingInput) (string, error) {
	// text/template leaves content untouched, so transcript text that looks
	// like template syntax is emitted literally.
	var buf bytes.Buffer
	if err := userPromptTemplate.Execute(&buf, input); err != nil {
		return "", fmt.Errorf("failed to render grading prompt: %w", err)
	}
	return buf.String(), nil
}
