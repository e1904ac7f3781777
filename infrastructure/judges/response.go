package judges

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
)

// ErrNoJSON is returned when a judge's reply contains no JSON object.
var ErrNoJSON = errors.New("no JSON object found in judge response")

var validate = validator.New()

// gradeResponse is the JSON document a judge is asked to produce.
type gradeResponse struct {
	CategoryScores  []categoryScoreResponse `json:"categoryScores" validate:"required,dive"`
	TotalScore      float64                 `json:"totalScore"`
	OverallFeedback string                  `json:"overallFeedback"`
}

type categoryScoreResponse struct {
	Category  string  `json:"category" validate:"required"`
	Score     float64 `json:"score"`
	MaxPoints float64 `json:"maxPoints"`
	Reasoning string  `json:"reasoning"`
}

// parseGradeResponse extracts, decodes, and validates a judge reply.
func parseGradeResponse(raw string) (gradeResponse, error) {
	doc := extractJSON(raw)
	if doc == "" {
		return gradeResponse{}, fmt.Errorf("%w (response length: %d chars)", ErrNoJSON, len(raw))
	}

	// Check the shape before decoding so a reply that is valid JSON but the
	// wrong document gets a precise error.
	if scores := gjson.Get(doc, "categoryScores"); !scores.IsArray() {
		return gradeResponse{}, fmt.Errorf("categoryScores missing or not an array (JSON length: %d chars)", len(doc))
	}

	var resp gradeResponse
	if err := json.Unmarshal([]byte(doc), &resp); err != nil {
		return gradeResponse{}, fmt.Errorf("failed to decode judge response: %w", err)
	}
	if err := validate.Struct(resp); err != nil {
		return gradeResponse{}, fmt.Errorf("invalid judge response: %w", err)
	}
	return resp, nil
}

// extractJSON returns the first JSON object in response. Models sometimes
// wrap the document in a markdown fence or add prose around it despite the
// instructions.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)
	if gjson.Valid(response) && strings.HasPrefix(response, "{") {
		return response
	}

	if start := strings.Index(response, "```"); start != -1 {
		body := response[start+3:]
		// Skip a language tag such as "json".
		if nl := strings.IndexByte(body, '\n'); nl != -1 {
			body = body[nl+1:]
		}
		if end := strings.Index(body, "```"); end != -1 {
			candidate := strings.TrimSpace(body[:end])
			if strings.HasPrefix(candidate, "{") && gjson.Valid(candidate) {
				return candidate
			}
		}
	}

	return balancedObject(response)
}

// balancedObject scans for the first brace-balanced object, ignoring braces
// inside strings.
func balancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
