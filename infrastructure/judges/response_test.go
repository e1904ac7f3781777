package judges

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{
			name:     "bare object",
			response: `  {"totalScore": 7}  `,
			want:     `{"totalScore": 7}`,
		},
		{
			name:     "json fence",
			response: "Here is the grade:\n```json\n{\"totalScore\": 7}\n```\nThanks.",
			want:     `{"totalScore": 7}`,
		},
		{
			name:     "plain fence",
			response: "```\n{\"totalScore\": 7}\n```",
			want:     `{"totalScore": 7}`,
		},
		{
			name:     "prose around object with braces in strings",
			response: `Sure! {"overallFeedback": "used {curly} words", "n": {"a": 1}} Hope this helps.`,
			want:     `{"overallFeedback": "used {curly} words", "n": {"a": 1}}`,
		},
		{
			name:     "escaped quote in string",
			response: `x {"reasoning": "said \"hi}\" twice"} y`,
			want:     `{"reasoning": "said \"hi}\" twice"}`,
		},
		{
			name:     "no object",
			response: "I cannot grade this.",
			want:     "",
		},
		{
			name:     "unterminated",
			response: `{"totalScore": 7`,
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.response))
		})
	}
}

func TestParseGradeResponse(t *testing.T) {
	resp, err := parseGradeResponse("```json\n" + `{
		"categoryScores": [
			{"category": "History Taking", "score": 8, "maxPoints": 10, "reasoning": "Asked about onset."}
		],
		"totalScore": 8,
		"overallFeedback": "Solid interview."
	}` + "\n```")
	require.NoError(t, err)
	require.Len(t, resp.CategoryScores, 1)
	assert.Equal(t, "History Taking", resp.CategoryScores[0].Category)
	assert.Equal(t, 8.0, resp.CategoryScores[0].Score)
	assert.Equal(t, "Solid interview.", resp.OverallFeedback)
}

func TestParseGradeResponse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantErr  error
		contains string
	}{
		{name: "no json", response: "no grade today", wantErr: ErrNoJSON},
		{name: "wrong document", response: `{"grade": "A"}`, contains: "categoryScores"},
		{name: "scores not array", response: `{"categoryScores": {"a": 1}}`, contains: "categoryScores"},
		{name: "wrong types", response: `{"categoryScores": [{"category": "A", "score": "high"}]}`, contains: "decode"},
		{name: "empty category", response: `{"categoryScores": [{"category": "", "score": 1}]}`, contains: "invalid judge response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseGradeResponse(tt.response)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
		})
	}
}
