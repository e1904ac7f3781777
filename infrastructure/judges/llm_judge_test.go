package judges

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-rubric/infrastructure/llm"
	"github.com/ahrav/go-rubric/internal/domain"
	"github.com/ahrav/go-rubric/internal/ports"
)

var judgeClock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newScriptedJudge(t *testing.T, model, reply string) (*LLMJudge, *llm.MockCoreLLM) {
	t.Helper()
	mock := llm.NewMockCoreLLM()
	mock.Model = model
	mock.Response = reply

	judge, err := NewLLMJudge(model, llm.NewClientFromCore(mock, llm.ClientConfig{}), JudgeConfig{},
		WithClock(func() time.Time { return judgeClock }))
	require.NoError(t, err)
	return judge, mock
}

func TestLLMJudge_ReconcilesWithRubric(t *testing.T) {
	reply := `{
		"categoryScores": [
			{"category": "empathy", "score": 9, "maxPoints": 7.5, "reasoning": "Warm throughout."},
			{"category": "Made Up", "score": 4, "maxPoints": 5, "reasoning": "Not in rubric."}
		],
		"totalScore": 42,
		"overallFeedback": "Good rapport, thin history."
	}`
	judge, mock := newScriptedJudge(t, "gemini-2.5-flash", reply)

	grade, err := judge.Grade(context.Background(), twoCategoryInput())
	require.NoError(t, err)

	assert.Equal(t, domain.JudgeGrade{
		Model: "gemini-2.5-flash",
		CategoryScores: []domain.CategoryScore{
			{Category: "History Taking", Score: 0, MaxPoints: 10, Reasoning: NoReasoning},
			{Category: "Empathy", Score: 7.5, MaxPoints: 7.5, Reasoning: "Warm throughout."},
		},
		TotalScore:      7.5,
		MaxScore:        17.5,
		OverallFeedback: "Good rapport, thin history.",
		GradedAt:        judgeClock,
	}, grade)

	assert.Equal(t, SystemPrompt, mock.LastOpts[llm.OptSystem])
	assert.Equal(t, llm.ResponseFormatJSON, mock.LastOpts[llm.OptResponseFormat])
	assert.Equal(t, 0.0, mock.LastOpts[llm.OptTemperature])
	assert.NotContains(t, mock.LastOpts, llm.OptMaxTokens)
	assert.Contains(t, mock.LastPrompt, "### Category 2: Empathy (7.5 points)")
}

func TestLLMJudge_ClampsNegativeScores(t *testing.T) {
	reply := `{"categoryScores": [
		{"category": "History Taking", "score": -3, "maxPoints": 10, "reasoning": "r"},
		{"category": "Empathy", "score": 5, "maxPoints": 7.5, "reasoning": "r"}
	], "totalScore": 2, "overallFeedback": ""}`
	judge, _ := newScriptedJudge(t, "gemini-2.5-pro", reply)

	grade, err := judge.Grade(context.Background(), twoCategoryInput())
	require.NoError(t, err)
	assert.Equal(t, 0.0, grade.CategoryScores[0].Score)
	assert.Equal(t, 5.0, grade.TotalScore)
}

func TestLLMJudge_ProviderFailure(t *testing.T) {
	mock := llm.NewMockCoreLLM()
	mock.Error = llm.NewProviderError("google", llm.ErrorTypeRateLimit, 429, "quota", nil)
	judge, err := NewLLMJudge("gemini-2.5-flash", llm.NewClientFromCore(mock, llm.ClientConfig{}), JudgeConfig{})
	require.NoError(t, err)

	_, err = judge.Grade(context.Background(), twoCategoryInput())
	require.Error(t, err)

	var llmErr *ports.LLMError
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, "grade", llmErr.Operation)
	assert.True(t, llmErr.IsRetryable())
	assert.ErrorIs(t, err, ports.ErrRateLimited)
	assert.Contains(t, err.Error(), "judge gemini-2.5-flash")
}

func TestLLMJudge_UnparseableReply(t *testing.T) {
	judge, _ := newScriptedJudge(t, "gemini-2.5-flash", "I am unable to grade this transcript.")

	_, err := judge.Grade(context.Background(), twoCategoryInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrInvalidResponse)
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestLLMJudge_FuzzyMatching(t *testing.T) {
	mock := llm.NewMockCoreLLM()
	mock.Response = `{"categoryScores": [{"category": "Histroy Taking", "score": 6, "reasoning": "ok"}]}`
	judge, err := NewLLMJudge("gpt-4.1", llm.NewClientFromCore(mock, llm.ClientConfig{}),
		JudgeConfig{MaxCategoryEditDistance: 2, MaxTokens: 2048, Temperature: 0.3})
	require.NoError(t, err)

	grade, err := judge.Grade(context.Background(), twoCategoryInput())
	require.NoError(t, err)
	assert.Equal(t, 6.0, grade.CategoryScores[0].Score)
	assert.Equal(t, 2048, mock.LastOpts[llm.OptMaxTokens])
	assert.Equal(t, 0.3, mock.LastOpts[llm.OptTemperature])
}

func TestLLMJudge_MissingCategoryPolicy(t *testing.T) {
	reply := `{"categoryScores": [{"category": "Empathy", "score": 5, "reasoning": "kind"}], "overallFeedback": ""}`

	tests := []struct {
		name    string
		policy  domain.MissingCategoryPolicy
		wantErr bool
	}{
		{name: "default scores zero", policy: ""},
		{name: "permissive scores zero", policy: domain.PolicyPermissive},
		{name: "strict rejects", policy: domain.PolicyStrict, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := llm.NewMockCoreLLM()
			mock.Response = reply
			judge, err := NewLLMJudge("gemini-2.5-flash", llm.NewClientFromCore(mock, llm.ClientConfig{}),
				JudgeConfig{MissingCategoryPolicy: tt.policy})
			require.NoError(t, err)

			grade, err := judge.Grade(context.Background(), twoCategoryInput())
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrMissingCategory)
				assert.ErrorIs(t, err, ports.ErrInvalidResponse)
				assert.Contains(t, err.Error(), "History Taking")

				var llmErr *ports.LLMError
				require.ErrorAs(t, err, &llmErr)
				assert.False(t, llmErr.IsRetryable())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 0.0, grade.CategoryScores[0].Score)
			assert.Equal(t, NoReasoning, grade.CategoryScores[0].Reasoning)
			assert.Equal(t, 5.0, grade.TotalScore)
		})
	}
}

func TestNewLLMJudge_Validation(t *testing.T) {
	client := llm.NewClientFromCore(llm.NewMockCoreLLM(), llm.ClientConfig{})

	_, err := NewLLMJudge("", client, JudgeConfig{})
	assert.Error(t, err)

	_, err = NewLLMJudge("m", nil, JudgeConfig{})
	assert.Error(t, err)

	_, err = NewLLMJudge("m", client, JudgeConfig{Temperature: 3})
	assert.Error(t, err)

	_, err = NewLLMJudge("m", client, JudgeConfig{MaxCategoryEditDistance: -1})
	assert.Error(t, err)

	_, err = NewLLMJudge("m", client, JudgeConfig{MissingCategoryPolicy: "lenient"})
	assert.Error(t, err)
}
