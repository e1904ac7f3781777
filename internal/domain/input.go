package domain

// Role identifies who authored a transcript message.
type Role string

const (
	// RoleUser marks messages written by the student.
	RoleUser Role = "user"
	// RoleAssistant marks messages written by the simulated patient.
	RoleAssistant Role = "assistant"
)

// TranscriptMessage is one turn of a student-patient conversation.
type TranscriptMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// PatientContext describes the simulated patient the student interviewed.
type PatientContext struct {
	Name           string `json:"name"`
	Age            int    `json:"age"`
	ChiefComplaint string `json:"chiefComplaint"`
}

// GradingInput is everything a judge needs to grade one transcript.
type GradingInput struct {
	Transcript     []TranscriptMessage `json:"transcript"`
	Rubric         Rubric              `json:"rubric"`
	PatientContext *PatientContext     `json:"patientContext,omitempty"`
}

// Validate checks the rubric and transcript before any judge is called.
func (in GradingInput) Validate() error {
	if err := in.Rubric.Validate(); err != nil {
		return err
	}

	verr := NewValidationError("GradingInput")
	if len(in.Transcript) == 0 {
		verr.AddError("transcript is empty")
	}
	for i, m := range in.Transcript {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			verr.AddErrorf("message %d has unknown role %q", i+1, m.Role)
		}
	}
	return verr.ErrOrNil()
}
