package state

import "time"

// Prompt is the writing stimulus for one UTC calendar day.
type Prompt struct {
	ID   string `json:"id"`
	Text string `json:"prompt_text"`
}

// RecordKey scopes a local record to a day and a prompt. Day alone is not enough:
// two prompts can share a date across deployments.
type RecordKey struct {
	Day      string
	PromptID string
}

func (k RecordKey) String() string {
	return k.Day + "|" + k.PromptID
}

// PersistedRecord is the device-local copy of a finished session.
type PersistedRecord struct {
	FinalText string `json:"final_text"`
	Completed bool   `json:"completed"`
}

// Identity is the signed-in writer as seen at submission time.
type Identity struct {
	UserID string
	Token  string
}

// Submission is what the Submission Sink receives for a finished session.
type Submission struct {
	PromptID    string
	Text        string
	IsAnonymous bool
	Identity    Identity
	FinishedAt  time.Time
}

// Notification asks the Notification Sink to email a copy of a submission.
type Notification struct {
	RecipientEmail string
	PromptText     string
	SubmissionText string
}
