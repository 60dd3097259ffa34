package models

type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Priority is the doctor queue display tier: lower sorts first.
func (s Status) Priority() int {
	switch s {
	case StatusInProgress:
		return 0
	case StatusWaiting:
		return 1
	case StatusCompleted:
		return 2
	default:
		return 3
	}
}

type PatientSummary struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type Token struct {
	ID          string          `json:"id"`
	TokenNumber string          `json:"token_number"`
	PatientID   string          `json:"patient_id"`
	Patient     *PatientSummary `json:"patient,omitempty"`
	DoctorID    string          `json:"doctor_id"`
	Status      Status          `json:"status"`
	CreatedAt   Timestamp       `json:"created_at"`
}
