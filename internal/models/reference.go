package models

type Patient struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Age   int    `json:"age"`
}

type Doctor struct {
	ID              string  `json:"id"`
	UserID          string  `json:"user_id"`
	Specialty       string  `json:"specialty,omitempty"`
	ConsultationFee float64 `json:"consultation_fee,omitempty"`
	Email           string  `json:"email,omitempty"`
}
