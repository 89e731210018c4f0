package dto

// UsageCheckRequest asks whether (and records that) a feature is used.
type UsageCheckRequest struct {
	Feature  string `json:"feature" validate:"required,oneof=notes flashcards ai_questions essays"`
	Quantity int    `json:"quantity" validate:"omitempty,min=1"`
}

// UsageCheckResponse answers a quota check. Remaining is -1 when unlimited.
type UsageCheckResponse struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
}
