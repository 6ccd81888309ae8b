package entities

// Operator is a clinician or admin allowed to read session transcripts.
type Operator struct {
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
}
