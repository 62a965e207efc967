package domain

import "time"

// User is the profile kept per messaging-platform identity.
type User struct {
	ExternalID           string
	FirstName            string
	LastName             string
	IsBot                bool
	DisplayHandle        string
	PromptTokensUsed     int64
	CompletionTokensUsed int64
	CreatedAt            time.Time
}
