package identity

import "time"

// User represents a registered wallet owner.
type User struct {
	ID           string    `json:"id"`
	UserName     string    `json:"user_name"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"-"`
	PhoneNumber  string    `json:"phone_number,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Registration carries sign-up input.
type Registration struct {
	UserName    string
	Email       string
	Password    string
	PhoneNumber string
}

// Credentials are the login inputs.
type Credentials struct {
	Email    string
	Password string
}
