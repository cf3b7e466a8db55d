package identity

import "errors"

var (
	ErrEmailTaken         = errors.New("an account with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrWeakPassword       = errors.New("password must be between 8 and 128 characters")
	ErrInvalidUserName    = errors.New("user_name must be between 2 and 50 characters")
	ErrInvalidEmail       = errors.New("email is not valid")
	ErrInvalidPhoneNumber = errors.New("phone_number must be between 11 and 15 characters")
)
