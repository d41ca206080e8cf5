package domain

import "time"

// User is an account able to own conversations. PasswordHash is empty for
// accounts created through Google sign-in.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	GoogleID     string
	Picture      string
	CreatedAt    time.Time
}

// Profile is the public projection of a User returned by the auth endpoints.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Picture  string `json:"picture,omitempty"`
}

func (u User) Profile() Profile {
	return Profile{ID: u.ID, Username: u.Username, Email: u.Email, Picture: u.Picture}
}
