package repository

import "errors"

var (
	// ErrConflict is returned when a conversation was modified since it was read,
	// or a thread id is already owned by another user or agent.
	ErrConflict = errors.New("repository: conversation modified concurrently")

	// ErrUserExists is returned when creating a user whose email is taken.
	ErrUserExists = errors.New("repository: user already exists")

	// ErrUserNotFound is returned when updating a user that does not exist.
	ErrUserNotFound = errors.New("repository: user not found")
)
