package identity

import "errors"

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailExists        = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUserInUse          = errors.New("user is referenced by incidents")
	ErrSelfModification   = errors.New("cannot change role or delete own account")
	ErrInvalidRole        = errors.New("invalid role")
)
