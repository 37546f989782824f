package auth

import "errors"

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("invalid token")

const lastAdminMessage = "cannot remove the last administrator"

// HasRecordsMessage explains why an identity named by audit rows cannot be
// deleted.
const HasRecordsMessage = "administrator has recorded changes; deactivate the account instead"
