// Package account holds marketplace users.
package account

import (
	"strings"

	"github.com/simnova/sharethrift-sub014/pkg/types"
)

// User is a marketplace member. The same user may be a sharer on one
// listing and a reserver on another.
type User struct {
	ID          string
	Email       string
	DisplayName string
}

// Validate checks required fields
func (u *User) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return &types.ValidationError{Field: "id", Reason: "required"}
	}
	if !strings.Contains(u.Email, "@") {
		return &types.ValidationError{Field: "email", Reason: "must be an email address"}
	}
	return nil
}

// Name returns the display name, falling back to the email
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}
