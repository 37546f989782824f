package auth

import "time"

// Identity is an administrator account as stored.
type Identity struct {
	ID           int64
	Login        string
	Name         string
	Email        string
	PasswordHash string
	Active       bool
	Role         Role
	// Permissions is nil unless Role is RoleRH.
	Permissions PermissionDocument

	ResetTokenHash string
	ResetExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Can evaluates p against the identity as currently loaded.
func (i Identity) Can(p Permission) bool {
	if !i.Active {
		return false
	}
	if i.Role.Unrestricted() {
		return true
	}
	if i.Role != RoleRH {
		return false
	}
	return i.Permissions.Allows(p)
}

// Profile is the public projection of an identity. It never carries secrets.
type Profile struct {
	ID          int64              `json:"id"`
	Name        string             `json:"name"`
	Login       string             `json:"login"`
	Email       string             `json:"email"`
	Role        Role               `json:"role"`
	IsActive    bool               `json:"isActive"`
	Permissions PermissionDocument `json:"permissions"`
	CreatedAt   time.Time          `json:"createdAt,omitempty"`
	UpdatedAt   time.Time          `json:"updatedAt,omitempty"`
}

// Profile projects the identity for API responses.
func (i Identity) Profile() Profile {
	return Profile{
		ID:          i.ID,
		Name:        i.Name,
		Login:       i.Login,
		Email:       i.Email,
		Role:        i.Role,
		IsActive:    i.Active,
		Permissions: i.Permissions.Clone(),
		CreatedAt:   i.CreatedAt,
		UpdatedAt:   i.UpdatedAt,
	}
}

// RegisterInput carries a new identity's attributes.
type RegisterInput struct {
	Login       string
	Password    string
	Name        string
	Email       string
	Role        string
	Active      *bool
	Permissions PermissionDocument
}

// IdentityUpdate holds optional changes; nil fields are left untouched.
type IdentityUpdate struct {
	Name        *string
	Login       *string
	Email       *string
	Password    *string
	Role        *string
	Active      *bool
	Permissions *PermissionDocument
}

// touchesPrivileges reports whether the update affects authority.
func (u IdentityUpdate) touchesPrivileges() bool {
	return u.Role != nil || u.Active != nil || u.Permissions != nil
}

// BootstrapAdmin describes the account created when no identity exists.
type BootstrapAdmin struct {
	Login    string
	Email    string
	Name     string
	Password string
}
