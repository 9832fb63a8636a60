package models

import (
	"strings"
	"time"
)

// LoginRequest holds credentials for authenticating a user by username or email.
type LoginRequest struct {
	Username  string `json:"username" validate:"required_without=Email"`
	Email     string `json:"email" validate:"required_without=Username,omitempty,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// Normalize trims identifiers; the password is used verbatim.
func (r *LoginRequest) Normalize() {
	r.Username = strings.ToLower(strings.TrimSpace(r.Username))
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
}

// RefreshTokenRequest exchanges a refresh token for a new token pair. The
// token comes from the refresh cookie or, failing that, the JSON body.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// ChangePasswordRequest payload for updating password.
type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=6,max=72"`
}

// RequestMeta carries client details for audit records.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken           string    `json:"accessToken"`
	RefreshToken          string    `json:"refreshToken"`
	AccessTokenExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
}

// LoginResponse returns the issued tokens and the user projection.
type LoginResponse struct {
	User *UserProfile `json:"user"`
	TokenPair
}
