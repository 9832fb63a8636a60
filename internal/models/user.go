package models

import (
	"strings"
	"time"
)

// User is an identity record in the users table.
type User struct {
	ID           string    `db:"id" json:"-"`
	Username     string    `db:"username" json:"-"`
	Email        string    `db:"email" json:"-"`
	FullName     string    `db:"full_name" json:"-"`
	Avatar       string    `db:"avatar" json:"-"`
	CoverImage   string    `db:"cover_image" json:"-"`
	PasswordHash string    `db:"password_hash" json:"-"`
	RefreshToken *string   `db:"refresh_token" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"-"`
	UpdatedAt    time.Time `db:"updated_at" json:"-"`
}

// UserProfile is the only serialisable projection of a user. It never carries
// the password hash or the refresh token.
type UserProfile struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	FullName   string    `json:"fullName"`
	Avatar     string    `json:"avatar"`
	CoverImage string    `json:"coverImage"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Profile returns the sanitised projection of u.
func (u *User) Profile() *UserProfile {
	if u == nil {
		return nil
	}
	return &UserProfile{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		FullName:   u.FullName,
		Avatar:     u.Avatar,
		CoverImage: u.CoverImage,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

// UserUpdate lists the profile columns that may change. Nil fields are left untouched.
type UserUpdate struct {
	FullName   *string
	Email      *string
	Avatar     *string
	CoverImage *string
}

// Empty reports whether no field is set.
func (u UserUpdate) Empty() bool {
	return u.FullName == nil && u.Email == nil && u.Avatar == nil && u.CoverImage == nil
}

// RegisterRequest is the registration payload.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=72"`
	FullName string `json:"fullName" validate:"required,max=255"`
}

// Normalize trims every field and lower-cases the unique ones.
func (r *RegisterRequest) Normalize() {
	r.Username = strings.ToLower(strings.TrimSpace(r.Username))
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.FullName = strings.TrimSpace(r.FullName)
	if strings.TrimSpace(r.Password) == "" {
		r.Password = ""
	}
}

// UpdateAccountRequest changes display details of the current user.
type UpdateAccountRequest struct {
	FullName string `json:"fullName" validate:"required,max=255"`
	Email    string `json:"email" validate:"required,email,max=255"`
}

// Normalize trims the payload.
func (r *UpdateAccountRequest) Normalize() {
	r.FullName = strings.TrimSpace(r.FullName)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
}
