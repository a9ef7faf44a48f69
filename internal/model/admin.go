package model

import "time"

// Permission represents a string code for a specific reviewer action.
type Permission string

const (
	// PermissionAttemptsReview allows resolving unlock requests.
	PermissionAttemptsReview Permission = "attempts:review"

	// PermissionExamsMonitor allows watching the live violation feed.
	PermissionExamsMonitor Permission = "exams:monitor"
)

// Admin represents a reviewer/proctor account.
type Admin struct {
	ID           int       `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Permissions  []string  `json:"permissions"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AdminLoginRequest is the payload for admin authentication.
type AdminLoginRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=6,max=128"`
}
