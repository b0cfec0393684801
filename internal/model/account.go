package model

import "time"

// Role determines an account's trust policy and route access.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Account represents a user account of any role.
type Account struct {
	ID                int        `json:"id"`
	Login             string     `json:"login"`
	Name              string     `json:"name"`
	Role              Role       `json:"role"`
	PasswordHash      string     `json:"-"`
	DeviceFingerprint *string    `json:"-"`
	FaceDescriptor    []float64  `json:"-"`
	GroupID           *int       `json:"group_id,omitempty"`
	Active            bool       `json:"active"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// AccountInfo is the public projection returned to clients. It never
// carries the password hash, fingerprint or descriptor.
type AccountInfo struct {
	ID      int    `json:"id"`
	Login   string `json:"login"`
	Name    string `json:"name"`
	Role    Role   `json:"role"`
	GroupID *int   `json:"group_id,omitempty"`
}

// Info returns the public projection of the account.
func (a *Account) Info() AccountInfo {
	return AccountInfo{
		ID:      a.ID,
		Login:   a.Login,
		Name:    a.Name,
		Role:    a.Role,
		GroupID: a.GroupID,
	}
}

// DeviceInfo carries the browser/device characteristics the client reports
// at login. The binder hashes these into a stable fingerprint.
type DeviceInfo struct {
	UserAgent           string `json:"user_agent" binding:"required,max=512"`
	Language            string `json:"language" binding:"max=32"`
	Platform            string `json:"platform" binding:"max=64"`
	ScreenWidth         int    `json:"screen_width"`
	ScreenHeight        int    `json:"screen_height"`
	ColorDepth          int    `json:"color_depth"`
	PixelDepth          int    `json:"pixel_depth"`
	TimezoneOffset      int    `json:"timezone_offset"`
	HardwareConcurrency int    `json:"hardware_concurrency"`
	MaxTouchPoints      int    `json:"max_touch_points"`
	DeviceMemory        int    `json:"device_memory"`
	CanvasHash          string `json:"canvas_hash" binding:"max=128"`
	AudioHash           string `json:"audio_hash" binding:"max=128"`
}

// LoginRequest is the payload for authentication. The CSRF token must match
// the X-CSRF-Token header byte-for-byte (double-submit check).
type LoginRequest struct {
	Login     string     `json:"login" binding:"required,min=3,max=64"`
	Password  string     `json:"password" binding:"required,min=4,max=128"`
	CSRFToken string     `json:"csrf_token" binding:"required"`
	Device    DeviceInfo `json:"device" binding:"required"`
}

// RefreshRequest exchanges a refresh token for a fresh access token.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required,hexadecimal"`
}

// EnrollFaceRequest registers a student's reference face descriptor.
type EnrollFaceRequest struct {
	Descriptor []float64 `json:"descriptor" binding:"required,len=128"`
}
