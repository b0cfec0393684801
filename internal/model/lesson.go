package model

import (
	"time"

	"github.com/google/uuid"
)

// Lesson is a scheduled class with a circular geofence and, while active,
// a short-lived numeric PIN students use to check in.
type Lesson struct {
	ID           uuid.UUID  `json:"id"`
	Subject      string     `json:"subject"`
	TeacherID    int        `json:"teacher_id"`
	GroupID      int        `json:"group_id"`
	CenterLat    float64    `json:"center_lat"`
	CenterLon    float64    `json:"center_lon"`
	RadiusMeters float64    `json:"radius_m"`
	PinCode      *string    `json:"pin_code,omitempty"`
	PinExpiresAt *time.Time `json:"pin_expires_at,omitempty"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
}

// CreateLessonRequest is the teacher payload for scheduling a lesson.
type CreateLessonRequest struct {
	Subject      string  `json:"subject" binding:"required,min=2,max=100"`
	GroupID      int     `json:"group_id" binding:"required"`
	CenterLat    float64 `json:"center_lat" binding:"required,latitude"`
	CenterLon    float64 `json:"center_lon" binding:"required,longitude"`
	RadiusMeters float64 `json:"radius_m" binding:"required,gt=0,max=5000"`
}
