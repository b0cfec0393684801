package model

import (
	"time"

	"github.com/google/uuid"
)

// AttendanceStatus is the persisted outcome for a (lesson, student) pair.
type AttendanceStatus string

const (
	AttendancePresent    AttendanceStatus = "present"
	AttendanceAbsent     AttendanceStatus = "absent"
	AttendanceExcused    AttendanceStatus = "excused"
	AttendanceUnexcused  AttendanceStatus = "unexcused"
	AttendanceSuspicious AttendanceStatus = "suspicious"
)

// AttendanceRecord is keyed uniquely by (lesson_id, account_id). Rows are
// seeded as absent at lesson start and upserted by the check-in pipeline.
type AttendanceRecord struct {
	ID                int              `json:"id"`
	LessonID          uuid.UUID        `json:"lesson_id"`
	AccountID         int              `json:"account_id"`
	Status            AttendanceStatus `json:"status"`
	DistanceMeters    *float64         `json:"distance_m,omitempty"`
	FakeGPS           bool             `json:"fake_gps"`
	Reason            *string          `json:"reason,omitempty"`
	DeviceFingerprint *string          `json:"-"`
	CheckedInAt       *time.Time       `json:"checked_in_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// OverrideStatusRequest lets a teacher mark a student excused or unexcused.
type OverrideStatusRequest struct {
	AccountID int              `json:"account_id" binding:"required"`
	Status    AttendanceStatus `json:"status" binding:"required,oneof=excused unexcused"`
	Reason    string           `json:"reason" binding:"max=255"`
}

// CheckinRequest carries everything one check-in attempt needs: the lesson
// PIN, the reported location, and the face capture frames.
type CheckinRequest struct {
	Pin      string        `json:"pin" binding:"required,pincode"`
	Location GeoReading    `json:"location" binding:"required"`
	Frames   []FrameUpload `json:"frames" binding:"required,min=1,max=5"`
}

// GeoReading is the client-reported position at check-in time.
type GeoReading struct {
	Latitude  float64 `json:"latitude" binding:"latitude"`
	Longitude float64 `json:"longitude" binding:"longitude"`
	Accuracy  float64 `json:"accuracy" binding:"gte=0"`
}

// FrameUpload is a single base64-encoded camera frame.
type FrameUpload struct {
	Image string `json:"image" binding:"required"`
}
