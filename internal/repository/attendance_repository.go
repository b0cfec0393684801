package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/presensi-backend/internal/model"
)

// AttendanceRepository handles attendance records. The table enforces
// UNIQUE(lesson_id, account_id), so all writes go through atomic upserts.
type AttendanceRepository struct {
	pool *pgxpool.Pool
}

// NewAttendanceRepository creates a new AttendanceRepository.
func NewAttendanceRepository(pool *pgxpool.Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

const attendanceColumns = `id, lesson_id, account_id, status, distance_m, fake_gps, reason, device_fingerprint, checked_in_at, created_at, updated_at`

func scanAttendance(row pgx.Row) (*model.AttendanceRecord, error) {
	rec := &model.AttendanceRecord{}
	err := row.Scan(&rec.ID, &rec.LessonID, &rec.AccountID, &rec.Status,
		&rec.DistanceMeters, &rec.FakeGPS, &rec.Reason, &rec.DeviceFingerprint,
		&rec.CheckedInAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// SeedAbsent inserts default-absent rows for the given students, skipping
// pairs that already have a record.
func (r *AttendanceRepository) SeedAbsent(ctx context.Context, lessonID uuid.UUID, accountIDs []int) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attendance_records (lesson_id, account_id, status)
		 SELECT $1, unnest($2::int[]), $3
		 ON CONFLICT (lesson_id, account_id) DO NOTHING`,
		lessonID, accountIDs, model.AttendanceAbsent,
	)
	return err
}

// Upsert writes the check-in outcome for a (lesson, student) pair in one
// atomic statement. Repeated or concurrent check-ins for the same pair can
// never produce a duplicate row.
func (r *AttendanceRepository) Upsert(ctx context.Context, rec *model.AttendanceRecord) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO attendance_records (lesson_id, account_id, status, distance_m, fake_gps, reason, device_fingerprint, checked_in_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (lesson_id, account_id) DO UPDATE SET
		   status = EXCLUDED.status,
		   distance_m = EXCLUDED.distance_m,
		   fake_gps = EXCLUDED.fake_gps,
		   reason = EXCLUDED.reason,
		   device_fingerprint = EXCLUDED.device_fingerprint,
		   checked_in_at = EXCLUDED.checked_in_at,
		   updated_at = CURRENT_TIMESTAMP
		 RETURNING id, created_at, updated_at`,
		rec.LessonID, rec.AccountID, rec.Status, rec.DistanceMeters,
		rec.FakeGPS, rec.Reason, rec.DeviceFingerprint, rec.CheckedInAt,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
}

// OverrideStatus sets a manual status (excused/unexcused) with a reason.
func (r *AttendanceRepository) OverrideStatus(ctx context.Context, lessonID uuid.UUID, accountID int, status model.AttendanceStatus, reason *string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attendance_records (lesson_id, account_id, status, reason)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (lesson_id, account_id) DO UPDATE SET
		   status = EXCLUDED.status,
		   reason = EXCLUDED.reason,
		   updated_at = CURRENT_TIMESTAMP`,
		lessonID, accountID, status, reason,
	)
	return err
}

// Get retrieves the record for a (lesson, student) pair.
func (r *AttendanceRepository) Get(ctx context.Context, lessonID uuid.UUID, accountID int) (*model.AttendanceRecord, error) {
	return scanAttendance(r.pool.QueryRow(ctx,
		`SELECT `+attendanceColumns+` FROM attendance_records
		 WHERE lesson_id = $1 AND account_id = $2`, lessonID, accountID))
}

// ListByLesson returns all records for a lesson.
func (r *AttendanceRepository) ListByLesson(ctx context.Context, lessonID uuid.UUID) ([]model.AttendanceRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attendanceColumns+` FROM attendance_records
		 WHERE lesson_id = $1 ORDER BY account_id`, lessonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.AttendanceRecord
	for rows.Next() {
		rec := model.AttendanceRecord{}
		if err := rows.Scan(&rec.ID, &rec.LessonID, &rec.AccountID, &rec.Status,
			&rec.DistanceMeters, &rec.FakeGPS, &rec.Reason, &rec.DeviceFingerprint,
			&rec.CheckedInAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
