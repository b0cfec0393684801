package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/presensi-backend/internal/model"
)

// LessonRepository handles lesson data access.
type LessonRepository struct {
	pool *pgxpool.Pool
}

// NewLessonRepository creates a new LessonRepository.
func NewLessonRepository(pool *pgxpool.Pool) *LessonRepository {
	return &LessonRepository{pool: pool}
}

const lessonColumns = `id, subject, teacher_id, group_id, center_lat, center_lon, radius_m, pin_code, pin_expires_at, active, created_at`

func scanLesson(row pgx.Row) (*model.Lesson, error) {
	l := &model.Lesson{}
	err := row.Scan(&l.ID, &l.Subject, &l.TeacherID, &l.GroupID, &l.CenterLat,
		&l.CenterLon, &l.RadiusMeters, &l.PinCode, &l.PinExpiresAt, &l.Active, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Create inserts a new lesson (inactive, no PIN yet).
func (r *LessonRepository) Create(ctx context.Context, l *model.Lesson) error {
	l.ID = uuid.New()
	return r.pool.QueryRow(ctx,
		`INSERT INTO lessons (id, subject, teacher_id, group_id, center_lat, center_lon, radius_m, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)
		 RETURNING created_at`,
		l.ID, l.Subject, l.TeacherID, l.GroupID, l.CenterLat, l.CenterLon, l.RadiusMeters,
	).Scan(&l.CreatedAt)
}

// GetByID retrieves a lesson by ID.
func (r *LessonRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Lesson, error) {
	return scanLesson(r.pool.QueryRow(ctx,
		`SELECT `+lessonColumns+` FROM lessons WHERE id = $1`, id))
}

// GetActiveByPin retrieves the active lesson whose current PIN matches and
// has not expired.
func (r *LessonRepository) GetActiveByPin(ctx context.Context, pin string, now time.Time) (*model.Lesson, error) {
	return scanLesson(r.pool.QueryRow(ctx,
		`SELECT `+lessonColumns+` FROM lessons
		 WHERE pin_code = $1 AND pin_expires_at > $2 AND active = TRUE`, pin, now))
}

// SetPin activates the lesson with a fresh PIN and expiry.
func (r *LessonRepository) SetPin(ctx context.Context, id uuid.UUID, pin string, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE lessons SET pin_code = $2, pin_expires_at = $3, active = TRUE WHERE id = $1`,
		id, pin, expiresAt,
	)
	return err
}

// Deactivate closes the lesson and clears its PIN.
func (r *LessonRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE lessons SET pin_code = NULL, pin_expires_at = NULL, active = FALSE WHERE id = $1`, id)
	return err
}

// ListByTeacher returns a teacher's lessons, newest first.
func (r *LessonRepository) ListByTeacher(ctx context.Context, teacherID int) ([]model.Lesson, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+lessonColumns+` FROM lessons WHERE teacher_id = $1 ORDER BY created_at DESC`, teacherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lessons []model.Lesson
	for rows.Next() {
		l := model.Lesson{}
		if err := rows.Scan(&l.ID, &l.Subject, &l.TeacherID, &l.GroupID, &l.CenterLat,
			&l.CenterLon, &l.RadiusMeters, &l.PinCode, &l.PinExpiresAt, &l.Active, &l.CreatedAt); err != nil {
			return nil, err
		}
		lessons = append(lessons, l)
	}
	return lessons, rows.Err()
}
