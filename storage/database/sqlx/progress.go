package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-courses/core"
	"github.com/trezcool/masomo-courses/core/progress"
	"github.com/trezcool/masomo-courses/storage/database"
)

const enrollmentColumns = "id, user_id, course_id, enrolled_at, completed, completed_at, updated_at"

type progressRepository struct {
	repository
}

var _ progress.Repository = (*progressRepository)(nil) // interface compliance check

func NewProgressRepository(exec core.DBExecutor) *progressRepository {
	return &progressRepository{repository{exec: exec}}
}

func (repo progressRepository) affected(res sql.Result, msg string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, msg)
	}
	return n > 0, nil
}

// Enrollments

func (repo progressRepository) CreateEnrollment(ctx context.Context, e progress.Enrollment, exec ...core.DBExecutor) (bool, error) {
	ex := repo.getExec(exec)
	q := ex.Rebind(`INSERT INTO enrollments (user_id, course_id, enrolled_at, completed, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, course_id) DO NOTHING`)
	res, err := ex.ExecContext(ctx, q, e.UserID, e.CourseID, e.EnrolledAt.UTC(), e.Completed, e.CompletedAt, e.UpdatedAt.UTC())
	if err != nil {
		return false, database.Wrap(err, "inserting enrollment")
	}
	return repo.affected(res, "inserting enrollment")
}

func (repo progressRepository) getEnrollment(ctx context.Context, userID string, courseID int64, lock bool, exec []core.DBExecutor) (progress.Enrollment, error) {
	ex := repo.getExec(exec)
	q := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE user_id = ? AND course_id = ?`
	if lock {
		q += database.LockClause(ex)
	}

	var e progress.Enrollment
	if err := ex.GetContext(ctx, &e, ex.Rebind(q), userID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return progress.Enrollment{}, progress.ErrNotEnrolled
		}
		return progress.Enrollment{}, errors.Wrap(err, "getting enrollment")
	}
	return e, nil
}

func (repo progressRepository) GetEnrollment(ctx context.Context, userID string, courseID int64, exec ...core.DBExecutor) (progress.Enrollment, error) {
	return repo.getEnrollment(ctx, userID, courseID, false, exec)
}

func (repo progressRepository) LockEnrollment(ctx context.Context, userID string, courseID int64, exec ...core.DBExecutor) (progress.Enrollment, error) {
	return repo.getEnrollment(ctx, userID, courseID, true, exec)
}

func (repo progressRepository) LockCourseEnrollments(ctx context.Context, courseID int64, exec ...core.DBExecutor) ([]progress.Enrollment, error) {
	ex := repo.getExec(exec)
	enrollments := make([]progress.Enrollment, 0)
	q := ex.Rebind(`SELECT ` + enrollmentColumns + ` FROM enrollments WHERE course_id = ? ORDER BY id ASC` + database.LockClause(ex))
	if err := ex.SelectContext(ctx, &enrollments, q, courseID); err != nil {
		return nil, errors.Wrap(err, "locking course enrollments")
	}
	return enrollments, nil
}

func (repo progressRepository) QueryEnrollments(ctx context.Context, filter progress.EnrollmentFilter, exec ...core.DBExecutor) ([]progress.Enrollment, error) {
	ex := repo.getExec(exec)

	var conds []string
	var args []interface{}
	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.CourseID != 0 {
		conds = append(conds, "course_id = ?")
		args = append(args, filter.CourseID)
	}

	q := `SELECT ` + enrollmentColumns + ` FROM enrollments`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY enrolled_at ASC, id ASC"

	enrollments := make([]progress.Enrollment, 0)
	if err := ex.SelectContext(ctx, &enrollments, ex.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "selecting enrollments")
	}
	return enrollments, nil
}

func (repo progressRepository) SetCompletion(ctx context.Context, e progress.Enrollment, exec ...core.DBExecutor) error {
	ex := repo.getExec(exec)
	q := ex.Rebind(`UPDATE enrollments SET completed = ?, completed_at = ?, updated_at = ? WHERE id = ?`)
	res, err := ex.ExecContext(ctx, q, e.Completed, e.CompletedAt, e.UpdatedAt.UTC(), e.ID)
	if err != nil {
		return errors.Wrap(err, "updating enrollment")
	}
	ok, err := repo.affected(res, "updating enrollment")
	if err != nil {
		return err
	}
	if !ok {
		return progress.ErrNotEnrolled
	}
	return nil
}

// Ledger

func (repo progressRepository) InsertCompletion(ctx context.Context, entry progress.LedgerEntry, exec ...core.DBExecutor) (bool, error) {
	ex := repo.getExec(exec)
	q := ex.Rebind(`INSERT INTO lesson_completions (user_id, lesson_id, completed_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id, lesson_id) DO NOTHING`)
	res, err := ex.ExecContext(ctx, q, entry.UserID, entry.LessonID, entry.CompletedAt.UTC())
	if err != nil {
		return false, database.Wrap(err, "inserting completion")
	}
	return repo.affected(res, "inserting completion")
}

func (repo progressRepository) DeleteCompletion(ctx context.Context, userID string, lessonID int64, exec ...core.DBExecutor) (bool, error) {
	ex := repo.getExec(exec)
	res, err := ex.ExecContext(ctx, ex.Rebind(`DELETE FROM lesson_completions WHERE user_id = ? AND lesson_id = ?`), userID, lessonID)
	if err != nil {
		return false, errors.Wrap(err, "deleting completion")
	}
	return repo.affected(res, "deleting completion")
}

func (repo progressRepository) CountCompleted(ctx context.Context, userID string, courseID int64, exec ...core.DBExecutor) (int, error) {
	ex := repo.getExec(exec)
	var count int
	q := ex.Rebind(`SELECT COUNT(*) FROM lesson_completions lc
		JOIN lessons l ON l.id = lc.lesson_id
		JOIN modules m ON m.id = l.module_id
		WHERE lc.user_id = ? AND m.course_id = ?`)
	if err := ex.GetContext(ctx, &count, q, userID, courseID); err != nil {
		return 0, errors.Wrap(err, "counting completions")
	}
	return count, nil
}

func (repo progressRepository) CountCompletedByUser(ctx context.Context, courseID int64, exec ...core.DBExecutor) (map[string]int, error) {
	ex := repo.getExec(exec)
	var rows []struct {
		UserID string `db:"user_id"`
		Done   int    `db:"done"`
	}
	q := ex.Rebind(`SELECT lc.user_id, COUNT(*) AS done FROM lesson_completions lc
		JOIN lessons l ON l.id = lc.lesson_id
		JOIN modules m ON m.id = l.module_id
		WHERE m.course_id = ?
		GROUP BY lc.user_id`)
	if err := ex.SelectContext(ctx, &rows, q, courseID); err != nil {
		return nil, errors.Wrap(err, "counting completions by user")
	}

	done := make(map[string]int, len(rows))
	for _, r := range rows {
		done[r.UserID] = r.Done
	}
	return done, nil
}

func (repo progressRepository) CompletedLessonIDs(ctx context.Context, userID string, courseID int64, exec ...core.DBExecutor) ([]int64, error) {
	ex := repo.getExec(exec)
	ids := make([]int64, 0)
	q := ex.Rebind(`SELECT lc.lesson_id FROM lesson_completions lc
		JOIN lessons l ON l.id = lc.lesson_id
		JOIN modules m ON m.id = l.module_id
		WHERE lc.user_id = ? AND m.course_id = ?
		ORDER BY lc.lesson_id ASC`)
	if err := ex.SelectContext(ctx, &ids, q, userID, courseID); err != nil {
		return nil, errors.Wrap(err, "selecting completed lessons")
	}
	return ids, nil
}
