package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-courses/core"
	"github.com/trezcool/masomo-courses/core/course"
	"github.com/trezcool/masomo-courses/services/metrics"
)

var (
	// errors
	ErrNotEnrolled = errors.New("user is not enrolled in this course")

	NowFunc = time.Now // mockable
)

type (
	Repository interface {
		// CreateEnrollment inserts e unless the user is already enrolled; it reports whether a row was inserted.
		CreateEnrollment(ctx context.Context, e Enrollment, exec ...core.DBExecutor) (bool, error)
		// GetEnrollment returns ErrNotEnrolled when there is no enrollment for the pair.
		GetEnrollment(ctx context.Context, userID string, courseID int64, exec ...core.DBExecutor) (Enrollment, error)
		// LockEnrollment is GetEnrollment holding the row lock until the end of the transaction.
		LockEnrollment(ctx context.Context, userID string, courseID int64, exec ...core.DBExecutor) (Enrollment, error)
		// LockCourseEnrollments locks and returns all enrollments of a course, by ID.
		LockCourseEnrollments(ctx context.Context, courseID int64, exec ...core.DBExecutor) ([]Enrollment, error)
		QueryEnrollments(ctx context.Context, filter EnrollmentFilter, exec ...core.DBExecutor) ([]Enrollment, error)
		// SetCompletion persists e.Completed, e.CompletedAt and e.UpdatedAt.
		SetCompletion(ctx context.Context, e Enrollment, exec ...core.DBExecutor) error

		// InsertCompletion adds a ledger entry unless one exists for the pair; it reports whether a row was inserted.
		InsertCompletion(ctx context.Context, entry LedgerEntry, exec ...core.DBExecutor) (bool, error)
		// DeleteCompletion removes the ledger entry of the pair; it reports whether a row was deleted.
		DeleteCompletion(ctx context.Context, userID string, lessonID int64, exec ...core.DBExecutor) (bool, error)
		// CountCompleted counts the user's ledger entries for lessons currently in the course.
		CountCompleted(ctx context.Context, userID string, courseID int64, exec ...core.DBExecutor) (int, error)
		// CountCompletedByUser is CountCompleted for every user with at least one entry in the course.
		CountCompletedByUser(ctx context.Context, courseID int64, exec ...core.DBExecutor) (map[string]int, error)
		CompletedLessonIDs(ctx context.Context, userID string, courseID int64, exec ...core.DBExecutor) ([]int64, error)
	}

	// OutlineReader is the part of the course store the engine depends on.
	OutlineReader interface {
		GetCourse(ctx context.Context, filter course.GetFilter, exec ...core.DBExecutor) (course.Course, error)
		LessonCount(ctx context.Context, courseID int64, exec ...core.DBExecutor) (int, error)
		LessonCourseID(ctx context.Context, lessonID int64, exec ...core.DBExecutor) (int64, error)
	}

	// Notifier is told about enrollments that became completed, once the change is committed.
	Notifier interface {
		CourseCompleted(ctx context.Context, e Enrollment)
	}
)

// Engine is the only writer of the cached completion verdict of enrollments.
// It always runs inside the transaction of the write that triggered it.
type Engine struct {
	repo     Repository
	outline  OutlineReader
	notifier Notifier
	logger   core.Logger
}

var _ course.Recomputer = (*Engine)(nil)

func NewEngine(repo Repository, outline OutlineReader, notifier Notifier, logger core.Logger) *Engine {
	return &Engine{
		repo:     repo,
		outline:  outline,
		notifier: notifier,
		logger:   logger,
	}
}

// decide is the completion predicate: every lesson of a non-empty course is done.
func decide(done, total int) bool {
	return total > 0 && done == total
}

// Recompute re-evaluates the enrollment of userID in courseID through exec.
func (e *Engine) Recompute(ctx context.Context, exec core.DBExecutor, userID string, courseID int64) (Evaluation, error) {
	return e.recompute(ctx, exec, userID, courseID, metrics.TriggerManual)
}

func (e *Engine) recompute(ctx context.Context, exec core.DBExecutor, userID string, courseID int64, trigger string) (Evaluation, error) {
	enr, err := e.repo.LockEnrollment(ctx, userID, courseID, exec)
	if err != nil {
		if errors.Cause(err) == ErrNotEnrolled {
			return Evaluation{Status: StatusNotEnrolled}, nil
		}
		return Evaluation{}, errors.Wrap(err, "locking enrollment")
	}

	total, err := e.outline.LessonCount(ctx, courseID, exec)
	if err != nil {
		return Evaluation{}, errors.Wrap(err, "counting lessons")
	}
	var done int
	if total > 0 {
		if done, err = e.repo.CountCompleted(ctx, userID, courseID, exec); err != nil {
			return Evaluation{}, errors.Wrap(err, "counting completed lessons")
		}
	}
	return e.apply(ctx, exec, enr, done, total, trigger)
}

// LockCourse locks every enrollment of the course.
func (e *Engine) LockCourse(ctx context.Context, exec core.DBExecutor, courseID int64) error {
	_, err := e.repo.LockCourseEnrollments(ctx, courseID, exec)
	return err
}

// RecomputeCourse re-evaluates every enrollment of the course through exec.
func (e *Engine) RecomputeCourse(ctx context.Context, exec core.DBExecutor, courseID int64) error {
	_, err := e.recomputeCourse(ctx, exec, courseID, metrics.TriggerStructure)
	return err
}

func (e *Engine) recomputeCourse(ctx context.Context, exec core.DBExecutor, courseID int64, trigger string) ([]Evaluation, error) {
	enrollments, err := e.repo.LockCourseEnrollments(ctx, courseID, exec)
	if err != nil {
		return nil, errors.Wrap(err, "locking enrollments")
	}
	if len(enrollments) == 0 {
		return nil, nil
	}

	total, err := e.outline.LessonCount(ctx, courseID, exec)
	if err != nil {
		return nil, errors.Wrap(err, "counting lessons")
	}
	doneByUser := map[string]int{}
	if total > 0 {
		if doneByUser, err = e.repo.CountCompletedByUser(ctx, courseID, exec); err != nil {
			return nil, errors.Wrap(err, "counting completed lessons")
		}
	}

	evals := make([]Evaluation, 0, len(enrollments))
	for _, enr := range enrollments {
		ev, err := e.apply(ctx, exec, enr, doneByUser[enr.UserID], total, trigger)
		if err != nil {
			return nil, err
		}
		evals = append(evals, ev)
	}
	return evals, nil
}

// apply writes the verdict for done of total lessons to enr if it changed.
func (e *Engine) apply(ctx context.Context, exec core.DBExecutor, enr Enrollment, done, total int, trigger string) (Evaluation, error) {
	metrics.RecomputationsTotal.WithLabelValues(trigger).Inc()

	ev := Evaluation{Done: done, Total: total}
	now := NowFunc().UTC()

	switch completed := decide(done, total); {
	case completed && !enr.Completed:
		enr.Completed = true
		enr.CompletedAt = null.TimeFrom(now)
		ev.Transition = BecameCompleted
	case !completed && enr.Completed:
		enr.Completed = false
		enr.CompletedAt = null.Time{}
		ev.Transition = Reopened
	}

	if ev.Transition != NoTransition {
		enr.UpdatedAt = now
		if err := e.repo.SetCompletion(ctx, enr, exec); err != nil {
			return Evaluation{}, errors.Wrap(err, "saving completion")
		}
		e.recordTransition(exec, enr, ev.Transition)
	}

	ev.Enrollment = enr
	ev.Status = enr.Status()
	return ev, nil
}

func (e *Engine) recordTransition(exec core.DBExecutor, enr Enrollment, t Transition) {
	switch t {
	case BecameCompleted:
		metrics.TransitionsTotal.WithLabelValues(metrics.DirectionCompleted).Inc()
		e.logger.Info(fmt.Sprintf("user %s completed course %d", enr.UserID, enr.CourseID))
		if e.notifier != nil {
			core.AfterCommit(exec, func() { e.notifier.CourseCompleted(context.Background(), enr) })
		}
	case Reopened:
		metrics.TransitionsTotal.WithLabelValues(metrics.DirectionReopened).Inc()
		e.logger.Info(fmt.Sprintf("user %s no longer completes course %d", enr.UserID, enr.CourseID))
	}
}
