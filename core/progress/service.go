package progress

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-courses/core"
	"github.com/trezcool/masomo-courses/core/course"
	"github.com/trezcool/masomo-courses/services/metrics"
)

type Service struct {
	db      core.DB
	repo    Repository
	outline OutlineReader
	engine  *Engine
	ledger  *Ledger
}

func NewService(db core.DB, repo Repository, outline OutlineReader, engine *Engine) *Service {
	return &Service{
		db:      db,
		repo:    repo,
		outline: outline,
		engine:  engine,
		ledger:  NewLedger(repo, outline, engine),
	}
}

func notEnrolled(userID string, courseID int64) Snapshot {
	return Snapshot{UserID: userID, CourseID: courseID, Status: StatusNotEnrolled}
}

// snapshot reads the progress of userID in courseID through exec.
// The status comes from the cached verdict; Done and Total are counted.
func (svc *Service) snapshot(ctx context.Context, exec core.DBExecutor, userID string, courseID int64) (Snapshot, error) {
	enr, err := svc.repo.GetEnrollment(ctx, userID, courseID, exec)
	if err != nil {
		if errors.Cause(err) == ErrNotEnrolled {
			return notEnrolled(userID, courseID), nil
		}
		return Snapshot{}, errors.Wrap(err, "getting enrollment")
	}

	total, err := svc.outline.LessonCount(ctx, courseID, exec)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "counting lessons")
	}
	done, err := svc.ledger.CountCompleted(ctx, exec, userID, courseID)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "counting completed lessons")
	}

	return Snapshot{
		UserID:      userID,
		CourseID:    courseID,
		Status:      enr.Status(),
		Percent:     Percent(done, total),
		Done:        done,
		Total:       total,
		CompletedAt: enr.CompletedAt,
	}, nil
}

// Enroll enrolls userID in courseID. Enrolling twice is a no-op.
func (svc *Service) Enroll(ctx context.Context, userID string, courseID int64) (Snapshot, error) {
	var snap Snapshot
	err := core.RunInTx(ctx, svc.db, func(tx *core.Tx) error {
		if _, err := svc.outline.GetCourse(ctx, course.GetFilter{ID: courseID}, tx); err != nil {
			return err
		}

		now := NowFunc().UTC()
		if _, err := svc.repo.CreateEnrollment(ctx, Enrollment{
			UserID:     userID,
			CourseID:   courseID,
			EnrolledAt: now,
			UpdatedAt:  now,
		}, tx); err != nil {
			return errors.Wrap(err, "creating enrollment")
		}

		// the user may have completed lessons before enrolling
		ev, err := svc.engine.recompute(ctx, tx, userID, courseID, metrics.TriggerEnroll)
		if err != nil {
			return err
		}
		snap = ev.Snapshot(userID, courseID)
		return nil
	})
	return snap, err
}

// ToggleCompletion records (completed=true) or revokes the completion of lessonID by userID.
// It is a no-op returning a not_enrolled snapshot when the user is not enrolled in the lesson's course.
func (svc *Service) ToggleCompletion(ctx context.Context, userID string, lessonID int64, completed bool) (Snapshot, error) {
	var snap Snapshot
	err := core.RunInTx(ctx, svc.db, func(tx *core.Tx) error {
		courseID, err := svc.outline.LessonCourseID(ctx, lessonID, tx)
		if err != nil {
			return err
		}

		// serializes concurrent toggles of the same enrollment
		if _, err = svc.repo.LockEnrollment(ctx, userID, courseID, tx); err != nil {
			if errors.Cause(err) == ErrNotEnrolled {
				snap = notEnrolled(userID, courseID)
				return nil
			}
			return errors.Wrap(err, "locking enrollment")
		}

		if completed {
			_, err = svc.ledger.Record(ctx, tx, userID, lessonID)
		} else {
			_, err = svc.ledger.Revoke(ctx, tx, userID, lessonID)
		}
		if err != nil {
			return err
		}

		snap, err = svc.snapshot(ctx, tx, userID, courseID)
		return err
	})
	return snap, err
}

// EnrollmentStatus returns the progress of userID in courseID.
func (svc *Service) EnrollmentStatus(ctx context.Context, userID string, courseID int64) (Snapshot, error) {
	var snap Snapshot
	err := core.RunInTx(ctx, svc.db, func(tx *core.Tx) error {
		var err error
		snap, err = svc.snapshot(ctx, tx, userID, courseID)
		return err
	}, core.ReadSnapshot)
	return snap, err
}

// Recompute re-evaluates the enrollment of userID in courseID; used to repair the cached verdict.
func (svc *Service) Recompute(ctx context.Context, userID string, courseID int64) (Snapshot, error) {
	var snap Snapshot
	err := core.RunInTx(ctx, svc.db, func(tx *core.Tx) error {
		ev, err := svc.engine.Recompute(ctx, tx, userID, courseID)
		if err != nil {
			return err
		}
		if ev.Status == StatusNotEnrolled {
			snap = notEnrolled(userID, courseID)
			return nil
		}
		snap = ev.Snapshot(userID, courseID)
		return nil
	})
	return snap, err
}

// RecomputeCourse re-evaluates every enrollment of courseID and returns their progress.
func (svc *Service) RecomputeCourse(ctx context.Context, courseID int64) ([]Snapshot, error) {
	var snaps []Snapshot
	err := core.RunInTx(ctx, svc.db, func(tx *core.Tx) error {
		if _, err := svc.outline.GetCourse(ctx, course.GetFilter{ID: courseID}, tx); err != nil {
			return err
		}
		evals, err := svc.engine.recomputeCourse(ctx, tx, courseID, metrics.TriggerManual)
		if err != nil {
			return err
		}
		snaps = make([]Snapshot, 0, len(evals))
		for _, ev := range evals {
			snaps = append(snaps, ev.Snapshot(ev.Enrollment.UserID, courseID))
		}
		return nil
	})
	return snaps, err
}

// CourseProgress returns the progress of every learner enrolled in courseID.
func (svc *Service) CourseProgress(ctx context.Context, courseID int64) ([]Snapshot, error) {
	var snaps []Snapshot
	err := core.RunInTx(ctx, svc.db, func(tx *core.Tx) error {
		enrollments, err := svc.repo.QueryEnrollments(ctx, EnrollmentFilter{CourseID: courseID}, tx)
		if err != nil {
			return errors.Wrap(err, "querying enrollments")
		}
		total, err := svc.outline.LessonCount(ctx, courseID, tx)
		if err != nil {
			return errors.Wrap(err, "counting lessons")
		}
		doneByUser, err := svc.repo.CountCompletedByUser(ctx, courseID, tx)
		if err != nil {
			return errors.Wrap(err, "counting completed lessons")
		}

		snaps = make([]Snapshot, 0, len(enrollments))
		for _, enr := range enrollments {
			done := doneByUser[enr.UserID]
			snaps = append(snaps, Snapshot{
				UserID:      enr.UserID,
				CourseID:    courseID,
				Status:      enr.Status(),
				Percent:     Percent(done, total),
				Done:        done,
				Total:       total,
				CompletedAt: enr.CompletedAt,
			})
		}
		return nil
	}, core.ReadSnapshot)
	return snaps, err
}

// CourseEnrollments returns the enrollments of courseID, oldest first.
func (svc *Service) CourseEnrollments(ctx context.Context, courseID int64) ([]Enrollment, error) {
	return svc.repo.QueryEnrollments(ctx, EnrollmentFilter{CourseID: courseID})
}

func (svc *Service) UserEnrollments(ctx context.Context, userID string) ([]Enrollment, error) {
	return svc.repo.QueryEnrollments(ctx, EnrollmentFilter{UserID: userID})
}

// CompletedLessons returns the IDs of the lessons of courseID completed by userID.
func (svc *Service) CompletedLessons(ctx context.Context, userID string, courseID int64) ([]int64, error) {
	return svc.repo.CompletedLessonIDs(ctx, userID, courseID)
}
