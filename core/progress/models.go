package progress

import (
	"time"

	"github.com/volatiletech/null/v8"
)

type Status string

const (
	StatusNotEnrolled Status = "not_enrolled"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
)

// Enrollment links a user to a course. Completed and CompletedAt cache the engine's last verdict.
type Enrollment struct {
	ID          int64     `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"user_id"`
	CourseID    int64     `db:"course_id" json:"course_id"`
	EnrolledAt  time.Time `db:"enrolled_at" json:"enrolled_at"`
	Completed   bool      `db:"completed" json:"completed"`
	CompletedAt null.Time `db:"completed_at" json:"completed_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

func (e Enrollment) Status() Status {
	if e.Completed {
		return StatusCompleted
	}
	return StatusInProgress
}

// LedgerEntry records that a user completed a lesson.
type LedgerEntry struct {
	ID          int64     `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"user_id"`
	LessonID    int64     `db:"lesson_id" json:"lesson_id"`
	CompletedAt time.Time `db:"completed_at" json:"completed_at"`
}

// Snapshot is a learner's progress in a course as reported to callers.
type Snapshot struct {
	UserID      string    `json:"user_id"`
	CourseID    int64     `json:"course_id"`
	Status      Status    `json:"status"`
	Percent     int       `json:"percent"`
	Done        int       `json:"done"`
	Total       int       `json:"total"`
	CompletedAt null.Time `json:"completed_at"`
}

// Percent is floor(100*done/total), 0 for an empty course.
func Percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	return done * 100 / total
}

type RecordResult int

const (
	Inserted RecordResult = iota + 1
	AlreadyPresent
)

func (r RecordResult) String() string {
	if r == Inserted {
		return "inserted"
	}
	return "already_present"
}

type RevokeResult int

const (
	Deleted RevokeResult = iota + 1
	NotPresent
)

func (r RevokeResult) String() string {
	if r == Deleted {
		return "deleted"
	}
	return "not_present"
}

type Transition int

const (
	NoTransition Transition = iota
	BecameCompleted
	Reopened
)

// Evaluation is the outcome of a recomputation.
type Evaluation struct {
	Enrollment Enrollment
	Status     Status
	Done       int
	Total      int
	Transition Transition
}

func (ev Evaluation) Snapshot(userID string, courseID int64) Snapshot {
	return Snapshot{
		UserID:      userID,
		CourseID:    courseID,
		Status:      ev.Status,
		Percent:     Percent(ev.Done, ev.Total),
		Done:        ev.Done,
		Total:       ev.Total,
		CompletedAt: ev.Enrollment.CompletedAt,
	}
}

type EnrollmentFilter struct {
	UserID   string
	CourseID int64
}
