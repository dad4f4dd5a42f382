package progress_test

import (
	"context"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-courses/core/course"
	"github.com/trezcool/masomo-courses/core/progress"
	"github.com/trezcool/masomo-courses/core/user"
	"github.com/trezcool/masomo-courses/services/metrics"
	sqlxrepos "github.com/trezcool/masomo-courses/storage/database/sqlx"
	"github.com/trezcool/masomo-courses/tests"
)

// recordingNotifier records completed enrollments together with the status committed at notification time.
type recordingNotifier struct {
	mu        sync.Mutex
	repo      progress.Repository
	completed []progress.Enrollment
	committed []bool
}

func (n *recordingNotifier) CourseCompleted(ctx context.Context, e progress.Enrollment) {
	stored, err := n.repo.GetEnrollment(ctx, e.UserID, e.CourseID)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, e)
	n.committed = append(n.committed, err == nil && stored.Completed)
}

func (n *recordingNotifier) calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.completed)
}

type env struct {
	db       *sqlx.DB
	users    user.Repository
	repo     progress.Repository
	courses  *course.Service
	engine   *progress.Engine
	svc      *progress.Service
	notifier *recordingNotifier
}

func setup(t *testing.T) *env {
	conf := testutil.NewConfig(t)
	logger := testutil.NewLogger(conf)
	db := testutil.PrepareDB(t, conf)

	courseRepo := sqlxrepos.NewCourseRepository(db)
	repo := sqlxrepos.NewProgressRepository(db)
	notifier := &recordingNotifier{repo: repo}
	engine := progress.NewEngine(repo, courseRepo, notifier, logger)

	return &env{
		db:       db,
		users:    sqlxrepos.NewUserRepository(db),
		repo:     repo,
		courses:  course.NewService(db, courseRepo, engine, logger, conf),
		engine:   engine,
		svc:      progress.NewService(db, repo, courseRepo, engine),
		notifier: notifier,
	}
}

func (e *env) toggle(t *testing.T, usr user.User, l course.Lesson, completed bool) progress.Snapshot {
	t.Helper()
	snap, err := e.svc.ToggleCompletion(context.Background(), usr.ID, l.ID, completed)
	require.NoError(t, err)
	return snap
}

func (e *env) enroll(t *testing.T, usr user.User, c course.Course) progress.Snapshot {
	t.Helper()
	snap, err := e.svc.Enroll(context.Background(), usr.ID, c.ID)
	require.NoError(t, err)
	return snap
}

func (e *env) status(t *testing.T, usr user.User, c course.Course) progress.Snapshot {
	t.Helper()
	snap, err := e.svc.EnrollmentStatus(context.Background(), usr.ID, c.ID)
	require.NoError(t, err)
	return snap
}

func transitions(direction string) float64 {
	return promtest.ToFloat64(metrics.TransitionsTotal.WithLabelValues(direction))
}

func TestService_completeThenExtendOutline(t *testing.T) {
	e := setup(t)
	usr := testutil.CreateUser(t, e.users, "Stu", "stu@test.cd", user.RoleStudent)
	c := testutil.CreateCourse(t, e.courses, "Intro to Testing", true)
	m := testutil.AddModule(t, e.courses, c.ID, "Basics", 1)
	l1 := testutil.AddLesson(t, e.courses, m.ID, "Assertions", 1)
	l2 := testutil.AddLesson(t, e.courses, m.ID, "Fixtures", 2)

	completed, reopened := transitions(metrics.DirectionCompleted), transitions(metrics.DirectionReopened)

	snap := e.enroll(t, usr, c)
	assert.Equal(t, progress.StatusInProgress, snap.Status)
	assert.Equal(t, 0, snap.Percent)

	snap = e.toggle(t, usr, l1, true)
	assert.Equal(t, progress.StatusInProgress, snap.Status)
	assert.Equal(t, 50, snap.Percent)
	assert.False(t, snap.CompletedAt.Valid)

	snap = e.toggle(t, usr, l2, true)
	assert.Equal(t, progress.StatusCompleted, snap.Status)
	assert.Equal(t, 100, snap.Percent)
	assert.True(t, snap.CompletedAt.Valid)
	assert.Equal(t, completed+1, transitions(metrics.DirectionCompleted))

	require.Equal(t, 1, e.notifier.calls())
	assert.Equal(t, usr.ID, e.notifier.completed[0].UserID)
	assert.True(t, e.notifier.committed[0], "notified before commit")

	// a new lesson re-opens the course
	testutil.AddLesson(t, e.courses, m.ID, "Mocks", 3)

	snap = e.status(t, usr, c)
	assert.Equal(t, progress.StatusInProgress, snap.Status)
	assert.Equal(t, 66, snap.Percent)
	assert.Equal(t, 2, snap.Done)
	assert.Equal(t, 3, snap.Total)
	assert.False(t, snap.CompletedAt.Valid)
	assert.Equal(t, reopened+1, transitions(metrics.DirectionReopened))
	assert.Equal(t, 1, e.notifier.calls())
}

func TestService_emptyCourse(t *testing.T) {
	e := setup(t)
	usr := testutil.CreateUser(t, e.users, "Stu", "stu@test.cd", user.RoleStudent)
	c := testutil.CreateCourse(t, e.courses, "Coming Soon", true)

	snap := e.enroll(t, usr, c)
	assert.Equal(t, progress.StatusInProgress, snap.Status)
	assert.Equal(t, 0, snap.Percent)
	assert.Equal(t, 0, snap.Total)

	// an empty module still leaves the course empty
	testutil.AddModule(t, e.courses, c.ID, "Empty", 1)
	snap = e.status(t, usr, c)
	assert.Equal(t, progress.StatusInProgress, snap.Status)
	assert.Equal(t, 0, e.notifier.calls())
}

func TestService_notEnrolled(t *testing.T) {
	e := setup(t)
	usr := testutil.CreateUser(t, e.users, "Stu", "stu@test.cd", user.RoleStudent)
	c := testutil.CreateCourse(t, e.courses, "Intro to Testing", true)
	m := testutil.AddModule(t, e.courses, c.ID, "Basics", 1)
	l := testutil.AddLesson(t, e.courses, m.ID, "Assertions", 1)

	snap := e.toggle(t, usr, l, true)
	assert.Equal(t, progress.StatusNotEnrolled, snap.Status)
	assert.Equal(t, c.ID, snap.CourseID)

	done, err := e.svc.CompletedLessons(context.Background(), usr.ID, c.ID)
	require.NoError(t, err)
	assert.Empty(t, done, "ledger written for a non enrolled user")

	snap = e.status(t, usr, c)
	assert.Equal(t, progress.StatusNotEnrolled, snap.Status)

	snap, err = e.svc.Recompute(context.Background(), usr.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, progress.StatusNotEnrolled, snap.Status)
}

func TestService_unknownLesson(t *testing.T) {
	e := setup(t)
	usr := testutil.CreateUser(t, e.users, "Stu", "stu@test.cd", user.RoleStudent)

	_, err := e.svc.ToggleCompletion(context.Background(), usr.ID, 999, true)
	assert.Equal(t, course.ErrLessonNotFound, errors.Cause(err))
}

func TestService_idempotentToggles(t *testing.T) {
	e := setup(t)
	usr := testutil.CreateUser(t, e.users, "Stu", "stu@test.cd", user.RoleStudent)
	c := testutil.CreateCourse(t, e.courses, "Intro to Testing", true)
	m := testutil.AddModule(t, e.courses, c.ID, "Basics", 1)
	l1 := testutil.AddLesson(t, e.courses, m.ID, "Assertions", 1)
	testutil.AddLesson(t, e.courses, m.ID, "Fixtures", 2)
	e.enroll(t, usr, c)

	first := e.toggle(t, usr, l1, true)
	second := e.toggle(t, usr, l1, true)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, second.Done)

	e.toggle(t, usr, l1, false)
	snap := e.toggle(t, usr, l1, false)
	assert.Equal(t, 0, snap.Done)
	assert.Equal(t, progress.StatusInProgress, snap.Status)

	// enrolling twice keeps the enrollment
	e.enroll(t, usr, c)
	enrollments, err := e.svc.UserEnrollments(context.Background(), usr.ID)
	require.NoError(t, err)
	assert.Len(t, enrollments, 1)
}

func TestLedger_recordKeepsFirstCompletion(t *testing.T) {
	e := setup(t)
	usr := testutil.CreateUser(t, e.users, "Stu", "stu@test.cd", user.RoleStudent)
	c := testutil.CreateCourse(t, e.courses, "Intro to Testing", true)
	m := testutil.AddModule(t, e.courses, c.ID, "Basics", 1)
	l := testutil.AddLesson(t, e.courses, m.ID, "Assertions", 1)

	ledger := progress.NewLedger(e.repo, sqlxrepos.NewCourseRepository(e.db), e.engine)
	ctx := context.Background()

	tests := []struct {
		name   string
		record bool
		want   interface{}
	}{
		{name: "record", record: true, want: progress.Inserted},
		{name: "record again", record: true, want: progress.AlreadyPresent},
		{name: "revoke", want: progress.Deleted},
		{name: "revoke again", want: progress.NotPresent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got interface{}
			var err error
			if tt.record {
				got, err = ledger.Record(ctx, e.db, usr.ID, l.ID)
			} else {
				got, err = ledger.Revoke(ctx, e.db, usr.ID, l.ID)
			}
			if err != nil {
				t.Fatalf("ledger error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ledger = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestService_enrollAfterCompletions(t *testing.T) {
	e := setup(t)
	usr := testutil.CreateUser(t, e.users, "Stu", "stu@test.cd", user.RoleStudent)
	c := testutil.CreateCourse(t, e.courses, "Intro to Testing", true)
	m := testutil.AddModule(t, e.courses, c.ID, "Basics", 1)
	l := testutil.AddLesson(t, e.courses, m.ID, "Assertions", 1)

	// completions imported ahead of the enrollment
	ledger := progress.NewLedger(e.repo, sqlxrepos.NewCourseRepository(e.db), e.engine)
	_, err := ledger.Record(context.Background(), e.db, usr.ID, l.ID)
	require.NoError(t, err)

	snap := e.enroll(t, usr, c)
	assert.Equal(t, progress.StatusCompleted, snap.Status)
	assert.Equal(t, 100, snap.Percent)
	assert.Equal(t, 1, e.notifier.calls())
}

func TestService_deleteModulePrunesLedger(t *testing.T) {
	e := setup(t)
	usr := testutil.CreateUser(t, e.users, "Stu", "stu@test.cd", user.RoleStudent)
	c := testutil.CreateCourse(t, e.courses, "Intro to Testing", true)
	m1 := testutil.AddModule(t, e.courses, c.ID, "Basics", 1)
	m2 := testutil.AddModule(t, e.courses, c.ID, "Advanced", 2)
	l1 := testutil.AddLesson(t, e.courses, m1.ID, "Assertions", 1)
	testutil.AddLesson(t, e.courses, m1.ID, "Fixtures", 2)
	l3 := testutil.AddLesson(t, e.courses, m2.ID, "Fuzzing", 1)
	e.enroll(t, usr, c)

	e.toggle(t, usr, l1, true)
	snap := e.toggle(t, usr, l3, true)
	assert.Equal(t, 66, snap.Percent)

	require.NoError(t, e.courses.DeleteModule(context.Background(), m1.ID))

	snap = e.status(t, usr, c)
	assert.Equal(t, progress.StatusCompleted, snap.Status)
	assert.Equal(t, 1, snap.Done)
	assert.Equal(t, 1, snap.Total)

	done, err := e.svc.CompletedLessons(context.Background(), usr.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{l3.ID}, done)
	assert.Equal(t, 1, e.notifier.calls())

	// deleting the last lesson empties the course: never completed
	require.NoError(t, e.courses.DeleteLesson(context.Background(), l3.ID))
	snap = e.status(t, usr, c)
	assert.Equal(t, progress.StatusInProgress, snap.Status)
	assert.Equal(t, 0, snap.Percent)
	assert.False(t, snap.CompletedAt.Valid)
}

func TestService_concurrentToggles(t *testing.T) {
	e := setup(t)
	usr := testutil.CreateUser(t, e.users, "Stu", "stu@test.cd", user.RoleStudent)
	c := testutil.CreateCourse(t, e.courses, "Intro to Testing", true)
	m := testutil.AddModule(t, e.courses, c.ID, "Basics", 1)

	lessons := make([]course.Lesson, 8)
	for i := range lessons {
		lessons[i] = testutil.AddLesson(t, e.courses, m.ID, "Lesson", i)
	}
	e.enroll(t, usr, c)

	var wg sync.WaitGroup
	errs := make(chan error, len(lessons)*2)
	for _, l := range lessons {
		// each lesson is recorded twice concurrently
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(l course.Lesson) {
				defer wg.Done()
				_, err := e.svc.ToggleCompletion(context.Background(), usr.ID, l.ID, true)
				errs <- err
			}(l)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	snap := e.status(t, usr, c)
	assert.Equal(t, progress.StatusCompleted, snap.Status)
	assert.Equal(t, len(lessons), snap.Done)
	assert.Equal(t, 1, e.notifier.calls())
}

func TestService_courseProgressAndRecompute(t *testing.T) {
	e := setup(t)
	ann := testutil.CreateUser(t, e.users, "Ann", "ann@test.cd", user.RoleStudent)
	bob := testutil.CreateUser(t, e.users, "Bob", "bob@test.cd", user.RoleStudent)
	c := testutil.CreateCourse(t, e.courses, "Intro to Testing", true)
	m := testutil.AddModule(t, e.courses, c.ID, "Basics", 1)
	l1 := testutil.AddLesson(t, e.courses, m.ID, "Assertions", 1)
	l2 := testutil.AddLesson(t, e.courses, m.ID, "Fixtures", 2)
	ctx := context.Background()

	e.enroll(t, ann, c)
	e.enroll(t, bob, c)
	e.toggle(t, ann, l1, true)
	e.toggle(t, ann, l2, true)
	e.toggle(t, bob, l2, true)

	snaps, err := e.svc.CourseProgress(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	byUser := map[string]progress.Snapshot{snaps[0].UserID: snaps[0], snaps[1].UserID: snaps[1]}
	assert.Equal(t, progress.StatusCompleted, byUser[ann.ID].Status)
	assert.Equal(t, 100, byUser[ann.ID].Percent)
	assert.Equal(t, progress.StatusInProgress, byUser[bob.ID].Status)
	assert.Equal(t, 50, byUser[bob.ID].Percent)

	enrollments, err := e.svc.CourseEnrollments(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, enrollments, 2)

	// a stale cached verdict is repaired
	_, err = e.db.ExecContext(ctx, e.db.Rebind(`UPDATE enrollments SET completed = ?, completed_at = NULL`), true)
	require.NoError(t, err)
	assert.Equal(t, progress.StatusCompleted, e.status(t, bob, c).Status)

	snaps, err = e.svc.RecomputeCourse(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, progress.StatusInProgress, e.status(t, bob, c).Status)
	assert.Equal(t, progress.StatusCompleted, e.status(t, ann, c).Status)

	_, err = e.svc.RecomputeCourse(ctx, 999)
	assert.Equal(t, course.ErrNotFound, errors.Cause(err))
}

func TestPercent(t *testing.T) {
	tests := []struct {
		done, total, want int
	}{
		{0, 0, 0},
		{0, 3, 0},
		{1, 3, 33},
		{2, 3, 66},
		{3, 3, 100},
		{1, 2, 50},
	}
	for _, tt := range tests {
		if got := progress.Percent(tt.done, tt.total); got != tt.want {
			t.Errorf("Percent(%d, %d) = %d, want %d", tt.done, tt.total, got, tt.want)
		}
	}
}
