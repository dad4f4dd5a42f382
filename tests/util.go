package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/trezcool/masomo-courses/core"
	"github.com/trezcool/masomo-courses/core/course"
	"github.com/trezcool/masomo-courses/core/user"
	logsvc "github.com/trezcool/masomo-courses/services/logger"
	"github.com/trezcool/masomo-courses/storage/database"
)

// NewConfig returns a test config backed by a fresh sqlite3 database file.
func NewConfig(t *testing.T) *core.Config {
	t.Helper()
	return core.NewTestConfig(filepath.Join(t.TempDir(), "masomo_test.db"))
}

// PrepareDB opens and migrates a fresh database, closed when the test ends.
func PrepareDB(t *testing.T, conf ...*core.Config) *sqlx.DB {
	t.Helper()

	var c *core.Config
	if len(conf) > 0 {
		c = conf[0]
	} else {
		c = NewConfig(t)
	}

	db, err := database.Open(c)
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	return db
}

// NewLogger returns a silent RollbarLogger with reporting disabled.
func NewLogger(conf *core.Config) *logsvc.RollbarLogger {
	logger := logsvc.NewRollbarLogger(zerolog.Nop(), conf)
	logger.Enable(false)
	return logger
}

func CreateUser(t *testing.T, repo user.Repository, name, email string, roles ...string) user.User {
	t.Helper()
	now := time.Now().UTC()
	usr, err := repo.CreateUser(context.Background(), user.User{
		Name:      name,
		Email:     email,
		Roles:     roles,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateCourse(t *testing.T, svc *course.Service, title string, published ...bool) course.Course {
	t.Helper()
	c, err := svc.CreateCourse(context.Background(), course.NewCourse{
		Title:     title,
		Published: len(published) > 0 && published[0],
	})
	if err != nil {
		t.Fatalf("CreateCourse() failed: %v", err)
	}
	return c
}

func AddModule(t *testing.T, svc *course.Service, courseID int64, title string, order int) course.Module {
	t.Helper()
	m, err := svc.AddModule(context.Background(), courseID, course.NewModule{Title: title, Order: order})
	if err != nil {
		t.Fatalf("AddModule() failed: %v", err)
	}
	return m
}

func AddLesson(t *testing.T, svc *course.Service, moduleID int64, title string, order int) course.Lesson {
	t.Helper()
	l, err := svc.AddLesson(context.Background(), moduleID, course.NewLesson{Title: title, Order: order})
	if err != nil {
		t.Fatalf("AddLesson() failed: %v", err)
	}
	return l
}
