package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	"github.com/trezcool/masomo-courses/core"
	"github.com/trezcool/masomo-courses/core/course"
	"github.com/trezcool/masomo-courses/core/progress"
	"github.com/trezcool/masomo-courses/core/user"
	emailsvc "github.com/trezcool/masomo-courses/services/email"
	"github.com/trezcool/masomo-courses/storage/database"
	sqlxrepos "github.com/trezcool/masomo-courses/storage/database/sqlx"
	"github.com/trezcool/masomo-courses/tests"
)

var (
	usrRepo   user.Repository
	courseSvc *course.Service
)

func setup(t *testing.T) (*commandLine, *sqlx.DB, *bytes.Buffer) {
	conf := testutil.NewConfig(t)
	logger := testutil.NewLogger(conf)

	// set up DB & repos
	db := testutil.PrepareDB(t, conf)
	usrRepo = sqlxrepos.NewUserRepository(db)
	courseRepo := sqlxrepos.NewCourseRepository(db)
	progressRepo := sqlxrepos.NewProgressRepository(db)

	// set up services
	notifier := progress.NewMailNotifier(usrRepo, courseRepo, emailsvc.NewConsoleServiceMock(conf), logger)
	engine := progress.NewEngine(progressRepo, courseRepo, notifier, logger)
	courseSvc = course.NewService(db, courseRepo, engine, logger, conf)

	validate := validator.New()
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	// start CLI
	out := new(bytes.Buffer)
	return &commandLine{
		db:          db,
		usrSvc:      user.NewService(usrRepo),
		progressSvc: progress.NewService(db, progressRepo, courseRepo, engine),
		validate:    validate,
		out:         out,
	}, db, out
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func runCLITests(t *testing.T, cli *commandLine, tests []cliTest) {
	t.Helper()
	for _, tt := range tests {
		tt := tt
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			if err := cli.run(args); err != nil {
				if tt.wantErr != nil {
					if err != tt.wantErr {
						t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
					}
				} else if tt.wantErrStr != "" {
					if !strings.Contains(err.Error(), tt.wantErrStr) {
						t.Errorf("cli.run() error.Error() = %s, wantErrStr %s", err.Error(), tt.wantErrStr)
					}
				} else {
					t.Errorf("cli.run() unexpected error = %v", err)
				}
			} else if tt.wantErr != nil || tt.wantErrStr != "" {
				t.Errorf("cli.run() error = nil, wantErr %v%s", tt.wantErr, tt.wantErrStr)
			}
		})
	}
}

func Test_commandLine_usage(t *testing.T) {
	cli, _, out := setup(t)

	runCLITests(t, cli, []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
	})
	if !strings.Contains(out.String(), "Usage:") {
		t.Errorf("cli.run() output = %q, want usage", out.String())
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _, _ := setup(t)

	origRun := database.GooseRunFunc
	t.Cleanup(func() { database.GooseRunFunc = origRun })

	var gotDir string
	database.GooseRunFunc = func(command string, db *sql.DB, dir string, args ...string) error {
		gotDir = dir
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	runCLITests(t, cli, []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "course", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	})

	if gotDir != "migrations/"+core.EngineSqlite3 {
		t.Errorf("migrations dir = %q, want %q", gotDir, "migrations/"+core.EngineSqlite3)
	}
}

func Test_commandLine_addUser(t *testing.T) {
	cli, _, _ := setup(t)
	testutil.CreateUser(t, usrRepo, "Taken", "taken@test.cd", user.RoleStudent)

	runCLITests(t, cli, []cliTest{
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no email", args: []string{"adduser", "-name", "Awe"}, wantErr: errHelp},
		{name: "invalid email", args: []string{"adduser", "-name", "Awe", "-email", "lol"}, wantErrStr: "email"},
		{name: "unknown role", args: []string{"adduser", "-name", "Awe", "-email", "awe@test.cd", "-role", "lol:"}, wantErrStr: "roles"},
		{name: "email taken", args: []string{"adduser", "-name", "Awe", "-email", "TAKEN@test.cd"}, wantErrStr: user.ErrEmailExists.Error()},
		{name: "student", args: []string{"adduser", "-name", "Stu", "-email", "stu@test.cd"}},
		{name: "instructor & admin", args: []string{"adduser", "-name", "Ins", "-email", "ins@test.cd", "-role", "instructor:, admin:"}},
	})

	ctx := context.Background()
	stu, err := usrRepo.GetUser(ctx, user.GetFilter{Email: "stu@test.cd"})
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if !stu.IsStudent() || stu.IsAdmin() {
		t.Errorf("adduser roles = %v, want [%s]", stu.Roles, user.RoleStudent)
	}
	ins, err := usrRepo.GetUser(ctx, user.GetFilter{Email: "ins@test.cd"})
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if !ins.IsInstructor() || !ins.IsAdmin() {
		t.Errorf("adduser roles = %v, want [%s %s]", ins.Roles, user.RoleInstructor, user.RoleAdmin)
	}
}

func Test_commandLine_recompute(t *testing.T) {
	cli, db, out := setup(t)
	ctx := context.Background()

	usr := testutil.CreateUser(t, usrRepo, "Stu", "stu@test.cd", user.RoleStudent)
	c := testutil.CreateCourse(t, courseSvc, "Intro to Testing", true)
	m := testutil.AddModule(t, courseSvc, c.ID, "Basics", 1)
	l1 := testutil.AddLesson(t, courseSvc, m.ID, "Assertions", 1)
	l2 := testutil.AddLesson(t, courseSvc, m.ID, "Fixtures", 2)

	if _, err := cli.progressSvc.Enroll(ctx, usr.ID, c.ID); err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	for _, l := range []course.Lesson{l1, l2} {
		if _, err := cli.progressSvc.ToggleCompletion(ctx, usr.ID, l.ID, true); err != nil {
			t.Fatalf("ToggleCompletion() error = %v", err)
		}
	}

	// corrupt the cached verdict
	if _, err := db.ExecContext(ctx, db.Rebind(`UPDATE enrollments SET completed = ?, completed_at = NULL`), false); err != nil {
		t.Fatalf("corrupting enrollment: %v", err)
	}

	runCLITests(t, cli, []cliTest{
		{name: "no course", args: []string{"recompute"}, wantErr: errHelp},
		{name: "unknown course", args: []string{"recompute", "-course", "999"}, wantErrStr: course.ErrNotFound.Error()},
		{name: "one user", args: []string{"recompute", "-course", strconv.FormatInt(c.ID, 10), "-user", usr.ID}},
		{name: "whole course", args: []string{"recompute", "-course", strconv.FormatInt(c.ID, 10)}},
	})

	snap, err := cli.progressSvc.EnrollmentStatus(ctx, usr.ID, c.ID)
	if err != nil {
		t.Fatalf("EnrollmentStatus() error = %v", err)
	}
	if snap.Status != progress.StatusCompleted || !snap.CompletedAt.Valid {
		t.Errorf("EnrollmentStatus() = %+v, want completed with completed_at set", snap)
	}
	if !strings.Contains(out.String(), "recomputed 1 enrollment(s)") {
		t.Errorf("cli.run() output = %q", out.String())
	}
}
