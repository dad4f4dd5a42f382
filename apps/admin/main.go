package main

import (
	"fmt"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-courses/core"
	"github.com/trezcool/masomo-courses/core/progress"
	"github.com/trezcool/masomo-courses/core/user"
	emailsvc "github.com/trezcool/masomo-courses/services/email"
	logsvc "github.com/trezcool/masomo-courses/services/logger"
	"github.com/trezcool/masomo-courses/storage/database"
	sqlxrepos "github.com/trezcool/masomo-courses/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(logsvc.NewStdLogger(conf).With().Str("component", "admin").Logger(), conf)
	logger.Enable(!conf.Debug)

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}

	// set up services
	usrRepo := sqlxrepos.NewUserRepository(db)
	courseRepo := sqlxrepos.NewCourseRepository(db)
	progressRepo := sqlxrepos.NewProgressRepository(db)

	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	notifier := progress.NewMailNotifier(usrRepo, courseRepo, mailSvc, logger)
	engine := progress.NewEngine(progressRepo, courseRepo, notifier, logger)

	validate := validator.New()
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	// start CLI
	cli := commandLine{
		db:          db,
		usrSvc:      user.NewService(usrRepo),
		progressSvc: progress.NewService(db, progressRepo, courseRepo, engine),
		validate:    validate,
		out:         os.Stdout,
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("admin %v: %v", os.Args[1:], err), err)
		}
		os.Exit(1)
	}
}
