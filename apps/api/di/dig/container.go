package dig_container

import (
	"fmt"
	"log"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/masomo-courses/apps/api/echo"
	"github.com/trezcool/masomo-courses/core"
	"github.com/trezcool/masomo-courses/core/course"
	"github.com/trezcool/masomo-courses/core/progress"
	"github.com/trezcool/masomo-courses/core/user"
	emailsvc "github.com/trezcool/masomo-courses/services/email"
	logsvc "github.com/trezcool/masomo-courses/services/logger"
	"github.com/trezcool/masomo-courses/storage/database"
	sqlxrepos "github.com/trezcool/masomo-courses/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

type ServerParams struct {
	dig.In
	Conf        *core.Config
	Logger      core.Logger
	UserSvc     *user.Service
	CourseSvc   *course.Service
	ProgressSvc *progress.Service
	Validate    *validator.Validate
	Translator  ut.Translator
}

func newLogger(conf *core.Config) core.Logger {
	std := logsvc.NewStdLogger(conf).With().Str("component", "api").Logger()
	logger := logsvc.NewRollbarLogger(std, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	std := logsvc.NewStdLogger(conf).With().Str("component", "db").Caller().Logger()
	logger := logsvc.NewRollbarLogger(std, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) (*sqlx.DB, core.DB, core.DBExecutor) {
	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db, db, db
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

func newServer(p ServerParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:        p.Conf,
		Logger:      p.Logger,
		UserSvc:     p.UserSvc,
		CourseSvc:   p.CourseSvc,
		ProgressSvc: p.ProgressSvc,
		Validate:    p.Validate,
		Translator:  p.Translator,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newEmailService))
	must(c.Provide(validator.New))
	must(c.Provide(newTranslator))

	// repositories
	must(c.Provide(sqlxrepos.NewUserRepository, dig.As(new(user.Repository), new(progress.UserReader))))
	must(c.Provide(sqlxrepos.NewCourseRepository, dig.As(new(course.Repository), new(progress.OutlineReader))))
	must(c.Provide(sqlxrepos.NewProgressRepository, dig.As(new(progress.Repository))))

	// services
	must(c.Provide(user.NewService))
	must(c.Provide(progress.NewMailNotifier, dig.As(new(progress.Notifier))))
	must(c.Provide(newEngine))
	must(c.Provide(course.NewService))
	must(c.Provide(progress.NewService))

	must(c.Provide(newServer))

	return c
}

// newEngine also provides the engine as the course service's Recomputer.
func newEngine(repo progress.Repository, outline progress.OutlineReader, notifier progress.Notifier, logger core.Logger) (*progress.Engine, course.Recomputer) {
	engine := progress.NewEngine(repo, outline, notifier, logger)
	return engine, engine
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
