package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	echoapi "github.com/trezcool/coursehub/apps/api/echo"
	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/analytics"
	"github.com/trezcool/coursehub/core/assignment"
	"github.com/trezcool/coursehub/core/authz"
	"github.com/trezcool/coursehub/core/course"
	"github.com/trezcool/coursehub/core/group"
	"github.com/trezcool/coursehub/core/submission"
	"github.com/trezcool/coursehub/core/user"
	emailsvc "github.com/trezcool/coursehub/services/email"
	logsvc "github.com/trezcool/coursehub/services/logger"
	metricsvc "github.com/trezcool/coursehub/services/metrics"
	"github.com/trezcool/coursehub/storage/database"
	inmemdb "github.com/trezcool/coursehub/storage/database/inmem"
	sqlxdb "github.com/trezcool/coursehub/storage/database/sqlx"
)

const engineMemory = "memory"

type repositories struct {
	tx          core.Transactor
	users       user.Repository
	courses     course.Repository
	groups      group.Repository
	assignments assignment.Repository
	submissions submission.Repository
	close       func() error
}

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(os.Stdout, conf)

	if err := run(conf, logger); err != nil {
		logger.Fatal(fmt.Sprintf("main: %v", err), err)
	}
}

func run(conf *core.Config, logger core.Logger) error {
	// =========================================================================
	// Set up Dependencies

	repos, err := setUpRepositories(conf)
	if err != nil {
		return errors.Wrap(err, "setting up database")
	}
	defer func() {
		if err := repos.close(); err != nil {
			logger.Error(fmt.Sprintf("closing database: %v", err), err)
		}
	}()

	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, os.Stdout, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	az, err := authz.NewAuthorizer()
	if err != nil {
		return errors.Wrap(err, "loading authorization policy")
	}
	metrics := metricsvc.New()

	usrSvc := user.NewService(repos.users, mailSvc, conf)
	courseSvc := course.NewService(repos.tx, repos.courses, usrSvc, az, mailSvc, conf)
	groupSvc := group.NewService(repos.tx, repos.groups, courseSvc, usrSvc, az)
	asgmtSvc := assignment.NewService(repos.tx, repos.assignments, courseSvc, az)
	subSvc := submission.NewService(submission.Deps{
		Tx:            repos.tx,
		Repo:          repos.submissions,
		AssignmentSvc: asgmtSvc,
		CourseSvc:     courseSvc,
		GroupSvc:      groupSvc,
		UserSvc:       usrSvc,
		Authorizer:    az,
		MailSvc:       mailSvc,
		Metrics:       metrics,
		Conf:          conf,
	})
	analyticsSvc := analytics.NewService(courseSvc, groupSvc, asgmtSvc, subSvc, usrSvc, az)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	core.ParseEmailTemplates(logger, false /* strict */)
	user.LoadCommonPasswords(logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/vars - Added to the default mux by importing the expvar package.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	server := echoapi.NewServer(
		&echoapi.Options{
			Conf:          conf,
			Logger:        logger,
			Metrics:       metrics,
			Validate:      validate,
			Translator:    translator,
			Authorizer:    az,
			UserSvc:       usrSvc,
			CourseSvc:     courseSvc,
			GroupSvc:      groupSvc,
			AssignmentSvc: asgmtSvc,
			SubmissionSvc: subSvc,
			AnalyticsSvc:  analyticsSvc,
		},
		func() {
			select {
			case shutdown <- syscall.SIGTERM:
			default: // shutdown already requested
			}
		},
	)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("API listening on %s", conf.Server.Address))
		serverErrors <- server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-serverErrors:
		return errors.Wrap(err, "server error")

	case sig := <-shutdown:
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			return errors.Wrap(err, "could not stop server gracefully")
		}
	}
	return nil
}

func setUpRepositories(conf *core.Config) (*repositories, error) {
	if conf.Database.Engine == engineMemory {
		db := inmemdb.Open()
		return &repositories{
			tx:          db,
			users:       inmemdb.NewUserRepository(db),
			courses:     inmemdb.NewCourseRepository(db),
			groups:      inmemdb.NewGroupRepository(db),
			assignments: inmemdb.NewAssignmentRepository(db),
			submissions: inmemdb.NewSubmissionRepository(db),
			close:       func() error { return nil },
		}, nil
	}

	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}
	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}
	if err = database.Migrate(db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &repositories{
		tx:          database.NewTransactor(db),
		users:       sqlxdb.NewUserRepository(db),
		courses:     sqlxdb.NewCourseRepository(db),
		groups:      sqlxdb.NewGroupRepository(db),
		assignments: sqlxdb.NewAssignmentRepository(db),
		submissions: sqlxdb.NewSubmissionRepository(db),
		close:       db.Close,
	}, nil
}
