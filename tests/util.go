// Package testutil wires the application over the in-memory store for tests.
package testutil

import (
	"context"
	"net/mail"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	ut "github.com/go-playground/universal-translator"

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
	inmemdb "github.com/trezcool/coursehub/storage/database/inmem"
)

// Password satisfies the password policy.
const Password = "S3cure!Passw0rd"

var (
	setupOnce sync.Once
	pwdHash   []byte
)

// setupGlobals parses the email templates and hashes Password, once per test binary.
func setupGlobals(t testing.TB) {
	setupOnce.Do(func() {
		logger := logsvc.NewNopLogger()
		core.ParseEmailTemplates(logger, true /* strict */)
		user.LoadCommonPasswords(logger)

		var err error
		if pwdHash, err = bcrypt.GenerateFromPassword([]byte(Password), bcrypt.MinCost); err != nil {
			t.Fatalf("hashing password: %v", err)
		}
	})
}

func NewConf() *core.Config {
	return &core.Config{
		Env:                       "TEST",
		Build:                     "test",
		TestMode:                  true,
		AppName:                   "CourseHub",
		SecretKey:                 "test-secret-key",
		FrontendBaseURL:           "http://localhost:3000",
		DefaultFromEmail:          mail.Address{Name: "CourseHub", Address: "noreply@localhost"},
		PasswordResetTimeoutDelta: 3 * 24 * time.Hour,
		Server: core.ServerConfig{
			Address:                   ":0",
			ShutdownTimeout:           time.Second,
			JWTExpirationDelta:        7 * 24 * time.Hour,
			JWTRefreshExpirationDelta: 28 * 24 * time.Hour,
			AuthRateLimit:             600,
			AuthRateBurst:             100,
		},
		Log: core.LogConfig{Level: "error", Format: "json"},
	}
}

// App holds every service of the application, backed by a fresh in-memory DB.
type App struct {
	Conf       *core.Config
	DB         *inmemdb.DB
	Logger     *logsvc.RollbarLogger
	Mail       *emailsvc.ConsoleServiceMock
	Authz      *authz.Authorizer
	Validate   *validator.Validate
	Translator ut.Translator

	UserRepo       user.Repository
	CourseRepo     course.Repository
	GroupRepo      group.Repository
	AssignmentRepo assignment.Repository
	SubmissionRepo submission.Repository

	UserSvc       user.Service
	CourseSvc     course.Service
	GroupSvc      group.Service
	AssignmentSvc assignment.Service
	SubmissionSvc submission.Service
	AnalyticsSvc  analytics.Service
}

// NewApp wires the application. metrics may be nil.
func NewApp(t testing.TB, metrics submission.Metrics) *App {
	setupGlobals(t)

	az, err := authz.NewAuthorizer()
	if err != nil {
		t.Fatalf("authz.NewAuthorizer(): %v", err)
	}
	app := &App{
		Conf:       NewConf(),
		DB:         inmemdb.Open(),
		Logger:     logsvc.NewNopLogger(),
		Authz:      az,
		Validate:   validator.New(),
		Translator: core.NewTranslator(),
	}
	core.InitValidators(app.Validate, app.Translator)
	user.InitValidators(app.Validate, app.Translator)
	app.Mail = emailsvc.NewConsoleServiceMock(app.Conf, app.Logger)

	app.UserRepo = inmemdb.NewUserRepository(app.DB)
	app.CourseRepo = inmemdb.NewCourseRepository(app.DB)
	app.GroupRepo = inmemdb.NewGroupRepository(app.DB)
	app.AssignmentRepo = inmemdb.NewAssignmentRepository(app.DB)
	app.SubmissionRepo = inmemdb.NewSubmissionRepository(app.DB)

	app.UserSvc = user.NewService(app.UserRepo, app.Mail, app.Conf)
	app.CourseSvc = course.NewService(app.DB, app.CourseRepo, app.UserSvc, az, app.Mail, app.Conf)
	app.GroupSvc = group.NewService(app.DB, app.GroupRepo, app.CourseSvc, app.UserSvc, az)
	app.AssignmentSvc = assignment.NewService(app.DB, app.AssignmentRepo, app.CourseSvc, az)
	app.SubmissionSvc = submission.NewService(submission.Deps{
		Tx:            app.DB,
		Repo:          app.SubmissionRepo,
		AssignmentSvc: app.AssignmentSvc,
		CourseSvc:     app.CourseSvc,
		GroupSvc:      app.GroupSvc,
		UserSvc:       app.UserSvc,
		Authorizer:    az,
		MailSvc:       app.Mail,
		Metrics:       metrics,
		Conf:          app.Conf,
	})
	app.AnalyticsSvc = analytics.NewService(app.CourseSvc, app.GroupSvc, app.AssignmentSvc, app.SubmissionSvc, app.UserSvc, az)
	return app
}

// CreateUser stores a user whose password is Password.
func CreateUser(
	t testing.TB,
	repo user.Repository,
	name, email string,
	role user.Role,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	setupGlobals(t)

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		ID:           core.NewID(),
		Name:         name,
		Email:        email,
		Role:         role,
		IsActive:     isActive,
		PasswordHash: pwdHash,
		CreatedAt:    tstamp,
		UpdatedAt:    tstamp,
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser(): %v", err)
	}
	return usr
}

func (app *App) Professor(t testing.TB, name, email string) user.User {
	return CreateUser(t, app.UserRepo, name, email, user.RoleAdmin, true)
}

func (app *App) Student(t testing.TB, name, email string) user.User {
	return CreateUser(t, app.UserRepo, name, email, user.RoleStudent, true)
}

// CreateCourse creates a course owned by prof and enrolls students in it.
func (app *App) CreateCourse(t testing.TB, prof user.User, code string, students ...user.User) course.Course {
	ctx := context.Background()
	c, err := app.CourseSvc.Create(ctx, prof, course.NewCourse{Name: "Course " + code, Code: code, Semester: "Fall", Year: 2024})
	if err != nil {
		t.Fatalf("CreateCourse(): %v", err)
	}
	for _, s := range students {
		if c, err = app.CourseSvc.Enroll(ctx, prof, c.ID, course.Enroll{StudentEmail: s.Email}); err != nil {
			t.Fatalf("CreateCourse(): enrolling %s: %v", s.Email, err)
		}
	}
	app.Mail.Reset()
	return c
}

// CreateGroup creates a group led by leader, who must be an enrolled student.
func (app *App) CreateGroup(t testing.TB, leader user.User, c course.Course, name string, members ...user.User) group.Group {
	ng := group.NewGroup{Name: name, CourseID: c.ID}
	for _, m := range members {
		ng.MemberIDs = append(ng.MemberIDs, m.ID)
	}
	g, err := app.GroupSvc.Create(context.Background(), leader, ng)
	if err != nil {
		t.Fatalf("CreateGroup(): %v", err)
	}
	return g
}

func (app *App) CreateAssignment(
	t testing.TB,
	prof user.User,
	c course.Course,
	title string,
	typ assignment.Type,
	dueDate time.Time,
) assignment.Assignment {
	a, err := app.AssignmentSvc.Create(context.Background(), prof, assignment.NewAssignment{
		Title:    title,
		CourseID: c.ID,
		Type:     typ,
		DueDate:  dueDate,
	})
	if err != nil {
		t.Fatalf("CreateAssignment(): %v", err)
	}
	return a
}

// Upsert records the actor's submission with the given status.
func (app *App) Upsert(t testing.TB, actor user.User, a assignment.Assignment, groupID string, status submission.Status) submission.Submission {
	s, _, err := app.SubmissionSvc.Upsert(context.Background(), actor, submission.UpsertSubmission{
		AssignmentID: a.ID,
		GroupID:      groupID,
		Status:       status,
	})
	if err != nil {
		t.Fatalf("Upsert(): %v", err)
	}
	return s
}
