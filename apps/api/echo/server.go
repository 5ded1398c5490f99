package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	ut "github.com/go-playground/universal-translator"

	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/analytics"
	"github.com/trezcool/coursehub/core/assignment"
	"github.com/trezcool/coursehub/core/authz"
	"github.com/trezcool/coursehub/core/course"
	"github.com/trezcool/coursehub/core/group"
	"github.com/trezcool/coursehub/core/submission"
	"github.com/trezcool/coursehub/core/user"
	metricsvc "github.com/trezcool/coursehub/services/metrics"
)

type (
	Options struct {
		Conf           *core.Config
		Logger         core.Logger
		Metrics        *metricsvc.Metrics
		Validate       *validator.Validate
		Translator     ut.Translator
		Authorizer     *authz.Authorizer
		DisableReqLogs bool

		UserSvc       user.Service
		CourseSvc     course.Service
		GroupSvc      group.Service
		AssignmentSvc assignment.Service
		SubmissionSvc submission.Service
		AnalyticsSvc  analytics.Service
	}

	Server interface {
		http.Handler
		Start() error
		Stop(context.Context) error
	}

	server struct {
		opts *Options
		app  *echo.Echo
	}
)

var _ Server = (*server)(nil)

// NewServer builds the HTTP API. signalShutdown is called when a handler fails in a way the process cannot recover from.
func NewServer(opts *Options, signalShutdown func()) Server {
	s := &server{
		opts: opts,
		app:  echo.New(),
	}
	s.app.HideBanner = true
	s.setup(signalShutdown)
	return s
}

func (s *server) setup(signalShutdown func()) {
	conf := s.opts.Conf

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(metricsMiddleware(s.opts.Metrics))

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.opts.Translator, signalShutdown)
	s.app.Debug = conf.Debug
	s.app.IPExtractor = newIPExtractor(conf.Server.TrustedProxies, s.opts.Logger)

	s.app.GET("/metrics", echo.WrapHandler(s.opts.Metrics.Handler()))

	api := s.app.Group("/api")
	api.GET("/health", health)

	auth := newTokenAuth(conf)
	authed := []echo.MiddlewareFunc{auth.middleware(), loadUserMiddleware(s.opts.UserSvc)}
	limited := rateLimitMiddleware(
		newIPRateLimiter(conf.Server.AuthRateLimit, conf.Server.AuthRateBurst),
		s.opts.Metrics,
	)

	usrApi := &userApi{
		svc:       s.opts.UserSvc,
		courseSvc: s.opts.CourseSvc,
		authz:     s.opts.Authorizer,
		auth:      auth,
		metrics:   s.opts.Metrics,
		validate:  s.opts.Validate,
		logger:    s.opts.Logger,
	}
	registerAuthAPI(api, authed, limited, usrApi)
	registerUserAPI(api, authed, usrApi)
	registerCourseAPI(api, authed, s.opts.CourseSvc, s.opts.Validate)
	registerGroupAPI(api, authed, s.opts.GroupSvc, s.opts.SubmissionSvc, s.opts.Validate)
	registerAssignmentAPI(api, authed, s.opts.AssignmentSvc, s.opts.SubmissionSvc, s.opts.Validate)
	registerSubmissionAPI(api, authed, s.opts.SubmissionSvc, s.opts.Validate)
	registerAnalyticsAPI(api, authed, s.opts.AnalyticsSvc)
}

// Start blocks until the server stops. It returns http.ErrServerClosed after Stop.
func (s *server) Start() error {
	return s.app.Start(s.opts.Conf.Server.Address)
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
