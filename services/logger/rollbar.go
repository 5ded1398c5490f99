package logsvc

import (
	"io"
	"os"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
	"github.com/rs/zerolog"

	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/user"
)

// RollbarLogger reports to rollbar and writes every entry to a local zerolog sink.
type RollbarLogger struct {
	zl        zerolog.Logger
	reporting bool
	exit      func(code int) // mockable
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(w io.Writer, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)

	if conf.Debug || conf.Log.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w}
	}
	level, err := zerolog.ParseLevel(conf.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	l := &RollbarLogger{
		zl:        zerolog.New(w).Level(level).With().Timestamp().Str("app", conf.AppName).Logger(),
		reporting: true,
		exit:      os.Exit,
	}
	l.Enable(!conf.Debug && conf.RollbarToken != "")
	return l
}

// NewNopLogger discards everything; meant for tests.
func NewNopLogger() *RollbarLogger {
	return &RollbarLogger{zl: zerolog.Nop(), exit: func(int) {}}
}

func (l *RollbarLogger) Enable(enabled bool) {
	l.reporting = enabled
	rollbar.SetEnabled(enabled)
}

// entry splits args into the rollbar arguments and the matching zerolog event.
// expected fmt: msg | error, map[string]interface{}, user.User
func (l *RollbarLogger) entry(ev *zerolog.Event, msg string, args []interface{}) []interface{} {
	var usrSet bool
	rbArgs := make([]interface{}, 0, len(args)+1)
	rbArgs = append(rbArgs, msg)
	for _, arg := range args {
		switch a := arg.(type) {
		case user.User:
			if !usrSet { // only set one User
				if l.reporting {
					rollbar.SetPerson(a.ID, a.Name, a.Email)
				}
				ev.Str("user_id", a.ID).Str("user_email", a.Email)
				usrSet = true
			}
		case error:
			ev.Err(a)
			rbArgs = append(rbArgs, a)
		case map[string]interface{}:
			ev.Fields(a)
			rbArgs = append(rbArgs, a)
		default:
			ev.Interface("arg", a)
			rbArgs = append(rbArgs, a)
		}
	}
	if !usrSet && l.reporting {
		rollbar.ClearPerson()
	}
	ev.Msg(msg)
	return rbArgs
}

func (l *RollbarLogger) Debug(msg string, args ...interface{}) {
	rbArgs := l.entry(l.zl.Debug(), msg, args)
	if l.reporting {
		rollbar.Debug(rbArgs...)
	}
}

func (l *RollbarLogger) Info(msg string, args ...interface{}) {
	rbArgs := l.entry(l.zl.Info(), msg, args)
	if l.reporting {
		rollbar.Info(rbArgs...)
	}
}

func (l *RollbarLogger) Warn(msg string, args ...interface{}) {
	rbArgs := l.entry(l.zl.Warn(), msg, args)
	if l.reporting {
		rollbar.Warning(rbArgs...)
	}
}

func (l *RollbarLogger) Error(msg string, args ...interface{}) {
	rbArgs := l.entry(l.zl.Error(), msg, args)
	if l.reporting {
		rollbar.Error(rbArgs...)
	}
}

// Fatal reports, flushes rollbar and exits.
func (l *RollbarLogger) Fatal(msg string, args ...interface{}) {
	rbArgs := l.entry(l.zl.WithLevel(zerolog.FatalLevel), msg, args)
	if l.reporting {
		rollbar.Critical(rbArgs...)
		rollbar.Wait()
	}
	l.exit(1)
}
