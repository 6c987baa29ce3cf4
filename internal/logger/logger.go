// Package logger provides a configured zerolog logger.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	zpkgerrors "github.com/rs/zerolog/pkgerrors"
)

type stackTracer interface{ StackTrace() pkgerrors.StackTrace }

var setupOnce sync.Once

func setup() {
	setupOnce.Do(func() {
		zerolog.ErrorStackMarshaler = func(err error) interface{} {
			if _, ok := err.(stackTracer); !ok {
				err = pkgerrors.WithStack(err)
			}
			return zpkgerrors.MarshalStack(err)
		}
	})
}

// New returns a JSON logger on stdout tagged with serviceName.
// Call sites should use .Stack() on error events to include stacks.
func New(serviceName string) zerolog.Logger {
	return NewWithWriter(serviceName, os.Stdout)
}

// NewWithWriter is New with an explicit sink.
func NewWithWriter(serviceName string, w io.Writer) zerolog.Logger {
	setup()
	l := zerolog.New(w).With().
		Str("service", serviceName).
		Timestamp().
		Logger()
	log.Logger = l
	return l
}

// NewConsole returns a plain-text logger for command line tools.
func NewConsole(w io.Writer) zerolog.Logger {
	setup()
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}).With().Timestamp().Logger()
}

// SetLevel sets the global level from a name such as "debug" or "warn".
// An empty name leaves the level at info.
func SetLevel(name string) error {
	if strings.TrimSpace(name) == "" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		return nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil {
		return pkgerrors.Wrapf(err, "log level %q", name)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}
