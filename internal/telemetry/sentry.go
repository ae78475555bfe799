// Package telemetry wires Sentry error reporting into the server.
//
// Init is a no-op when the DSN is empty, and CaptureError is always safe to
// call, so handlers report unconditionally.
package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// Init initializes the Sentry SDK. dsn may be empty, in which case Sentry stays disabled.
func Init(dsn, env, release string) error {
	if dsn == "" {
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      env,
		Release:          release,
		AttachStacktrace: true,
		Tags: map[string]string{
			"service": "reelstream",
		},
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			return scrubPII(event)
		},
	})
	if err != nil {
		return fmt.Errorf("sentry.Init: %w", err)
	}
	return nil
}

// CaptureError sends an error to Sentry with optional tags.
func CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Flush waits for buffered events to be sent. Call with defer in main().
func Flush() {
	sentry.Flush(2 * time.Second)
}

// Recover catches panics, reports them with request context and answers 500.
func Recover(logger *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				var err error
				switch v := rec.(type) {
				case error:
					err = v
				default:
					err = fmt.Errorf("panic: %v", v)
				}

				logger.WithError(err).WithField("path", r.URL.Path).Error("recovered from panic")

				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(r)
				hub.Scope().SetTag("panic", "true")
				hub.CaptureException(err)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"Something went wrong!"}`))
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// scrubPII strips credentials and emails before events leave the process.
func scrubPII(event *sentry.Event) *sentry.Event {
	if event == nil {
		return nil
	}

	if event.User.Email != "" {
		event.User.Email = "[redacted]"
	}
	event.User.IPAddress = ""

	if event.Request != nil {
		for k := range event.Request.Headers {
			switch k {
			case "Authorization", "Cookie":
				event.Request.Headers[k] = "[redacted]"
			}
		}
	}

	return event
}
