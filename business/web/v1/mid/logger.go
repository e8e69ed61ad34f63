// Package mid contains the set of middleware functions.
package mid

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/The-Sycorax/denaro/foundation/web"
	"go.uber.org/zap"
)

// LoggerConfig controls how much request detail ends up in the logs.
type LoggerConfig struct {
	IncludeRequestContent bool
}

// Logger writes some information about the request to the logs.
func Logger(log *zap.SugaredLogger, cfg LoggerConfig) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			v, err := web.GetValues(ctx)
			if err != nil {
				return err
			}

			fields := []any{
				"traceid", v.TraceID,
				"method", r.Method,
				"path", r.URL.Path,
				"remoteaddr", r.RemoteAddr,
			}

			if cfg.IncludeRequestContent && r.Body != nil {
				body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<16))
				r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
				fields = append(fields, "body", string(body))
			}

			log.Infow("request started", fields...)

			err = handler(ctx, w, r)

			log.Infow("request completed",
				"traceid", v.TraceID,
				"method", r.Method,
				"path", r.URL.Path,
				"statuscode", v.StatusCode,
				"since", time.Since(v.Now).String(),
			)

			return err
		}

		return h
	}

	return m
}
