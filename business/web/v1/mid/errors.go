package mid

import (
	"context"
	"net/http"

	v1 "github.com/The-Sycorax/denaro/business/web/v1"
	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
	"github.com/The-Sycorax/denaro/foundation/web"
	"go.uber.org/zap"
)

// Errors handles errors coming out of the call chain. It detects normal
// application errors which are used to respond to the client in a uniform
// way. Unexpected errors (status >= 500) are logged.
func Errors(log *zap.SugaredLogger) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			err := handler(ctx, w, r)
			if err == nil {
				return nil
			}

			status := v1.StatusFor(err)
			code := chain.Code(err)

			if status >= http.StatusInternalServerError {
				log.Errorw("request error", "traceid", web.GetTraceID(ctx), "code", code, "ERROR", err)
			} else {
				log.Infow("request rejected", "traceid", web.GetTraceID(ctx), "code", code, "message", err.Error())
			}

			env := v1.Envelope{
				Ok:    false,
				Error: &v1.ErrorDetail{Code: code, Message: err.Error()},
			}
			if err := web.Respond(ctx, w, env, status); err != nil {
				return err
			}

			// If we receive the shutdown err we need to return it back to the
			// base handler to shut down the service.
			if web.IsShutdown(err) {
				return err
			}

			return nil
		}

		return h
	}

	return m
}
