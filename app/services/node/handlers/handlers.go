// Package handlers manages the different versions of the API.
package handlers

import (
	"expvar"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	v1 "github.com/The-Sycorax/denaro/app/services/node/handlers/v1"
	"github.com/The-Sycorax/denaro/app/services/node/handlers/debug/checkgrp"
	"github.com/The-Sycorax/denaro/business/web/v1/mid"
	"github.com/The-Sycorax/denaro/foundation/blockchain/peer"
	"github.com/The-Sycorax/denaro/foundation/blockchain/state"
	"github.com/The-Sycorax/denaro/foundation/blockchain/worker"
	"github.com/The-Sycorax/denaro/foundation/events"
	"github.com/The-Sycorax/denaro/foundation/web"
	"go.uber.org/zap"
)

// MuxConfig contains all the mandatory systems required by handlers.
type MuxConfig struct {
	Shutdown    chan os.Signal
	Log         *zap.SugaredLogger
	State       *state.State
	Worker      *worker.Worker
	Registry    *peer.Registry
	Evts        *events.Events
	Limiter     *peer.RateLimiter
	NodeVersion string
	SelfURL     string
	IsPublic    bool
	StartTime   time.Time
	LogContent  mid.LoggerConfig
}

// APIMux constructs a http.Handler with all application routes defined.
func APIMux(cfg MuxConfig) http.Handler {
	app := web.NewApp(
		cfg.Shutdown,
		mid.Logger(cfg.Log, cfg.LogContent),
		mid.Errors(cfg.Log),
		mid.Cors("*"),
		mid.Panics(),
	)

	v1.Routes(app, v1.Config{
		Log:         cfg.Log,
		State:       cfg.State,
		Worker:      cfg.Worker,
		Registry:    cfg.Registry,
		Evts:        cfg.Evts,
		Limiter:     cfg.Limiter,
		NodeVersion: cfg.NodeVersion,
		SelfURL:     cfg.SelfURL,
		IsPublic:    cfg.IsPublic,
		StartTime:   cfg.StartTime,
	})

	return app
}

// DebugStandardLibraryMux registers all the debug routes from the standard
// library into a new mux bypassing the use of the DefaultServerMux. Using the
// DefaultServerMux would be a security risk since a dependency could inject a
// handler into our service without us knowing it.
func DebugStandardLibraryMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/vars", expvar.Handler())

	return mux
}

// DebugMux registers all the debug standard library routes and then custom
// debug application routes for the service.
func DebugMux(build string, log *zap.SugaredLogger) http.Handler {
	mux := DebugStandardLibraryMux()

	cgh := checkgrp.Handlers{
		Build: build,
		Log:   log,
	}
	mux.HandleFunc("/debug/readiness", cgh.Readiness)
	mux.HandleFunc("/debug/liveness", cgh.Liveness)

	return mux
}
