package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/The-Sycorax/denaro/app/services/node/handlers"
	"github.com/The-Sycorax/denaro/business/web/v1/mid"
	"github.com/The-Sycorax/denaro/foundation/blockchain/peer"
	"github.com/The-Sycorax/denaro/foundation/blockchain/state"
	"github.com/The-Sycorax/denaro/foundation/blockchain/storage"
	"github.com/The-Sycorax/denaro/foundation/blockchain/worker"
	"github.com/The-Sycorax/denaro/foundation/events"
	"github.com/The-Sycorax/denaro/foundation/logger"
	"github.com/ardanlabs/conf/v3"
	"go.uber.org/zap"
)

// build is the git version of this program. It can be set at build time with
// -ldflags "-X main.build=<version>".
var build = "develop"

// nodeVersion is the protocol version advertised to peers.
const nodeVersion = "2.0.0"

// Exit codes.
const (
	exitOK = iota
	exitConfig
	exitStorage
	exitIdentity
)

func main() {
	logCfg := parseLogConfig()

	log, err := logger.New(logger.Config{
		Level:        logCfg.Level,
		Format:       logCfg.Format,
		DateFormat:   logCfg.DateFormat,
		Highlighting: logCfg.ConsoleHighlighting,
		Service:      "NODE",
	})
	if err != nil {
		fmt.Println(err)
		os.Exit(exitConfig)
	}
	defer log.Sync()

	if code := run(log, logCfg); code != exitOK {
		log.Sync()
		os.Exit(code)
	}
}

// logConfig carries the LOG_* environment settings.
type logConfig struct {
	Level                    string `conf:"default:info"`
	Format                   string `conf:"default:json"`
	DateFormat               string `conf:"default:"`
	ConsoleHighlighting      bool   `conf:"default:true"`
	IncludeRequestContent    bool   `conf:"default:false"`
	IncludeResponseContent   bool   `conf:"default:false"`
	IncludeBlockSyncMessages bool   `conf:"default:true"`
}

func parseLogConfig() logConfig {
	var cfg logConfig
	if _, err := conf.Parse("LOG", &cfg); err != nil {
		return logConfig{Level: "info", Format: "json"}
	}
	return cfg
}

func run(log *zap.SugaredLogger, logCfg logConfig) int {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Node struct {
			Host string `conf:"default:0.0.0.0"`
			Port int    `conf:"default:3006"`
		}
		SelfURL       string `conf:"default:http://127.0.0.1:3006"`
		BootstrapNode string `conf:"default:self"`
		Database      struct {
			Host string `conf:"default:localhost:5432"`
			Name string `conf:"default:denaro"`
		}
		Identity struct {
			KeyPath    string `conf:"default:zdata/node.key"`
			PeerDBPath string `conf:"default:zdata/peers.db"`
		}
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:60s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "denaro full node",
		},
	}

	const prefix = "DENARO"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return exitOK
		}
		log.Errorw("startup", "status", "parsing config", "ERROR", err)
		return exitConfig
	}

	pgCfg := struct {
		User     string `conf:"default:denaro"`
		Password string `conf:"default:denaro,mask"`
	}{}
	if _, err := conf.Parse("POSTGRES", &pgCfg); err != nil {
		log.Errorw("startup", "status", "parsing postgres config", "ERROR", err)
		return exitConfig
	}

	// =========================================================================
	// App Starting

	log.Infow("starting node", "version", build, "node_version", nodeVersion)
	defer log.Infow("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		log.Errorw("startup", "status", "generating config for output", "ERROR", err)
		return exitConfig
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Identity Support

	identity, err := peer.LoadIdentity(cfg.Identity.KeyPath)
	if err != nil {
		log.Errorw("startup", "status", "loading node identity", "ERROR", err)
		return exitIdentity
	}
	log.Infow("startup", "status", "identity loaded", "node_id", identity.NodeID)

	registry, err := peer.NewRegistry(identity, cfg.Identity.PeerDBPath)
	if err != nil {
		log.Errorw("startup", "status", "opening peer registry", "ERROR", err)
		return exitIdentity
	}
	defer registry.Close()

	// =========================================================================
	// Storage Support

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := storage.Open(ctx, storage.Config{
		User:     pgCfg.User,
		Password: pgCfg.Password,
		Host:     cfg.Database.Host,
		Name:     cfg.Database.Name,
	})
	if err != nil {
		log.Errorw("startup", "status", "opening database", "ERROR", err)
		return exitStorage
	}
	defer store.Close()

	// =========================================================================
	// Blockchain Support

	evts := events.New()
	defer evts.Shutdown()

	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		if logCfg.IncludeBlockSyncMessages || !isSyncMessage(s) {
			log.Infow(s)
		}
		evts.Send(s)
	}

	st, err := state.New(ctx, state.Config{
		Store:     store,
		EvHandler: ev,
	})
	if err != nil {
		log.Errorw("startup", "status", "building state", "ERROR", err)
		return exitStorage
	}
	log.Infow("startup", "status", "chain loaded", "height", st.Height())

	isPublic := cfg.BootstrapNode != worker.BootstrapSelf

	w := worker.Run(worker.Config{
		State:       st,
		Registry:    registry,
		SelfURL:     cfg.SelfURL,
		IsPublic:    isPublic,
		NodeVersion: nodeVersion,
		Bootstrap:   cfg.BootstrapNode,
		EvHandler:   ev,
	})
	defer w.Shutdown()

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug router started", "host", cfg.Web.DebugHost)

	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, handlers.DebugMux(build, log)); err != nil {
			log.Errorw("shutdown", "status", "debug router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Start API Service

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	limiter := peer.NewRateLimiter(map[string]peer.RateLimit{
		"/submit_block": {PerMinute: 120, Burst: 20},
		"/push_block":   {PerMinute: 120, Burst: 20},
		"/push_blocks":  {PerMinute: 30, Burst: 5},
		"/push_tx":      {PerMinute: 120, Burst: 30},
	})

	// Idle rate buckets are swept so the table stays bounded.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			limiter.Sweep(time.Hour)
		}
	}()

	apiMux := handlers.APIMux(handlers.MuxConfig{
		Shutdown:    shutdown,
		Log:         log,
		State:       st,
		Worker:      w,
		Registry:    registry,
		Evts:        evts,
		Limiter:     limiter,
		NodeVersion: nodeVersion,
		SelfURL:     cfg.SelfURL,
		IsPublic:    isPublic,
		StartTime:   time.Now().UTC(),
		LogContent:  mid.LoggerConfig{IncludeRequestContent: logCfg.IncludeRequestContent},
	})

	api := http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Node.Host, cfg.Node.Port),
		Handler:      apiMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Infow("startup", "status", "api router started", "host", api.Addr)
		serverErrors <- api.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-serverErrors:
		log.Errorw("shutdown", "status", "server error", "ERROR", err)
		return exitStorage

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := api.Shutdown(ctx); err != nil {
			api.Close()
			log.Errorw("shutdown", "status", "could not stop api gracefully", "ERROR", err)
		}
	}

	return exitOK
}

// isSyncMessage reports whether an event line belongs to the block sync
// chatter that can be silenced by configuration.
func isSyncMessage(s string) bool {
	return len(s) >= 12 && s[:12] == "worker: sync"
}
