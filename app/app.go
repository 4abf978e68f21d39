// Package app wires configuration, logging, the session store, the
// database pool and the engine into a runnable server.
package app

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/searchktools/webserv/config"
	"github.com/searchktools/webserv/core"
	"github.com/searchktools/webserv/core/db"
	"github.com/searchktools/webserv/core/router"
	"github.com/searchktools/webserv/logging"
)

// App is one application instance.
type App struct {
	cfg    config.Config
	engine *core.Engine
	pool   *db.Pool
}

// New builds an application from cfg and the two route tables. A
// configured connection string opens the pool up front; a failure there is
// fatal, matching the server's startup contract.
func New(cfg config.Config, routes, wsRoutes *router.Router) (*App, error) {
	log := logging.Setup(cfg)
	if cfg.ThreadNum > 0 {
		runtime.GOMAXPROCS(cfg.ThreadNum)
	}

	engine := core.NewEngine(cfg.Name, routes, wsRoutes)
	engine.SetLogger(log)
	if cfg.MaxConn > 0 {
		engine.SetMaxConns(cfg.MaxConn)
	}

	a := &App{cfg: cfg, engine: engine}
	if cfg.ConnStr != "" {
		pool, err := db.Open(cfg.ConnStr, cfg.ConnNum)
		if err != nil {
			return nil, fmt.Errorf("app: db connection initialization failed: %w", err)
		}
		a.pool = pool
		engine.SetPool(pool)
	}
	return a, nil
}

// Engine exposes the underlying engine for middleware installation.
func (a *App) Engine() *core.Engine { return a.engine }

// Run serves until SIGINT or SIGTERM.
func (a *App) Run() error {
	go a.awaitSignal()
	err := a.engine.Run(a.cfg.Addr())
	if a.pool != nil {
		a.pool.Close()
	}
	return err
}

func (a *App) awaitSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	a.engine.Shutdown()
}
