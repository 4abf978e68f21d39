// Command webapp runs the example application: user accounts backed by
// Postgres, session-tracked greetings, an outbound request demo, static
// file serving and a WebSocket echo.
//
// Usage: webapp <config.json>
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"

	"github.com/searchktools/webserv/app"
	"github.com/searchktools/webserv/config"
	"github.com/searchktools/webserv/core/router"
)

func usage() {
	fmt.Println("Usage: webapp <config.json>")
	fmt.Println("webapp is a webserv-based HTTP/WebSocket application server.")
	fmt.Println()
	fmt.Println("Recognized configuration keys:")
	fmt.Println("  port               listen port (default: 8080)")
	fmt.Println("  thread-num         worker threads (default: # of cpu cores)")
	fmt.Println("  conn-num           database connections (default: 10)")
	fmt.Println("  conn-str           database connection string (default: none)")
	fmt.Println("  log-dir            log directory (default: stdout only)")
	fmt.Println("  log-rotation-size  log rotation size in bytes (default: 8 MiB)")
	fmt.Println("  max-conn           concurrent connection cap (default: unlimited)")
	fmt.Println("  template_root      template base directory (required)")
	fmt.Println("  static_root        static file base directory (required)")
}

func main() {
	if len(os.Args) != 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.TemplateRoot == "" || cfg.StaticRoot == "" {
		fmt.Fprintln(os.Stderr, "config: template_root and static_root are required")
		os.Exit(1)
	}
	selfPort = strconv.Itoa(cfg.Port)

	routes := router.New(
		router.NewRoute("/", hello,
			router.Response, router.Session),
		router.NewRoute("/hello", hello,
			router.Response, router.Session),
		router.NewRoute("/register", userRegister,
			router.Request, router.JSONParams, router.DB),
		router.NewRoute("/login", userLogin,
			router.Request, router.JSONParams, router.DB, router.Session),
		router.NewRoute("/logout", userLogout,
			router.Session),
		router.NewRoute("/find/<str>", findUser,
			router.DB, router.URL(1)),
		router.NewRoute("/send", sendRequest,
			router.Session, router.HTTPClient, router.JSONParams),
		router.NewRoute("/echo", echo,
			router.JSONParams),
		router.NewRoute("/users", viewUsers,
			router.DB, router.JSONParams),
		router.NewRoute("/users/<int>", viewUsersPage,
			router.DB, router.URL(1)),
		router.NewRoute("/statics/<path>", serveStatics,
			router.Response, router.Literal(cfg.StaticRoot), router.URL(1)),
	)

	wsRoutes := router.New(
		router.NewRoute("/echo", wsEcho,
			router.Session, router.WSChannel),
	)

	application, err := app.New(cfg, routes, wsRoutes)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	application.Engine().Use(func(ctx *router.Context) {
		id := uuid.NewString()
		ctx.Resp.Set("X-Request-Id", id)
		ctx.Log.Info("request",
			"id", id, "method", ctx.Req.Method, "url", ctx.Req.Path)
	})

	if err := application.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
