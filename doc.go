/*
Package webserv is an embeddable HTTP/WebSocket application server
framework built around a declarative route table.

A route lists placeholder tokens (URL captures, the session, the parsed
request, the response builder, the merged JSON parameters, a pooled
database handle, an outbound HTTP client, the WebSocket channel) and the
engine resolves each token to a concrete value before invoking the
handler, which is an ordinary typed Go function:

	routes := router.New(
	    router.NewRoute("/find/<str>", findUser,
	        router.DB, router.URL(1)),
	    router.NewRoute("/login", userLogin,
	        router.Request, router.JSONParams, router.DB, router.Session),
	)

	application, err := app.New(cfg, routes, wsRoutes)
	if err != nil {
	    log.Fatal(err)
	}
	log.Fatal(application.Run())

The placeholder list is checked against the handler's parameter types when
the route is constructed, so a misdeclared route fails at startup rather
than at request time.

Modules:

  - app: application lifecycle and signal handling
  - config: JSON configuration loading
  - logging: severity-filtered, size-rotated log sink
  - core: listener, connection state machine, error boundary
  - core/http: request parsing and response building
  - core/router: route table, URL matcher, parameter resolver
  - core/session: in-memory session store with TTL expiry
  - core/db: connection pool, SQL templater, row projection
  - core/client: coroutine-friendly outbound HTTP client
  - core/websocket: RFC 6455 acceptor and message channel
  - core/params: query/cookie/form parameter grammar
  - core/middleware: pre-dispatch middleware pipeline
  - core/pools: blocking-task executor and buffer pool
  - core/static: static file responses
*/
package webserv
