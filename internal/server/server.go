package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lendwallet/walletd/internal/respond"
	"github.com/lendwallet/walletd/internal/routes"
)

// bodyLimit caps request bodies; every API payload is a small JSON object.
const bodyLimit = 64 * 1024

// Server wraps the Fiber application.
type Server struct {
	app  *fiber.App
	addr string
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
// Errors escaping handlers are rendered with the ledger error envelope.
func New(d routes.Deps) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:               d.Cfg.AppName,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		BodyLimit:             bodyLimit,
		DisableStartupMessage: !d.Cfg.IsDevelopment(),
		ErrorHandler:          respond.Error,
	})

	if err := routes.Setup(app, d); err != nil {
		return nil, err
	}

	return &Server{app: app, addr: d.Cfg.Address()}, nil
}

// App exposes the underlying Fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
