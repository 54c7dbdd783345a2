package handler

import (
	"context"

	"github.com/set-night/chatbroker/internal/config"
	"github.com/set-night/chatbroker/internal/service"
)

// Pinger reports whether the durable store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies needed by the HTTP handlers.
type Handler struct {
	cfg            *config.Config
	sessionService *service.SessionService
	dispatcher     *service.Dispatcher
	store          Pinger
}

// Deps contains all dependencies required to construct a Handler.
type Deps struct {
	Cfg            *config.Config
	SessionService *service.SessionService
	Dispatcher     *service.Dispatcher
	Store          Pinger
}

// New creates a new Handler from the provided dependencies.
func New(deps Deps) *Handler {
	return &Handler{
		cfg:            deps.Cfg,
		sessionService: deps.SessionService,
		dispatcher:     deps.Dispatcher,
		store:          deps.Store,
	}
}
