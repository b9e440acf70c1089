// Package server provides the HTTP status and control surface.
package server

import (
	"github.com/dtravers/tokenward/internal/config"
	"github.com/dtravers/tokenward/internal/credentials"
	"github.com/dtravers/tokenward/internal/events"
	"github.com/dtravers/tokenward/internal/notifications"
	"github.com/dtravers/tokenward/internal/scheduler"
	"github.com/dtravers/tokenward/internal/users"
)

// Server holds the handler dependencies.
type Server struct {
	cfg       *config.Config
	registry  *users.Registry
	store     *credentials.Store
	queue     *notifications.Queue
	events    *events.Log
	scheduler *scheduler.Scheduler
}

// New creates a server.
func New(
	cfg *config.Config,
	registry *users.Registry,
	store *credentials.Store,
	queue *notifications.Queue,
	eventLog *events.Log,
	sched *scheduler.Scheduler,
) *Server {
	return &Server{
		cfg:       cfg,
		registry:  registry,
		store:     store,
		queue:     queue,
		events:    eventLog,
		scheduler: sched,
	}
}
