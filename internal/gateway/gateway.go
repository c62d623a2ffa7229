// Package gateway wires the broker session, robot state, commands and the
// local API into one process.
package gateway

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/ridergate/internal/command"
	"github.com/autopeer-io/ridergate/internal/gateway/archive"
	"github.com/autopeer-io/ridergate/internal/router"
	"github.com/autopeer-io/ridergate/internal/shutdown"
	"github.com/autopeer-io/ridergate/internal/state"
	"github.com/autopeer-io/ridergate/internal/transport"
	"github.com/autopeer-io/ridergate/pkg/log"
)

// Gateway is the running process.
type Gateway struct {
	logger    log.Logger
	transport *transport.Client
	store     *state.Store
	commands  *command.Facade
	router    *router.Router
	events    *EventHub
	archive   *archive.Archive
	api       *API
	shutdown  *shutdown.Orchestrator

	livenessInterval time.Duration
}

// Store returns the robot state.
func (g *Gateway) Store() *state.Store { return g.store }

// Commands returns the command facade.
func (g *Gateway) Commands() *command.Facade { return g.commands }

// Shutdown returns the orchestrator.
func (g *Gateway) Shutdown() *shutdown.Orchestrator { return g.shutdown }

// Run connects to the broker, serves the API and blocks until the shutdown
// sequence has finished. Cancelling ctx or any component exiting triggers
// the shutdown.
func (g *Gateway) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gateway panicked: %v", r)
			g.logger.Error(err, "Gateway panicked, shutting down")
			g.shutdown.Trigger(shutdown.ReasonPanic)
			<-g.shutdown.Done()
		}
	}()

	g.shutdown.InstallSignalHandlers(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g.shutdown.Register("components", func(context.Context) error {
		cancel()
		return nil
	})

	if err := g.transport.Connect(runCtx); err != nil {
		err = fmt.Errorf("failed to connect to broker: %w", err)
		g.logger.Error(err, "Gateway cannot start, shutting down")
		g.shutdown.Trigger(shutdown.ReasonRunExit)
		<-g.shutdown.Done()
		return err
	}
	g.logger.Info("Gateway started", "broker", g.transport.Broker(), "clientID", g.transport.ClientID())

	eg, egCtx := errgroup.WithContext(runCtx)
	eg.Go(func() error {
		return g.api.Start(egCtx)
	})
	eg.Go(func() error {
		return g.store.RunLivenessMonitor(egCtx, g.livenessInterval)
	})
	if g.archive != nil {
		eg.Go(func() error {
			if err := g.archive.Run(egCtx); err != nil {
				g.logger.Error(err, "Image archive stopped")
			}
			return nil
		})
	}

	go func() {
		if err := eg.Wait(); err != nil {
			g.logger.Error(err, "Gateway component failed")
		}
		g.shutdown.Trigger(shutdown.ReasonRunExit)
	}()

	select {
	case <-g.shutdown.Done():
	case <-ctx.Done():
		g.shutdown.Trigger(shutdown.ReasonRunExit)
		<-g.shutdown.Done()
	}

	if r, ok := g.shutdown.Reason(); ok {
		g.logger.Info("Gateway stopped", "reason", string(r))
	}
	return nil
}
