package handlers

import (
	"go.uber.org/zap"

	"github.com/opscore/command-center/internal/analytics"
	"github.com/opscore/command-center/internal/audit"
	"github.com/opscore/command-center/internal/autoheal"
	"github.com/opscore/command-center/internal/bus"
	"github.com/opscore/command-center/internal/health"
	"github.com/opscore/command-center/internal/learning"
	"github.com/opscore/command-center/internal/replication"
	"github.com/opscore/command-center/internal/store"
)

// RestartFunc asks the host process to exit. graceful selects a drained
// shutdown over an immediate one.
type RestartFunc func(graceful bool)

type Handler struct {
	store     *store.Store
	chain     *audit.Log
	worker    *replication.Worker
	monitor   *health.Monitor
	analytics *analytics.Service
	optimizer *learning.Optimizer
	engine    *autoheal.Engine
	bus       *bus.Bus
	restart   RestartFunc
	logger    *zap.Logger
}

func NewHandler(
	st *store.Store,
	chain *audit.Log,
	worker *replication.Worker,
	monitor *health.Monitor,
	svc *analytics.Service,
	optimizer *learning.Optimizer,
	engine *autoheal.Engine,
	eventBus *bus.Bus,
	restart RestartFunc,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		store:     st,
		chain:     chain,
		worker:    worker,
		monitor:   monitor,
		analytics: svc,
		optimizer: optimizer,
		engine:    engine,
		bus:       eventBus,
		restart:   restart,
		logger:    logger,
	}
}
