// Package worker implements the System Worker (spec §4.8): a background
// process, one per session, that drains UserRequest system events off the
// session's event bus and dispatches each by its request kind, pushing a
// UserResponse event back when done.
//
// Grounded on RegisterAllTools' "single dispatch table, one entry point per
// kind" idiom (internal/infrastructure/tool/registry.go), adapted from
// "register a tool by name" to "register a request handler by kind".
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aomi-labs/orchestrator/internal/domain/eventbus"
	"github.com/aomi-labs/orchestrator/internal/domain/sysevent"
)

// RequestHandler handles one UserRequest kind and returns the payload for
// the matching UserResponse event.
type RequestHandler func(ctx context.Context, payload map[string]interface{}) (result map[string]interface{}, err error)

// Worker drains UserRequest events from one session's event bus, e.g.
// fetching a live gas price quote for a "gas_price" request kind.
type Worker struct {
	bus      *eventbus.Bus
	logger   *zap.Logger
	handlers map[string]RequestHandler
	pollEvery time.Duration
}

// New returns a System Worker for one session's event bus. pollEvery
// controls how often the worker checks for new events when it has nothing
// else to do; 0 selects a default of 200ms.
func New(bus *eventbus.Bus, logger *zap.Logger, pollEvery time.Duration) *Worker {
	if pollEvery <= 0 {
		pollEvery = 200 * time.Millisecond
	}
	return &Worker{
		bus:       bus,
		logger:    logger,
		handlers:  make(map[string]RequestHandler),
		pollEvery: pollEvery,
	}
}

// Register adds a handler for a request kind, e.g. "gas_price". Registering
// the same kind twice overwrites the previous handler.
func (w *Worker) Register(kind string, h RequestHandler) {
	w.handlers[kind] = h
}

// Run drains UserRequest events starting at watermark idx until ctx is
// cancelled. It returns the final watermark so a caller that restarts the
// worker (e.g. after a session is woken from idle) can resume from there.
func (w *Worker) Run(ctx context.Context, idx int) int {
	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return idx
		case <-ticker.C:
			idx = w.drainOnce(ctx, idx)
		}
	}
}

// drainOnce processes every UserRequest event since idx and returns the new
// watermark.
func (w *Worker) drainOnce(ctx context.Context, idx int) int {
	events := w.bus.SliceFrom(idx)
	for _, evt := range events {
		idx++
		if evt.Kind != sysevent.KindUserRequest {
			continue
		}
		w.handle(ctx, evt)
	}
	return idx
}

func (w *Worker) handle(ctx context.Context, req sysevent.Event) {
	handler, ok := w.handlers[req.ReqKind]
	if !ok {
		w.logger.Warn("no handler for request kind", zap.String("kind", req.ReqKind))
		w.bus.Push(sysevent.Event{
			Kind:      sysevent.KindUserResponse,
			RequestID: req.RequestID,
			ReqKind:   req.ReqKind,
			Error:     "unknown_kind",
		})
		return
	}

	result, err := handler(ctx, req.ReqPayload)
	resp := sysevent.Event{
		Kind:      sysevent.KindUserResponse,
		RequestID: req.RequestID,
		ReqKind:   req.ReqKind,
		ReqPayload: result,
	}
	if err != nil {
		resp.Error = err.Error()
		w.logger.Error("system worker request failed",
			zap.String("kind", req.ReqKind),
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
	}
	w.bus.Push(resp)
}
