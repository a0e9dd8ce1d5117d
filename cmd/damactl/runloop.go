package main

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/dama-controller/core"
	"github.com/signalsfoundry/dama-controller/internal/logging"
	"github.com/signalsfoundry/dama-controller/kb"
	"github.com/signalsfoundry/dama-controller/model"
	"github.com/signalsfoundry/dama-controller/timectrl"
)

// frameLoop owns the single-goroutine confinement of one controller instance:
// registry events and capacity requests arrive on channels from other
// goroutines and are applied only at the frame boundary, on the timer
// goroutine, before the cycle runs.
type frameLoop struct {
	ctrl     *core.LegacyDamaCtrl
	timer    *timectrl.FrameTimer
	events   <-chan kb.Event
	requests <-chan model.CapacityRequest
	tracer   trace.Tracer
	log      logging.Logger
}

func newFrameLoop(ctrl *core.LegacyDamaCtrl, timer *timectrl.FrameTimer, events <-chan kb.Event, requests <-chan model.CapacityRequest, log logging.Logger) *frameLoop {
	return &frameLoop{
		ctrl:     ctrl,
		timer:    timer,
		events:   events,
		requests: requests,
		tracer:   otel.Tracer("dama/frameloop"),
		log:      log,
	}
}

// run drives frame cycles until the context is cancelled or the timer
// reports a scheduling violation.
func (fl *frameLoop) run(ctx context.Context) error {
	return fl.timer.Run(ctx, fl.cycle)
}

func (fl *frameLoop) cycle(ctx context.Context, frame uint) error {
	ctx = logging.ContextWithFrame(ctx, frame)
	ctx, span := fl.tracer.Start(ctx, "dama.frame",
		trace.WithAttributes(attribute.Int("dama.frame", int(frame))))
	defer span.End()

	fl.drainEvents(ctx)

	if reqs := fl.drainRequests(); len(reqs) > 0 {
		span.AddEvent("requests_applied", trace.WithAttributes(attribute.Int("count", len(reqs))))
		fl.ctrl.ApplyRequests(ctx, reqs)
	}

	if err := fl.ctrl.RunFrame(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	span.AddEvent("cycle_done")
	return nil
}

// drainEvents applies all pending registry events to the controller. Logon
// and logoff failures are operator-visible but never stop the frame.
func (fl *frameLoop) drainEvents(ctx context.Context) {
	for {
		select {
		case ev := <-fl.events:
			fl.applyEvent(ctx, ev)
		default:
			return
		}
	}
}

func (fl *frameLoop) applyEvent(ctx context.Context, ev kb.Event) {
	reg := ev.Registration
	var err error
	switch ev.Type {
	case kb.EventLogon:
		err = fl.ctrl.Logon(reg.Terminal, reg.Category, reg.Group)
	case kb.EventLogoff:
		err = fl.ctrl.Logoff(reg.Terminal)
	case kb.EventReaffected:
		err = fl.ctrl.SetTerminalAffectation(reg.Terminal, reg.Category, reg.Group)
	}
	if err != nil {
		fl.log.Error(ctx, "registry event not applied",
			logging.Int("terminal", int(reg.Terminal)),
			logging.Int("event", int(ev.Type)),
			logging.Any("error", err))
	}
}

func (fl *frameLoop) drainRequests() []model.CapacityRequest {
	var out []model.CapacityRequest
	for {
		select {
		case req := <-fl.requests:
			out = append(out, req)
		default:
			return out
		}
	}
}
