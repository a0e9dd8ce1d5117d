package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/signalsfoundry/dama-controller/internal/logging"
	"github.com/signalsfoundry/dama-controller/kb"
	"github.com/signalsfoundry/dama-controller/model"
)

// feedLine is one event on the control feed: a terminal logon, a logoff, or a
// capacity request. The feed stands in for the DVB-RCS2 signalling path,
// whose decoding happens upstream of this daemon.
type feedLine struct {
	Type     string `json:"type"` // logon | logoff | request
	Terminal uint16 `json:"terminal"`

	// Logon fields.
	Category string `json:"category,omitempty"`
	Group    uint   `json:"group,omitempty"`

	// Request fields.
	RbdcKbps uint `json:"rbdc_kbps,omitempty"`
	VbdcPkt  uint `json:"vbdc_pkt,omitempty"`
}

// runFeed decodes newline-delimited JSON from r, routing logons and logoffs
// through the registry and queueing capacity requests for the frame loop. It
// returns when r is exhausted or the context is cancelled. Malformed lines
// are logged and skipped.
func runFeed(ctx context.Context, r io.Reader, registry *kb.TerminalRegistry, requests chan<- model.CapacityRequest, log logging.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var line feedLine
		if err := json.Unmarshal(raw, &line); err != nil {
			log.Warn(ctx, "skipping malformed feed line", logging.Any("error", err))
			continue
		}

		id := model.TerminalID(line.Terminal)
		switch line.Type {
		case "logon":
			if err := registry.Logon(id, line.Category, model.CarrierGroupID(line.Group)); err != nil {
				log.Warn(ctx, "feed logon rejected",
					logging.Int("terminal", int(id)),
					logging.Any("error", err))
			}
		case "logoff":
			if err := registry.Logoff(id); err != nil {
				log.Warn(ctx, "feed logoff rejected",
					logging.Int("terminal", int(id)),
					logging.Any("error", err))
			}
		case "request":
			select {
			case requests <- model.CapacityRequest{TerminalID: id, RbdcKbps: line.RbdcKbps, VbdcPkt: line.VbdcPkt}:
			case <-ctx.Done():
				return
			}
		default:
			log.Warn(ctx, "unknown feed line type", logging.String("type", line.Type))
		}
	}
	if err := scanner.Err(); err != nil {
		log.Error(ctx, "feed read failed", logging.Any("error", err))
	}
}
