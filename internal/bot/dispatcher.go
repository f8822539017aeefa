// Package bot turns inbound messages into tracked activity and policy
// actions. Dispatch is stateless per message: every registered handler is
// offered every message and decides relevance on its own; no handler
// short-circuits another, so the activity tracker runs even when an
// admin-only command is denied.
package bot

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/idlewatch/internal/activity"
	"github.com/p-blackswan/idlewatch/internal/audit"
	"github.com/p-blackswan/idlewatch/internal/config"
	"github.com/p-blackswan/idlewatch/internal/metrics"
	"github.com/p-blackswan/idlewatch/internal/transport"
)

const denialReply = "❌ Only admins can use this command."

// Handler is one entry in the dispatch table.
type Handler struct {
	// Name identifies the handler in logs, metrics and the audit trail.
	Name string

	// Admin marks the handler as privileged. Denied invocations produce
	// the denial reply and no side effect.
	Admin bool

	// Match reports whether the handler applies to the message.
	Match func(m transport.Message, sender string) bool

	// Handle runs the handler and returns the reply text, empty for none.
	Handle func(ctx context.Context, m transport.Message, sender string) string
}

// Dispatcher owns the ordered handler table and the shared engine state.
type Dispatcher struct {
	cfg      *config.Config
	store    *activity.Store
	tr       transport.Transport
	audit    *audit.Log
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	handlers []Handler
	now      func() time.Time
}

// NewDispatcher wires the engine. audit and m may be nil.
func NewDispatcher(cfg *config.Config, store *activity.Store, tr transport.Transport, auditLog *audit.Log, m *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		cfg:     cfg,
		store:   store,
		tr:      tr,
		audit:   auditLog,
		metrics: m,
		logger:  logger.With().Str("component", "bot").Logger(),
		now:     time.Now,
	}
	d.handlers = []Handler{
		{
			Name:   "track",
			Match:  func(_ transport.Message, sender string) bool { return sender != "" },
			Handle: d.handleTrack,
		},
		{Name: "idle", Admin: true, Match: triggered("!idle"), Handle: d.handleIdle},
		{Name: "remove-idle", Admin: true, Match: triggered("!remove-idle"), Handle: d.handleRemoveIdle},
		{Name: "stats", Admin: true, Match: triggered("!stats"), Handle: d.handleStats},
		{Name: "config", Admin: true, Match: triggered("!config"), Handle: d.handleConfig},
		{Name: "help", Match: triggered("!help"), Handle: d.handleHelp},
	}
	return d
}

// Dispatch processes one inbound message to completion: activity tracking,
// then every matching command handler. Messages are expected to arrive on a
// single goroutine in arrival order.
func (d *Dispatcher) Dispatch(ctx context.Context, m transport.Message) {
	sender := d.tr.ResolveSender(m)

	for _, h := range d.handlers {
		if !h.Match(m, sender) {
			continue
		}

		if h.Admin && !d.cfg.IsAdmin(sender) {
			d.logger.Info().Str("sender", sender).Str("command", h.Name).Msg("privileged command denied")
			d.recordCommand(h.Name, "denied")
			d.recordAudit(ctx, sender, h.Name, audit.ResultDenied, m.Text)
			d.reply(ctx, m, denialReply)
			continue
		}

		reply := h.Handle(ctx, m, sender)
		if h.Admin {
			d.recordCommand(h.Name, "ok")
			d.recordAudit(ctx, sender, h.Name, audit.ResultAllowed, m.Text)
		}
		if reply != "" {
			d.reply(ctx, m, reply)
		}
	}
}

func (d *Dispatcher) reply(ctx context.Context, m transport.Message, text string) {
	if err := d.tr.Send(ctx, m, text); err != nil {
		d.logger.Error().Err(err).Str("sender", m.Sender).Msg("failed to send reply")
	}
}

func (d *Dispatcher) recordCommand(name, status string) {
	if d.metrics != nil {
		d.metrics.RecordCommand(name, status)
	}
}

func (d *Dispatcher) recordAudit(ctx context.Context, actor, command, result, detail string) {
	if d.audit == nil {
		return
	}
	if err := d.audit.Record(ctx, actor, command, result, detail); err != nil {
		d.logger.Warn().Err(err).Str("command", command).Msg("failed to write audit entry")
	}
}

// triggered matches messages whose first token equals the trigger.
func triggered(trigger string) func(m transport.Message, sender string) bool {
	return func(m transport.Message, _ string) bool {
		return firstToken(m.Text) == trigger
	}
}

func firstToken(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
