// Package api exposes a read-only ops HTTP surface: activity statistics,
// the current idle set, the audit trail, probes and metrics. Configuration
// mutation stays on the message command surface.
package api

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/idlewatch/internal/activity"
	"github.com/p-blackswan/idlewatch/internal/audit"
	"github.com/p-blackswan/idlewatch/internal/config"
	"github.com/p-blackswan/idlewatch/internal/health"
	"github.com/p-blackswan/idlewatch/internal/metrics"
)

// Server is the ops API Fiber application.
type Server struct {
	app     *fiber.App
	addr    string
	cfg     *config.Config
	store   *activity.Store
	audit   *audit.Log
	checker *health.Checker
	logger  zerolog.Logger
	now     func() time.Time
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	TotalMembers   int  `json:"total_members"`
	ActiveMembers  int  `json:"active_members"`
	IdleMembers    int  `json:"idle_members"`
	ActiveLast7d   int  `json:"active_last_7d"`
	ThresholdDays  int  `json:"threshold_days"`
	ProtectedCount int  `json:"protected_count"`
	DryRun         bool `json:"dry_run"`
}

// IdleMember is one entry of GET /v1/idle.
type IdleMember struct {
	Identifier   string    `json:"identifier"`
	LastSeen     time.Time `json:"last_seen"`
	DaysIdle     int       `json:"days_idle"`
	MessageCount int       `json:"message_count"`
}

// NewServer creates and configures the ops API server. auditLog may be nil;
// the audit route then returns an empty list.
func NewServer(addr string, cfg *config.Config, store *activity.Store, auditLog *audit.Log, checker *health.Checker, m *metrics.Metrics, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	s := &Server{
		app:     app,
		addr:    addr,
		cfg:     cfg,
		store:   store,
		audit:   auditLog,
		checker: checker,
		logger:  logger.With().Str("component", "api").Logger(),
		now:     time.Now,
	}

	app.Use(recover.New())
	app.Use(newAuthMiddleware(cfg.APIKey(), s.logger))

	app.Get("/healthz", s.handleHealthz)
	app.Get("/readyz", s.handleReadyz)
	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	v1 := app.Group("/v1")
	v1.Get("/stats", s.handleStats)
	v1.Get("/idle", s.handleIdle)
	v1.Get("/audit", s.handleAudit)

	return s
}

// Start runs the server until Shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.addr).Msg("ops API listening")
	return s.app.Listen(s.addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) handleHealthz(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleReadyz(c *fiber.Ctx) error {
	results := s.checker.RunAll(c.Context())
	for _, st := range results {
		if st == health.StatusDown {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "down", "checks": results,
			})
		}
	}
	return c.JSON(fiber.Map{"status": "ok", "checks": results})
}

func (s *Server) idleMembers() []activity.Record {
	thresholdDays, protected := s.cfg.Policy()
	return activity.IdleMembers(s.store.All(), activity.Policy{
		ThresholdDays: thresholdDays,
		Protected:     protected,
	}, s.now())
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	total := s.store.Len()
	idle := len(s.idleMembers())

	now := s.now()
	recent := 0
	for r := range s.store.All() {
		if r.DaysIdle(now) <= 7 {
			recent++
		}
	}

	return c.JSON(StatsResponse{
		TotalMembers:   total,
		ActiveMembers:  total - idle,
		IdleMembers:    idle,
		ActiveLast7d:   recent,
		ThresholdDays:  s.cfg.ThresholdDays(),
		ProtectedCount: s.cfg.ProtectedCount(),
		DryRun:         s.cfg.DryRun(),
	})
}

func (s *Server) handleIdle(c *fiber.Ctx) error {
	now := s.now()
	idle := s.idleMembers()
	out := make([]IdleMember, 0, len(idle))
	for _, r := range idle {
		out = append(out, IdleMember{
			Identifier:   r.Identifier,
			LastSeen:     r.LastSeen,
			DaysIdle:     r.DaysIdle(now),
			MessageCount: r.MessageCount,
		})
	}
	return c.JSON(out)
}

func (s *Server) handleAudit(c *fiber.Ctx) error {
	if s.audit == nil {
		return c.JSON([]audit.Entry{})
	}
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	entries, err := s.audit.Recent(c.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read audit log")
		return problemResponse(c, fiber.StatusInternalServerError,
			"audit_unavailable", "Internal Server Error",
			"Failed to read audit log")
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	return c.JSON(entries)
}
