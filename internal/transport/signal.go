package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// SignalConfig configures the live transport against a signal-cli REST
// service.
type SignalConfig struct {
	// Service is the host:port of the REST service.
	Service string

	// PhoneNumber is the bot's registered number.
	PhoneNumber string

	// PollInterval is the delay between receive polls. Zero means 2s.
	PollInterval time.Duration
}

// Signal talks to a signal-cli REST service. Receiving is a poll loop that
// feeds the Messages channel; sending posts a reply back to the message
// source.
type Signal struct {
	cfg    SignalConfig
	http   *retryablehttp.Client
	logger zerolog.Logger
	inbox  chan Message
}

// NewSignal creates a live Signal transport.
func NewSignal(cfg SignalConfig, logger zerolog.Logger) *Signal {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.HTTPClient.Timeout = 15 * time.Second
	client.Logger = nil

	return &Signal{
		cfg:    cfg,
		http:   client,
		logger: logger.With().Str("component", "transport.signal").Logger(),
		inbox:  make(chan Message, 64),
	}
}

// Registered probes the REST service for registered accounts. It reports
// false when the service is reachable but no account exists.
func (s *Signal) Registered(ctx context.Context) (bool, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.url("/v1/accounts"), nil)
	if err != nil {
		return false, fmt.Errorf("build accounts request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("query signal accounts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("signal service returned %s", resp.Status)
	}
	var accounts []string
	if err := json.NewDecoder(resp.Body).Decode(&accounts); err != nil {
		return false, fmt.Errorf("decode accounts: %w", err)
	}
	s.logger.Info().Int("accounts", len(accounts)).Msg("signal registration probed")
	return len(accounts) > 0, nil
}

// Send posts a reply to the sender of m.
func (s *Signal) Send(ctx context.Context, m Message, text string) error {
	payload := map[string]any{
		"message":    text,
		"number":     s.cfg.PhoneNumber,
		"recipients": []string{m.Sender},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal send payload: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.url("/v2/send"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("send to %s: %w", m.Sender, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("signal send returned %s", resp.Status)
	}
	return nil
}

// ResolveSender returns the source number carried on the message.
func (s *Signal) ResolveSender(m Message) string {
	return m.Sender
}

// Messages returns the inbound message stream fed by Run.
func (s *Signal) Messages() <-chan Message {
	return s.inbox
}

// Run polls the receive endpoint until ctx is cancelled. Poll failures are
// logged and retried on the next tick.
func (s *Signal) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.poll(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("receive poll failed")
			}
		}
	}
}

// envelope is the subset of the signal-cli receive payload the bot reads.
type envelope struct {
	Envelope struct {
		Source      string `json:"source"`
		Timestamp   int64  `json:"timestamp"`
		DataMessage *struct {
			Message string `json:"message"`
		} `json:"dataMessage"`
	} `json:"envelope"`
}

func (s *Signal) poll(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.url("/v1/receive/"+s.cfg.PhoneNumber), nil)
	if err != nil {
		return fmt.Errorf("build receive request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("receive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("receive returned %s", resp.Status)
	}

	var envelopes []envelope
	if err := json.NewDecoder(resp.Body).Decode(&envelopes); err != nil {
		return fmt.Errorf("decode receive payload: %w", err)
	}

	for _, e := range envelopes {
		if e.Envelope.DataMessage == nil || e.Envelope.DataMessage.Message == "" {
			continue
		}
		msg := Message{
			Sender:    e.Envelope.Source,
			Text:      e.Envelope.DataMessage.Message,
			Timestamp: time.UnixMilli(e.Envelope.Timestamp),
		}
		select {
		case s.inbox <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Signal) url(path string) string {
	return "http://" + s.cfg.Service + path
}
