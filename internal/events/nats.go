// Package events publishes batch job transitions on NATS so watchers and
// other services can follow the queue without polling the store.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/raphaelgruber/livability/internal/models"
)

// SubjectPrefix is the root of all job subjects.
const SubjectPrefix = "livability.jobs"

// AllJobsSubject matches every job event.
const AllJobsSubject = SubjectPrefix + ".>"

// Subject returns the subject for a job status, e.g. livability.jobs.failed.
func Subject(status models.JobStatus) string {
	return SubjectPrefix + "." + strings.ToLower(string(status))
}

// Config holds NATS connection settings.
type Config struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// Publisher sends job events. It implements the job notifier used by the
// job service and executor.
type Publisher struct {
	conn      *nats.Conn
	logger    *slog.Logger
	connected atomic.Bool
}

// Connect dials NATS. Zero durations and counts fall back to client defaults.
func Connect(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{nats.Name(cfg.Name)}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}
	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}
	if cfg.ConnectTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnectTimeout))
	}

	p := &Publisher{logger: logger}
	opts = append(opts,
		nats.ReconnectHandler(func(nc *nats.Conn) {
			p.connected.Store(true)
			logger.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			p.connected.Store(false)
			logger.Warn("disconnected from NATS", "error", err)
		}),
	)

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	p.conn = conn
	p.connected.Store(true)
	return p, nil
}

// Connected reports the last known connection state.
func (p *Publisher) Connected() bool {
	return p.connected.Load()
}

// JobChanged publishes the job summary. Publishing is best effort: the store
// is the source of truth, so failures are logged and dropped.
func (p *Publisher) JobChanged(_ context.Context, rec models.BatchJobRecord) {
	payload, err := json.Marshal(rec.Summary())
	if err != nil {
		p.logger.Warn("marshal job event", "job_id", rec.ID, "error", err)
		return
	}
	if err := p.conn.Publish(Subject(rec.Status), payload); err != nil {
		p.logger.Warn("publish job event", "job_id", rec.ID, "error", err)
	}
}

// Subscribe delivers job events for subject until ctx is done.
func (p *Publisher) Subscribe(ctx context.Context, subject string, handler func(models.BatchJobSummary)) error {
	sub, err := p.conn.Subscribe(subject, func(msg *nats.Msg) {
		var s models.BatchJobSummary
		if err := json.Unmarshal(msg.Data, &s); err != nil {
			p.logger.Warn("discarding malformed job event", "subject", msg.Subject, "error", err)
			return
		}
		handler(s)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

// Flush waits until the server has processed all buffered messages.
func (p *Publisher) Flush() error {
	return p.conn.Flush()
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
