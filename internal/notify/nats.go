// Package notify mirrors job events to NATS.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/CZERTAINLY/jobcast/internal/model"
	"github.com/CZERTAINLY/jobcast/internal/service"
)

// Message is the payload published for every job event.
type Message struct {
	JobID   string        `json:"job_id"`
	JobType model.JobType `json:"job_type"`
	Event   model.Event   `json:"event"`
}

type Client struct {
	nc      *nats.Conn
	subject string
}

func Connect(url, subject string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name("jobcast"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	if subject == "" {
		subject = model.DefaultSubject
	}
	return &Client{nc: nc, subject: subject}, nil
}

// Close flushes pending messages and closes the connection.
func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

func (c *Client) Conn() *nats.Conn { return c.nc }

// Subject returns the subject events of typ are published to.
func (c *Client) Subject(typ model.JobType) string {
	return c.subject + "." + token(string(typ))
}

func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.nc.Publish(subject, b)
}

// Observe is a service.Observer. Publishing is asynchronous, failures are
// logged and never affect the job.
func (c *Client) Observe(ctx context.Context, info service.Info, e model.Event) {
	msg := Message{JobID: info.ID, JobType: info.Type, Event: e}
	if err := c.PublishJSON(c.Subject(info.Type), msg); err != nil {
		slog.WarnContext(ctx, "publishing event to nats", "seq", e.Seq, "error", err)
	}
}

// token makes s usable as a single subject token.
func token(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
