// Package notify announces finished releases on NATS.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rsjsoftware/rsjbuild/internal/config"
	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
	"github.com/rsjsoftware/rsjbuild/internal/logfields"
	"github.com/rsjsoftware/rsjbuild/internal/observability"
)

// DefaultSubject is used when the configuration names none.
const DefaultSubject = "rsjbuild.release"

// Release is the announcement payload.
type Release struct {
	BuildID   string    `json:"build_id"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Commit    string    `json:"commit"`
	Platform  string    `json:"platform"`
	Artifacts []string  `json:"artifacts"`
	Timestamp time.Time `json:"timestamp"`
}

// Conn is the subset of a NATS connection used for publishing.
type Conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// Notifier publishes release announcements.
type Notifier struct {
	conn    Conn
	subject string
}

// Connect opens a NATS connection for cfg. The credentials file, when configured, is looked
// up in secrets.
func Connect(cfg config.NotifyConfig, secrets config.Secrets) (*Notifier, error) {
	opts := []nats.Option{nats.Name("rsjbuild"), nats.Timeout(10 * time.Second)}
	if cfg.CredsSecret != "" {
		creds, ok := secrets.Lookup(cfg.CredsSecret)
		if !ok || creds == "" {
			return nil, ferrors.ConfigError("NATS credentials secret is not set").
				WithContext("secret", cfg.CredsSecret).Build()
		}
		opts = append(opts, nats.UserCredentials(creds))
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, ferrors.NetworkError("connect to NATS").WithCause(err).WithContext("url", cfg.URL).Build()
	}
	return New(conn, cfg.Subject), nil
}

// New wraps an existing connection.
func New(conn Conn, subject string) *Notifier {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Notifier{conn: conn, subject: subject}
}

// Announce publishes r and waits until the server has received it.
func (n *Notifier) Announce(ctx context.Context, r Release) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(r)
	if err != nil {
		return ferrors.InternalError("marshal release").WithCause(err).Build()
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return ferrors.NetworkError("publish release").WithCause(err).WithContext("subject", n.subject).Build()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := n.conn.FlushWithContext(ctx); err != nil {
		return ferrors.NetworkError("flush release announcement").WithCause(err).Build()
	}
	observability.InfoContext(ctx, "Announced release",
		logfields.Subject(n.subject), logfields.Version(r.Version), logfields.Count(len(r.Artifacts)))
	return nil
}

// Close closes the connection.
func (n *Notifier) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}
