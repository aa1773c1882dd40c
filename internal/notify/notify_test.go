package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsjsoftware/rsjbuild/internal/config"
	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
)

type fakeConn struct {
	subject  string
	data     []byte
	pubErr   error
	flushErr error
	closed   bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.subject, f.data = subject, data
	return f.pubErr
}

func (f *fakeConn) FlushWithContext(context.Context) error { return f.flushErr }
func (f *fakeConn) Close()                                 { f.closed = true }

func TestAnnounce(t *testing.T) {
	conn := &fakeConn{}
	n := New(conn, "")
	ts := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	err := n.Announce(context.Background(), Release{
		BuildID:   "b-1",
		Name:      "app",
		Version:   "1.02.0003",
		Artifacts: []string{"output/app.zip"},
		Timestamp: ts,
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultSubject, conn.subject)

	var got Release
	require.NoError(t, json.Unmarshal(conn.data, &got))
	assert.Equal(t, "1.02.0003", got.Version)
	assert.Equal(t, []string{"output/app.zip"}, got.Artifacts)
	assert.True(t, ts.Equal(got.Timestamp))

	n.Close()
	assert.True(t, conn.closed)
}

func TestAnnounceFailures(t *testing.T) {
	conn := &fakeConn{pubErr: errors.New("nats: connection closed")}
	err := New(conn, "releases").Announce(context.Background(), Release{Version: "1"})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNetwork))

	conn = &fakeConn{flushErr: context.DeadlineExceeded}
	err = New(conn, "releases").Announce(context.Background(), Release{Version: "1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConnectRequiresCredentialsSecret(t *testing.T) {
	_, err := Connect(config.NotifyConfig{URL: "nats://127.0.0.1:4222", CredsSecret: "NATS_CREDS"}, config.NewSecrets(nil))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}
