package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/crowdsim/internal/core/events/bus"
	"github.com/zeusync/crowdsim/internal/core/observability/log"
)

func TestSelfSignedTLSServesLocalhost(t *testing.T) {
	cfg, err := SelfSignedTLS()
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	assert.Equal(t, []string{FeedALPN}, cfg.NextProtos)

	cert, err := x509.ParseCertificate(cfg.Certificates[0].Certificate[0])
	require.NoError(t, err)
	assert.NoError(t, cert.VerifyHostname("localhost"))
	assert.True(t, cert.NotAfter.After(time.Now()))
}

func TestQUICFeedStreamsFrames(t *testing.T) {
	b := bus.New()
	hub, err := NewHub(b, 16, log.NewNop())
	require.NoError(t, err)
	defer hub.Close()

	f := NewQUICFeed("127.0.0.1:0", hub, log.NewNop())
	require.NoError(t, f.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- f.Serve(ctx) }()

	// keep publishing until the connection's subscription is wired; the
	// reader below consumes the first frame that makes it through
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				_ = b.Publish(feedEvent{EventKind: "agent.spawned", AgentID: "a-000001"})
			}
		}
	}()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	conn, err := quic.DialAddr(dialCtx, f.Addr().String(), &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{FeedALPN},
	}, nil)
	require.NoError(t, err)
	defer func() { _ = conn.CloseWithError(0, "test done") }()

	stream, err := conn.AcceptUniStream(dialCtx)
	require.NoError(t, err)

	line, err := bufio.NewReader(stream).ReadBytes('\n')
	require.NoError(t, err)

	var got feedEvent
	require.NoError(t, json.Unmarshal(line, &got))
	assert.Equal(t, "agent.spawned", got.EventKind)
	assert.Equal(t, "a-000001", got.AgentID)

	cancel()
	require.NoError(t, f.Close())
	require.NoError(t, <-served)
}
