package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zeusync/crowdsim/internal/core/observability/log"
)

// FeedALPN identifies the QUIC notification feed protocol.
const FeedALPN = "crowdsim-feed"

// QUICFeed streams the same frames as the websocket feed over QUIC. Each
// accepted connection gets one server-opened uni stream carrying
// newline-delimited JSON.
type QUICFeed struct {
	log  log.Log
	hub  *Hub
	addr string

	ln *quic.Listener
	wg sync.WaitGroup
}

func NewQUICFeed(addr string, hub *Hub, lg log.Log) *QUICFeed {
	return &QUICFeed{
		log:  lg.With(log.String("component", "quic_feed")),
		hub:  hub,
		addr: addr,
	}
}

// Listen binds the UDP socket with a fresh self-signed certificate.
func (f *QUICFeed) Listen() error {
	tlsConf, err := SelfSignedTLS()
	if err != nil {
		return err
	}
	ln, err := quic.ListenAddr(f.addr, tlsConf, &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 15 * time.Second,
	})
	if err != nil {
		return err
	}
	f.ln = ln
	f.log.Info("quic feed listening", log.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, nil before Listen.
func (f *QUICFeed) Addr() net.Addr {
	if f.ln == nil {
		return nil
	}
	return f.ln.Addr()
}

// Serve accepts connections until the listener closes.
func (f *QUICFeed) Serve(ctx context.Context) error {
	for {
		conn, err := f.ln.Accept(ctx)
		if err != nil {
			f.wg.Wait()
			if errors.Is(err, quic.ErrServerClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		f.wg.Add(1)
		go f.serveConn(ctx, conn)
	}
}

func (f *QUICFeed) serveConn(ctx context.Context, conn *quic.Conn) {
	defer f.wg.Done()
	defer func() { _ = conn.CloseWithError(0, "feed closed") }()

	stream, err := conn.OpenUniStreamSync(ctx)
	if err != nil {
		f.log.Warn("quic feed stream open failed", log.Error(err))
		return
	}

	ch, cancel := f.hub.Subscribe()
	defer cancel()

	f.log.Info("quic feed subscriber connected",
		log.String("remote_addr", conn.RemoteAddr().String()),
	)

	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				return
			}
			if _, err = stream.Write(append(frame, '\n')); err != nil {
				return
			}
		case <-conn.Context().Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

// Close stops accepting and waits for per-connection goroutines.
func (f *QUICFeed) Close() error {
	if f.ln == nil {
		return nil
	}
	err := f.ln.Close()
	f.wg.Wait()
	return err
}

// SelfSignedTLS generates a throwaway localhost certificate for the feed.
// Production deployments should terminate with a real certificate instead.
func SelfSignedTLS() (*tls.Config, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"crowdsim"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:              []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{certDER},
			PrivateKey:  privateKey,
		}},
		NextProtos: []string{FeedALPN},
		MinVersion: tls.VersionTLS13,
	}, nil
}
