package intercept

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/snigate/snigate/internal/errx"
	"github.com/snigate/snigate/pkg/api"
	"github.com/snigate/snigate/pkg/certauth"
)

// AcceptedConn is a fully handshaked connection handed to the
// downstream handler.
type AcceptedConn struct {
	TLS         *tls.Conn
	ID          string
	Hostname    string
	PeerAddress string
	ProcessName string
	Port        int
}

// Handler receives ownership of each accepted connection, including
// closing it.
type Handler func(conn *AcceptedConn)

// ProcessResolver maps a peer address to the originating process name.
// Optional; plugged in by deployments that run a local process poller.
type ProcessResolver func(peerAddress string) string

type Options struct {
	Config    *api.Config
	Authority *certauth.Authority
	// Slot is the shared hostname hint. Optional; a fresh slot is used
	// when nil. Inject one to share it with a DNS observer.
	Slot            *HostnameSlot
	Handler         Handler
	ProcessResolver ProcessResolver
	// Records receives one record per accept attempt. Sends never
	// block: a full channel drops the record.
	Records chan<- *api.AcceptRecord
	KeyLog  io.Writer
}

// Manager owns the listening sockets and their accept loops.
type Manager struct {
	cfg          *api.Config
	resolver     *certResolver
	slot         *HostnameSlot
	handler      Handler
	procResolver ProcessResolver
	records      chan<- *api.AcceptRecord
	log          *logrus.Entry

	mu        sync.Mutex
	listeners []net.Listener
	closed    bool
	wg        sync.WaitGroup
}

// NewManager validates the configuration and prepares the certificate
// resolver. Certificate problems in the custom mode surface here, at
// startup, not at the first handshake.
func NewManager(opts Options) (*Manager, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, errx.Wrap(api.ErrInvalidConfig, err)
	}

	slot := opts.Slot
	if slot == nil {
		slot = &HostnameSlot{}
	}
	resolver, err := newCertResolver(opts.Config, opts.Authority, slot, opts.KeyLog)
	if err != nil {
		return nil, err
	}

	handler := opts.Handler
	if handler == nil {
		handler = func(conn *AcceptedConn) { conn.TLS.Close() }
	}

	return &Manager{
		cfg:          opts.Config,
		resolver:     resolver,
		slot:         slot,
		handler:      handler,
		procResolver: opts.ProcessResolver,
		records:      opts.Records,
		log:          logrus.WithField("component", "intercept"),
	}, nil
}

// Start binds every configured port and launches one accept goroutine
// per listener. Any bind failure aborts the whole start; partial
// listening is never left running. Cancelling ctx closes the manager.
func (m *Manager) Start(ctx context.Context) error {
	lc := &net.ListenConfig{Control: reuseAddr}

	for _, port := range m.cfg.ListeningPorts {
		addr := net.JoinHostPort(m.cfg.ListeningInterface, strconv.Itoa(port))
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			m.Close()
			return classifyBindError(err, addr)
		}

		actualPort := port
		if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
			actualPort = tcpAddr.Port
		}

		m.mu.Lock()
		m.listeners = append(m.listeners, ln)
		m.mu.Unlock()

		m.log.WithField("addr", ln.Addr().String()).Info("listening")
		m.wg.Add(1)
		go m.acceptLoop(ln, actualPort)
	}

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			m.Close()
		}()
	}
	return nil
}

// Addrs returns the bound listener addresses, useful with port 0.
func (m *Manager) Addrs() []net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	addrs := make([]net.Addr, 0, len(m.listeners))
	for _, ln := range m.listeners {
		addrs = append(addrs, ln.Addr())
	}
	return addrs
}

func (m *Manager) acceptLoop(ln net.Listener, port int) {
	defer m.wg.Done()
	for {
		raw, err := ln.Accept()
		if err != nil {
			m.mu.Lock()
			closed := m.closed
			m.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return
			}
			m.log.WithError(err).WithField("port", port).Warn("accept failed")
			continue
		}
		go m.handleConn(raw, port)
	}
}

// handleConn drives one connection through the handshake and hands it
// off. Every path, success or failure, emits exactly one record.
func (m *Manager) handleConn(raw net.Conn, port int) {
	rec := &api.AcceptRecord{
		Timestamp:    time.Now(),
		ConnectionID: uuid.NewString(),
		Port:         port,
		PeerAddress:  raw.RemoteAddr().String(),
	}

	if m.cfg.AcceptTimeout > 0 {
		raw.SetDeadline(time.Now().Add(m.cfg.AcceptTimeout))
	}

	conn := tls.Server(raw, &tls.Config{
		GetConfigForClient: m.resolver.GetConfigForClient,
		MinVersion:         tls.VersionTLS12,
	})

	if err := conn.Handshake(); err != nil {
		rec.Hostname = m.bestHostname("")
		rec.ErrorClass = Classify(err)
		rec.Error = err.Error()
		m.log.WithFields(logrus.Fields{
			"hostname":    rec.Hostname,
			"port":        port,
			"error_class": rec.ErrorClass,
			"error":       err.Error(),
		}).Warn("handshake failed")
		m.emit(rec)
		raw.Close()
		return
	}

	if m.cfg.AcceptTimeout > 0 {
		raw.SetDeadline(time.Time{})
	}

	rec.Hostname = m.bestHostname(conn.ConnectionState().ServerName)
	if m.cfg.ResolveProcessNames && m.procResolver != nil {
		rec.ProcessName = m.procResolver(rec.PeerAddress)
	}
	m.emit(rec)
	m.log.WithFields(logrus.Fields{
		"hostname": rec.Hostname,
		"port":     port,
		"peer":     rec.PeerAddress,
	}).Info("connection accepted")

	m.handler(&AcceptedConn{
		TLS:         conn,
		ID:          rec.ConnectionID,
		Hostname:    rec.Hostname,
		PeerAddress: rec.PeerAddress,
		ProcessName: rec.ProcessName,
		Port:        port,
	})
}

// bestHostname prefers the connection's own negotiated name, falls back
// to the shared slot, and lastly the sentinel.
func (m *Manager) bestHostname(negotiated string) string {
	if negotiated != "" {
		return negotiated
	}
	if v := m.slot.Get(); v != "" {
		return v
	}
	return api.HostnameUnknown
}

func (m *Manager) emit(rec *api.AcceptRecord) {
	if m.records == nil {
		return
	}
	select {
	case m.records <- rec:
	default:
		m.log.Debug("records channel full, dropping accept record")
	}
}

func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	listeners := m.listeners
	m.listeners = nil
	m.mu.Unlock()

	for _, ln := range listeners {
		ln.Close()
	}
	m.wg.Wait()
	return nil
}

func classifyBindError(err error, addr string) error {
	switch {
	case errors.Is(err, syscall.EADDRINUSE):
		return errx.With(api.ErrBindAddressInUse, ": %s", addr)
	case errors.Is(err, syscall.EACCES):
		return errx.With(api.ErrBindPermissionDenied, ": %s", addr)
	default:
		return errx.Wrap(api.ErrBind, err)
	}
}
