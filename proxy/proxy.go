package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/AlwaysKaffa/ratioghost/adapter"
	C "github.com/AlwaysKaffa/ratioghost/constant"
	"github.com/AlwaysKaffa/ratioghost/log"
	"github.com/AlwaysKaffa/ratioghost/option"
	"github.com/AlwaysKaffa/ratioghost/policy"
	"github.com/AlwaysKaffa/ratioghost/session"

	E "github.com/sagernet/sing/common/exceptions"
)

var _ adapter.Service = (*Proxy)(nil)

// Proxy owns the listening socket and runs the announce pipeline: parse,
// session lookup, policy rewrite, upstream forward, verbatim relay. Each
// connection is handled independently; a stalled tracker for one torrent
// never blocks another torrent's announce.
type Proxy struct {
	logger      log.ContextLogger
	policy      *policy.Manager
	sessions    *session.Store
	forwarder   *Forwarder
	listen      string
	listenPort  uint16
	gracePeriod time.Duration
	httpServer  *http.Server
	listener    net.Listener
}

type Options struct {
	Logger        log.ContextLogger
	PolicyManager *policy.Manager
	SessionStore  *session.Store
	ListenOptions option.ListenOptions

	// Zero values select the defaults from constant.
	UpstreamTimeout time.Duration
	GracePeriod     time.Duration
}

func New(options Options) *Proxy {
	listen := options.ListenOptions.Listen
	if listen == "" {
		listen = C.DefaultListenAddress
	}
	listenPort := options.PolicyManager.Snapshot().ListenPort
	if listenPort == 0 {
		listenPort = options.ListenOptions.ListenPort
	}
	if listenPort == 0 {
		listenPort = C.DefaultListenPort
	}
	gracePeriod := options.GracePeriod
	if gracePeriod == 0 {
		gracePeriod = C.ShutdownGracePeriod
	}
	proxy := &Proxy{
		logger:      options.Logger,
		policy:      options.PolicyManager,
		sessions:    options.SessionStore,
		forwarder:   NewForwarder(options.UpstreamTimeout),
		listen:      listen,
		listenPort:  listenPort,
		gracePeriod: gracePeriod,
	}
	proxy.httpServer = &http.Server{
		Handler:           proxy,
		ReadHeaderTimeout: C.ReadHeaderTimeout,
	}
	return proxy
}

func (p *Proxy) Start() error {
	listener, err := net.Listen("tcp", net.JoinHostPort(p.listen, strconv.Itoa(int(p.listenPort))))
	if err != nil {
		return E.Cause(err, "listen at ", p.listen, ":", p.listenPort)
	}
	p.serve(listener)
	return nil
}

func (p *Proxy) serve(listener net.Listener) {
	p.listener = listener
	p.logger.Info("announce proxy listening at ", listener.Addr())
	go func() {
		sErr := p.httpServer.Serve(listener)
		if sErr != nil && !errors.Is(sErr, http.ErrServerClosed) {
			p.logger.Error(E.Cause(sErr, "serve announce proxy"))
		}
	}()
}

// Addr reports the bound listener address, nil before Start.
func (p *Proxy) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Close stops accepting new connections immediately, then gives in-flight
// announces a bounded grace period before forcing their connections down.
func (p *Proxy) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.gracePeriod)
	defer cancel()
	err := p.httpServer.Shutdown(ctx)
	if err != nil {
		p.logger.Warn("grace period expired, aborting in-flight announces")
		return p.httpServer.Close()
	}
	return nil
}
