package ratioghost

import (
	"time"

	"github.com/AlwaysKaffa/ratioghost/adapter"
	"github.com/AlwaysKaffa/ratioghost/api"
	C "github.com/AlwaysKaffa/ratioghost/constant"
	"github.com/AlwaysKaffa/ratioghost/log"
	"github.com/AlwaysKaffa/ratioghost/option"
	"github.com/AlwaysKaffa/ratioghost/policy"
	"github.com/AlwaysKaffa/ratioghost/proxy"
	"github.com/AlwaysKaffa/ratioghost/session"

	"github.com/sagernet/sing/common"
	E "github.com/sagernet/sing/common/exceptions"
	F "github.com/sagernet/sing/common/format"
)

var _ adapter.Service = (*Ghost)(nil)

// Ghost assembles the announce proxy: log factory, policy manager, session
// store, listener, control API and config watcher, started and torn down as
// one unit.
type Ghost struct {
	createdAt  time.Time
	logFactory log.Factory
	logger     log.ContextLogger
	policy     *policy.Manager
	sessions   *session.Store
	proxy      *proxy.Proxy
	api        *api.Server
	watcher    *policy.Watcher
}

type Options struct {
	option.Options

	// ConfigPath, when set, is watched for live policy updates.
	ConfigPath string
}

func New(options Options) (*Ghost, error) {
	createdAt := time.Now()
	logFactory, err := log.New(log.Options{
		Options:  common.PtrValueOrDefault(options.Log),
		BaseTime: createdAt,
	})
	if err != nil {
		return nil, E.Cause(err, "create log factory")
	}
	listenOptions := common.PtrValueOrDefault(options.Listen)
	policyOptions := common.PtrValueOrDefault(options.Policy)
	listenPort := listenOptions.ListenPort
	if listenPort == 0 {
		listenPort = C.DefaultListenPort
	}
	policyManager := policy.NewManager(logFactory.NewLogger("policy"), policy.RewritePolicy{
		ListenPort:         listenPort,
		ReportZeroDownload: policyOptions.ReportZeroDownload,
		PretendSeed:        policyOptions.PretendSeed,
	})
	sessionStore := session.NewStore()
	announceProxy := proxy.New(proxy.Options{
		Logger:        logFactory.NewLogger("proxy"),
		PolicyManager: policyManager,
		SessionStore:  sessionStore,
		ListenOptions: listenOptions,
	})
	ghost := &Ghost{
		createdAt:  createdAt,
		logFactory: logFactory,
		logger:     logFactory.Logger(),
		policy:     policyManager,
		sessions:   sessionStore,
		proxy:      announceProxy,
	}
	apiOptions := common.PtrValueOrDefault(options.API)
	if apiOptions.Listen != "" {
		ghost.api = api.NewServer(logFactory.NewLogger("api"), apiOptions, policyManager, sessionStore)
	}
	if options.ConfigPath != "" {
		watcher, err := policy.NewWatcher(logFactory.NewLogger("config"), policyManager, options.ConfigPath)
		if err != nil {
			return nil, err
		}
		ghost.watcher = watcher
	}
	return ghost, nil
}

func (g *Ghost) Start() error {
	err := g.sessions.Start()
	if err != nil {
		return E.Cause(err, "start session store")
	}
	err = g.proxy.Start()
	if err != nil {
		return E.Cause(err, "start announce proxy")
	}
	if g.api != nil {
		err = g.api.Start()
		if err != nil {
			return E.Cause(err, "start control api")
		}
	}
	if g.watcher != nil {
		err = g.watcher.Start()
		if err != nil {
			return E.Cause(err, "start config watcher")
		}
	}
	g.logger.Info("ratioghost started (", F.Seconds(time.Since(g.createdAt).Seconds()), "s)")
	return nil
}

func (g *Ghost) Close() error {
	var err error
	if g.watcher != nil {
		err = E.Append(err, g.watcher.Close(), func(err error) error {
			return E.Cause(err, "close config watcher")
		})
	}
	if g.api != nil {
		err = E.Append(err, g.api.Close(), func(err error) error {
			return E.Cause(err, "close control api")
		})
	}
	err = E.Append(err, g.proxy.Close(), func(err error) error {
		return E.Cause(err, "close announce proxy")
	})
	err = E.Append(err, g.sessions.Close(), func(err error) error {
		return E.Cause(err, "close session store")
	})
	err = E.Append(err, g.logFactory.Close(), func(err error) error {
		return E.Cause(err, "close logger")
	})
	return err
}

// Policy exposes the policy manager for external collaborators (the control
// API applies updates through it).
func (g *Ghost) Policy() *policy.Manager {
	return g.policy
}

func (g *Ghost) Sessions() *session.Store {
	return g.sessions
}

func (g *Ghost) Proxy() *proxy.Proxy {
	return g.proxy
}
