// Package api exposes a small local REST interface in place of the original
// graphical front-end: read and update the rewrite policy at runtime and
// inspect tracked torrent sessions.
package api

import (
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/AlwaysKaffa/ratioghost/adapter"
	C "github.com/AlwaysKaffa/ratioghost/constant"
	"github.com/AlwaysKaffa/ratioghost/log"
	"github.com/AlwaysKaffa/ratioghost/option"
	"github.com/AlwaysKaffa/ratioghost/policy"
	"github.com/AlwaysKaffa/ratioghost/session"

	E "github.com/sagernet/sing/common/exceptions"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sagernet/cors"
)

var _ adapter.Service = (*Server)(nil)

type Server struct {
	logger     log.Logger
	policy     *policy.Manager
	sessions   *session.Store
	httpServer *http.Server
}

func NewServer(logger log.Logger, options option.APIOptions, policyManager *policy.Manager, sessionStore *session.Store) *Server {
	server := &Server{
		logger:   logger,
		policy:   policyManager,
		sessions: sessionStore,
	}
	chiRouter := chi.NewRouter()
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "PUT"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	})
	chiRouter.Use(corsMiddleware.Handler)
	chiRouter.Get("/", hello)
	chiRouter.Get("/version", version)
	chiRouter.Get("/policy", server.getPolicy)
	chiRouter.Put("/policy", server.updatePolicy)
	chiRouter.Get("/sessions", server.getSessions)
	server.httpServer = &http.Server{
		Addr:    options.Listen,
		Handler: chiRouter,
	}
	return server
}

func (s *Server) Start() error {
	if s.httpServer.Addr == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return E.Cause(err, "control api listen error")
	}
	s.logger.Info("control api listening at ", listener.Addr())
	go func() {
		sErr := s.httpServer.Serve(listener)
		if sErr != nil && !errors.Is(sErr, http.ErrServerClosed) {
			s.logger.Error(E.Cause(sErr, "control api serve error"))
		}
	}()
	return nil
}

func (s *Server) Close() error {
	return s.httpServer.Close()
}

func hello(writer http.ResponseWriter, request *http.Request) {
	render.JSON(writer, request, render.M{"hello": "ratioghost"})
}

func version(writer http.ResponseWriter, request *http.Request) {
	render.JSON(writer, request, render.M{"version": C.Version})
}

func (s *Server) getPolicy(writer http.ResponseWriter, request *http.Request) {
	render.JSON(writer, request, s.policy.Snapshot())
}

func (s *Server) updatePolicy(writer http.ResponseWriter, request *http.Request) {
	snapshot := s.policy.Snapshot()
	newPolicy := snapshot
	err := render.DecodeJSON(request.Body, &newPolicy)
	if err != nil {
		render.Status(request, http.StatusBadRequest)
		render.JSON(writer, request, render.M{"message": err.Error()})
		return
	}
	// The socket is bound once at startup.
	newPolicy.ListenPort = snapshot.ListenPort
	s.policy.Apply(newPolicy)
	render.NoContent(writer, request)
}

type sessionSchema struct {
	InfoHash   string    `json:"info_hash"`
	PeerID     string    `json:"peer_id"`
	Uploaded   uint64    `json:"uploaded"`
	Downloaded uint64    `json:"downloaded"`
	Left       uint64    `json:"left"`
	LastEvent  string    `json:"last_event"`
	LastSeen   time.Time `json:"last_seen"`
	Seeders    int64     `json:"seeders"`
	Leechers   int64     `json:"leechers"`
	Interval   int64     `json:"interval"`
}

func (s *Server) getSessions(writer http.ResponseWriter, request *http.Request) {
	entries := s.sessions.Snapshot()
	sessions := make([]sessionSchema, 0, len(entries))
	for _, entry := range entries {
		sessions = append(sessions, sessionSchema{
			InfoHash:   hex.EncodeToString(entry.Key.InfoHash[:]),
			PeerID:     hex.EncodeToString(entry.Key.PeerID[:]),
			Uploaded:   entry.Session.Uploaded,
			Downloaded: entry.Session.Downloaded,
			Left:       entry.Session.Left,
			LastEvent:  entry.Session.LastEvent.String(),
			LastSeen:   entry.Session.LastSeen,
			Seeders:    entry.Session.Seeders,
			Leechers:   entry.Session.Leechers,
			Interval:   entry.Session.Interval,
		})
	}
	render.JSON(writer, request, sessions)
}
