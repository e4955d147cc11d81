// server/server.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/rpc"
	"strconv"
	"time"

	"github.com/mmp/tmcsim/cmsdb"
	"github.com/mmp/tmcsim/log"
	"github.com/mmp/tmcsim/sim"
	"github.com/mmp/tmcsim/util"

	"github.com/caarlos0/env/v11"
	"golang.org/x/sync/errgroup"
)

// Version history
// 1: initial control interface
// 2: GetUpdates returns sim.Event; Connect reports the Paramics status
// 3: LoadScript, CompleteEvent, GetTriggeredEvents
const TMCSimRPCVersion = 3

const (
	DefaultRPCPort  = 4440 + TMCSimRPCVersion
	DefaultCADPort  = 4444
	DefaultHTTPPort = 6502
)

// Config holds the coordinator's settings. Each may be given in the
// environment; flags registered with RegisterFlags override it.
type Config struct {
	// Port is the RPC control port; 0 picks a free one.
	Port int `env:"TMCSIM_PORT"          envDefault:"4443"`
	// CADPort is where CAD terminals connect; 0 picks a free one.
	CADPort int `env:"TMCSIM_CAD_PORT"      envDefault:"4444"`
	// HTTPPort serves the status page; negative disables it.
	HTTPPort int `env:"TMCSIM_HTTP_PORT"     envDefault:"6502"`

	// CMSDB is the path of the CMS diversion database; empty for an
	// in-memory database.
	CMSDB string `env:"TMCSIM_CMS_DB"`
	// CMSXML, if set, is a diversion file imported at startup.
	CMSXML string `env:"TMCSIM_CMS_XML"`
	// Script, if set, is loaded at startup.
	Script string `env:"TMCSIM_SCRIPT"`

	SyncInterval    time.Duration `env:"TMCSIM_SYNC_INTERVAL"    envDefault:"30s"`
	DeliveryTimeout time.Duration `env:"TMCSIM_DELIVERY_TIMEOUT" envDefault:"5s"`
	MaxBacklog      int           `env:"TMCSIM_MAX_BACKLOG"      envDefault:"1000"`
	ManagerMailbox  int           `env:"TMCSIM_MANAGER_MAILBOX"  envDefault:"1000"`

	// ManualClock stops the clock from advancing on its own; used by
	// tests.
	ManualClock bool
}

// ConfigFromEnv returns the configuration given by the environment, with
// defaults for anything unset.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// RegisterFlags adds flags for the configuration to fs, with the current
// values as their defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Port, "port", c.Port, "RPC control port")
	fs.IntVar(&c.CADPort, "cadport", c.CADPort, "CAD terminal port")
	fs.IntVar(&c.HTTPPort, "httpport", c.HTTPPort, "HTTP status port (negative to disable)")
	fs.StringVar(&c.CMSDB, "cmsdb", c.CMSDB, "CMS diversion database")
	fs.StringVar(&c.CMSXML, "cmsxml", c.CMSXML, "CMS diversion XML file to import")
	fs.StringVar(&c.Script, "script", c.Script, "script to load at startup")
	fs.DurationVar(&c.SyncInterval, "sync", c.SyncInterval, "ATMS synchronization interval")
}

// Server is a running coordinator along with the listeners through
// which it is reached.
type Server struct {
	config Config
	coord  *sim.Coordinator
	cms    *cmsdb.DB
	sm     *SessionManager

	rpcListener  net.Listener
	cadListener  net.Listener
	httpListener net.Listener

	lg *log.Logger
}

// NewServer creates the coordinator and opens the server's listeners.
// Problems with the configuration are reported together.
func NewServer(config Config, lg *log.Logger) (*Server, error) {
	var e util.ErrorLogger

	db, err := cmsdb.Open(config.CMSDB, lg)
	if err != nil {
		return nil, err
	}
	if config.CMSXML != "" {
		if n, err := db.LoadXMLFile(context.Background(), config.CMSXML); err != nil {
			e.Error(err)
		} else {
			lg.Info("imported CMS diversions", slog.String("file", config.CMSXML), slog.Int("signs", n))
		}
	}

	s := &Server{config: config, cms: db, lg: lg}

	listen := func(port int) net.Listener {
		l, err := net.Listen("tcp", ":"+strconv.Itoa(port))
		if err != nil {
			e.Error(err)
		}
		return l
	}
	s.rpcListener = listen(config.Port)
	s.cadListener = listen(config.CADPort)
	if config.HTTPPort >= 0 {
		s.httpListener = listen(config.HTTPPort)
	}

	if e.HaveErrors() {
		s.closeListeners()
		db.Close()
		return nil, errors.New(e.String())
	}

	s.coord = sim.NewCoordinator(sim.CoordinatorOptions{
		ManualClock:     config.ManualClock,
		CMS:             db,
		DeliveryTimeout: config.DeliveryTimeout,
		MaxBacklog:      config.MaxBacklog,
		SyncInterval:    config.SyncInterval,
	}, lg)
	s.sm = NewSessionManager(s.coord, config.ManagerMailbox, lg)

	if config.Script != "" {
		if err := s.coord.LoadScriptFile(config.Script); err != nil {
			// The coordinator starts without a script; one can be
			// loaded later.
			lg.Error("unable to load script", slog.String("script", config.Script), slog.Any("error", err))
		}
	}
	return s, nil
}

func (s *Server) closeListeners() {
	for _, l := range []net.Listener{s.rpcListener, s.cadListener, s.httpListener} {
		if l != nil {
			l.Close()
		}
	}
}

func (s *Server) RPCAddr() net.Addr { return s.rpcListener.Addr() }
func (s *Server) CADAddr() net.Addr { return s.cadListener.Addr() }

func (s *Server) Coordinator() *sim.Coordinator { return s.coord }

// Run serves control connections, CAD terminals and the status page
// until ctx is canceled or one of them fails.
func (s *Server) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error { return s.serveRPC() })
	eg.Go(func() error { return s.serveCAD() })
	if s.httpListener != nil {
		eg.Go(func() error { return s.serveHTTP(ctx) })
	}
	eg.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				s.sm.CullIdleManagers()
			}
		}
	})
	eg.Go(func() error {
		<-ctx.Done()
		s.closeListeners()
		s.sm.Close()
		return nil
	})

	err := eg.Wait()
	s.coord.Close()
	s.cms.Close()
	if ctx.Err() != nil && errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (s *Server) serveRPC() error {
	server := rpc.NewServer()
	if err := server.RegisterName("Control", &dispatcher{sm: s.sm}); err != nil {
		return fmt.Errorf("unable to register control service: %w", err)
	}

	s.lg.Infof("Listening for control connections on %s", s.rpcListener.Addr())
	for {
		conn, err := s.rpcListener.Accept()
		if err != nil {
			return err
		}
		s.lg.Infof("%s: new control connection", conn.RemoteAddr())

		if cc, err := util.MakeCompressedConn(util.MakeLoggingConn(conn, s.lg)); err != nil {
			s.lg.Errorf("MakeCompressedConn: %v", err)
			conn.Close()
		} else {
			codec := util.MakeMessagepackServerCodec(cc, s.lg)
			codec = util.MakeLoggingServerCodec(conn.RemoteAddr().String(), codec, s.lg)
			go server.ServeCodec(codec)
		}
	}
}

func (s *Server) serveCAD() error {
	s.lg.Infof("Listening for CAD terminals on %s", s.cadListener.Addr())
	for {
		conn, err := s.cadListener.Accept()
		if err != nil {
			return err
		}
		s.lg.Infof("%s: new CAD terminal connection", conn.RemoteAddr())
		go s.sm.ServeTerminal(conn)
	}
}

func (s *Server) serveHTTP(ctx context.Context) error {
	srv := &http.Server{Handler: s.sm.httpHandler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.lg.Infof("Launching HTTP server on %s", s.httpListener.Addr())
	if err := srv.Serve(s.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// LaunchServer runs a coordinator with the given configuration until ctx
// is canceled.
func LaunchServer(ctx context.Context, config Config, lg *log.Logger) error {
	util.MonitorCPUUsage(95, false /* don't panic if wedged */, lg)
	util.MonitorMemoryUsage(128 /* trigger MB */, 64 /* delta MB */, lg)

	s, err := NewServer(config, lg)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}
