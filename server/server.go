// Package server exposes a Luau VM over RPC and LSP. All VM access goes
// through a VMWorker, which owns the VM on a single goroutine.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/luau/chunk"
	"github.com/chazu/luau/compiler"
	"github.com/chazu/luau/vm"
)

var log = commonlog.GetLogger("luau.server")

// Config configures a Server.
type Config struct {
	VM       vm.Config
	Compiler compiler.Options

	// Cache, when set, memoizes compiled eval sources.
	Cache *chunk.Store

	// HandleTTL drops handles idle for longer; SweepInterval is how often
	// that is checked. Zero values use 30 and 5 minutes.
	HandleTTL     time.Duration
	SweepInterval time.Duration
}

// Server wraps a running VM. It serves Connect (HTTP/JSON), gRPC and
// gRPC-Web on one HTTP mux, and plain gRPC through GRPCServer.
type Server struct {
	worker   *VMWorker
	handles  *HandleStore
	sessions *SessionStore
	eval     *EvalService
	mux      *http.ServeMux
	grpc     *grpc.Server

	// httpServer is built by New and never reassigned, so Stop can run
	// concurrently with ListenAndServe.
	httpServer  *http.Server
	stopSweeper func()
}

// New creates a Server with a fresh VM.
func New(cfg Config) (*Server, error) {
	if err := cfg.Compiler.Validate(); err != nil {
		return nil, err
	}
	worker, err := NewVMWorker(cfg.VM)
	if err != nil {
		return nil, err
	}
	handles := NewHandleStore(worker)
	sessions := NewSessionStore(worker, handles)

	s := &Server{
		worker:   worker,
		handles:  handles,
		sessions: sessions,
		eval:     NewEvalService(worker, handles, sessions, cfg.Compiler, cfg.Cache),
		mux:      http.NewServeMux(),
		grpc:     grpc.NewServer(),
	}
	s.httpServer = &http.Server{Handler: s.mux}

	for proc, h := range s.eval.procedures() {
		s.mux.Handle(proc, connect.NewUnaryHandler(proc, connectUnary(h)))
	}
	if err := RegisterEvalService(s.grpc, s.eval); err != nil {
		worker.Stop()
		return nil, err
	}

	ttl, interval := cfg.HandleTTL, cfg.SweepInterval
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	s.stopSweeper = handles.StartSweeper(interval, ttl)

	return s, nil
}

func connectUnary(h structHandler) func(context.Context, *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	return func(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
		out, err := h(ctx, req.Msg)
		if err != nil {
			return nil, err
		}
		return connect.NewResponse(out), nil
	}
}

// Handler returns the HTTP handler serving the Connect endpoints.
func (s *Server) Handler() http.Handler { return s.mux }

// GRPCServer returns the gRPC server carrying the same service.
func (s *Server) GRPCServer() *grpc.Server { return s.grpc }

// Worker returns the worker that owns the VM.
func (s *Server) Worker() *VMWorker { return s.worker }

// Eval returns the evaluation service.
func (s *Server) Eval() *EvalService { return s.eval }

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port". It returns
// http.ErrServerClosed after Stop, even when Stop came first.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Noticef("luau server listening on %s", lis.Addr())
	log.Infof("  Connect (HTTP/JSON): http://%s%s", lis.Addr(), EvaluateProcedure)
	return s.httpServer.Serve(lis)
}

// ServeGRPC serves plain gRPC on lis until Stop.
func (s *Server) ServeGRPC(lis net.Listener) error {
	log.Noticef("luau gRPC listening on %s", lis.Addr())
	return s.grpc.Serve(lis)
}

// Stop shuts down the listeners, the sweeper and the VM.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.httpServer.Shutdown(ctx)
	s.grpc.Stop()
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	s.worker.Stop()
}
