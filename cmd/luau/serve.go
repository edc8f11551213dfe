package main

import (
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/chazu/luau/chunk"
	"github.com/chazu/luau/server"
)

// runServer starts the Eval service and blocks until interrupted.
func runServer(s *settings, addr, grpcAddr string) {
	store, err := openCache(s)
	if err != nil {
		fatalf("Error: %v", err)
	}

	srv, err := server.New(server.Config{
		VM:       s.vmConfig(),
		Compiler: s.options,
		Cache:    store,
	})
	if err != nil {
		fatalf("Error: %v", err)
	}

	if grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			fatalf("Error: %v", err)
		}
		go func() {
			if err := srv.ServeGRPC(lis); err != nil {
				errColor.Fprintf(os.Stderr, "gRPC server error: %v\n", err)
			}
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		srv.Stop()
	}()

	err = srv.ListenAndServe(addr)
	closeCache(store)
	if err != nil && !isServerClosed(err) {
		fatalf("Server error: %v", err)
	}
}

// runLSP serves the language server on stdio.
func runLSP(s *settings) {
	worker, err := server.NewVMWorker(s.vmConfig())
	if err != nil {
		fatalf("Error: %v", err)
	}
	if err := server.NewLSP(worker, s.options).Run(); err != nil {
		fatalf("LSP error: %v", err)
	}
	worker.Stop()
}

func closeCache(store *chunk.Store) {
	if store != nil {
		store.Close()
	}
}

func isServerClosed(err error) bool {
	return errors.Is(err, http.ErrServerClosed)
}
