// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/Query-farm/tickq/conformance"
	"go.uber.org/zap"
)

type stdio struct {
	io.Reader
	io.Writer
}

func main() {
	service := conformance.NewService(conformance.SampleTape())
	if logger, err := zap.NewDevelopment(); err == nil {
		service.SetLogger(logger)
		defer logger.Sync()
	}

	var (
		listener net.Listener
		err      error
		path     string
	)
	switch {
	case len(os.Args) > 1 && os.Args[1] == "--tcp":
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to listen: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("PORT:%d\n", listener.Addr().(*net.TCPAddr).Port)
	case len(os.Args) > 2 && os.Args[1] == "--unix":
		path = os.Args[2]
		os.Remove(path)
		listener, err = net.Listen("unix", path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to listen on unix socket: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("UNIX:%s\n", path)
	default:
		// One request on stdin, its response on stdout.
		if err := service.ServeConn(stdio{os.Stdin, os.Stdout}); err != nil {
			fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
			os.Exit(1)
		}
		return
	}
	os.Stdout.Sync()

	// Catch SIGTERM/SIGINT so the process exits cleanly and flushes
	// coverage data when built with -cover.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		listener.Close()
	}()

	if err := service.Serve(listener); err != nil {
		fmt.Fprintf(os.Stderr, "serve error: %v\n", err)
		os.Exit(1)
	}
	if path != "" {
		os.Remove(path)
	}
}
