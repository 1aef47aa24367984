package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wasihttpd/bridge"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type serveOptions struct {
	addr      string
	component string
	logLevel  string
	bufLimit  int
}

// NewRootCmd returns the wasihttpd CLI: a single root command that
// loads a guest component and starts the bridge's HTTP listener.
func NewRootCmd() *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "wasihttpd",
		Short: "Run a WASI HTTP guest component behind a native HTTP listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:3000", "address to listen on")
	cmd.Flags().StringVar(&opts.component, "component", "./component.wasm", "path to the guest's compiled core module")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	cmd.Flags().IntVar(&opts.bufLimit, "buf-limit", 0, "override the outgoing body buffer bound; 0 selects the default")
	return cmd
}

func runServe(opts serveOptions) error {
	log := logrus.New()
	level, err := logrus.ParseLevel(opts.logLevel)
	if err != nil {
		return fmt.Errorf("parsing --log-level: %w", err)
	}
	log.SetLevel(level)

	guest, err := bridge.LoadWasmGuest(opts.component)
	if err != nil {
		return fmt.Errorf("loading guest component: %w", err)
	}

	orchestrator := bridge.NewOrchestrator(guest, opts.bufLimit, log)
	server := &http.Server{
		Addr:              opts.addr,
		Handler:           orchestrator,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.WithFields(logrus.Fields{"addr": opts.addr, "component": opts.component}).Info("listening")
	return server.ListenAndServe()
}
