package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Packages
	kong "github.com/alecthomas/kong"
	client "github.com/mutablelogic/go-client"
	logger "github.com/mutablelogic/go-server/pkg/logger"
	httpclient "github.com/mutablelogic/go-uploader/pkg/httpclient"
	version "github.com/mutablelogic/go-uploader/pkg/version"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type Globals struct {
	Endpoint string        `env:"UPLOADER_ENDPOINT" default:"http://localhost:8080/file" help:"Upload service endpoint"`
	Debug    bool          `help:"Enable debug output"`
	Trace    bool          `help:"Trace HTTP requests to stderr"`
	HTTP1    bool          `name:"http1" env:"UPLOADER_HTTP1" help:"Disable HTTP/2 for requests to the service"`
	Timeout  time.Duration `default:"30s" help:"Timeout for requests other than uploads (zero disables)"`

	vars   kong.Vars `kong:"-"` // Variables for kong
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func NewApp(app Globals, vars kong.Vars) *Globals {
	// Set the vars
	app.vars = vars

	// Create the logger
	app.logger = newLogger(os.Stderr, app.Debug)

	// Create the context
	// This context is cancelled when the process receives a SIGINT or SIGTERM
	app.ctx, app.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	// Return the app
	return &app
}

func (app *Globals) Close() error {
	app.cancel()
	return nil
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Client builds an upload service client from the global flags.
func (app *Globals) Client() (*httpclient.Client, error) {
	opts := []client.ClientOpt{
		client.OptUserAgent(version.Get(app.vars["EXEC"]).String()),
	}
	// OptHTTP1 replaces the transport, so it goes before OptTrace wraps it
	if app.HTTP1 {
		opts = append(opts, httpclient.OptHTTP1())
	}
	if app.Trace {
		opts = append(opts, client.OptTrace(os.Stderr, false))
	}
	if app.Timeout > 0 {
		opts = append(opts, client.OptTimeout(app.Timeout))
	}
	return httpclient.New(app.Endpoint, opts...)
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// newLogger returns a terminal logger at info level, or debug level
func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := new(slog.LevelVar)
	if debug {
		level.Set(slog.LevelDebug)
	}
	return slog.New(logger.NewTermHandler(w, level))
}
