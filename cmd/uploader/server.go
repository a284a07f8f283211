//go:build !client

package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	// Packages
	aws "github.com/aws/aws-sdk-go-v2/aws"
	config "github.com/aws/aws-sdk-go-v2/config"
	credentials "github.com/aws/aws-sdk-go-v2/credentials"
	backend "github.com/mutablelogic/go-uploader/pkg/backend"
	httphandler "github.com/mutablelogic/go-uploader/pkg/httphandler"
	manager "github.com/mutablelogic/go-uploader/pkg/manager"
	version "github.com/mutablelogic/go-uploader/pkg/version"
	httprouter "github.com/mutablelogic/go-server/pkg/httprouter"
	httpserver "github.com/mutablelogic/go-server/pkg/httpserver"
	otel "github.com/mutablelogic/go-server/pkg/otel"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type ServerCommands struct {
	Server RunServerCommand `cmd:"" name:"server" help:"Run the upload service." group:"SERVER"`
}

type RunServerCommand struct {
	Addr    string `name:"addr" env:"UPLOADER_ADDR" default:"localhost:8080" help:"Address to listen on"`
	Prefix  string `name:"prefix" default:"/file" help:"Path prefix for the upload endpoints"`
	Origin  string `name:"origin" default:"*" help:"Allowed cross-origin requests"`
	Backend string `name:"backend" env:"UPLOADER_BACKEND" default:"mem://uploads" help:"Backend URL (e.g. mem://name, file://name/path, s3://bucket/prefix)"`

	S3 struct {
		Endpoint  string `name:"endpoint" env:"S3_ENDPOINT" help:"Endpoint for S3-compatible services"`
		Region    string `name:"region" env:"AWS_REGION" help:"AWS region"`
		Profile   string `name:"profile" env:"AWS_PROFILE" help:"AWS shared config profile"`
		AccessKey string `name:"access-key" env:"AWS_ACCESS_KEY_ID" help:"Static access key"`
		SecretKey string `name:"secret-key" env:"AWS_SECRET_ACCESS_KEY" help:"Static secret key"`
		Anonymous bool   `name:"anonymous" help:"Use anonymous credentials"`
	} `embed:"" prefix:"s3-"`
}

///////////////////////////////////////////////////////////////////////////////
// COMMANDS

func (cmd *RunServerCommand) Run(app *Globals) error {
	opts, err := cmd.backendOpts(app.ctx)
	if err != nil {
		return err
	}

	// Create manager with the backend
	mgr, err := manager.New(app.ctx,
		manager.WithLogger(app.logger),
		manager.WithBackend(app.ctx, cmd.Backend, opts...),
	)
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}
	defer mgr.Close()

	return cmd.serve(app, mgr)
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (cmd *RunServerCommand) backendOpts(ctx context.Context) ([]backend.Opt, error) {
	switch {
	case strings.HasPrefix(cmd.Backend, "file://"):
		return []backend.Opt{backend.WithCreateDir()}, nil
	case !strings.HasPrefix(cmd.Backend, "s3://"):
		return nil, nil
	}

	// Load the AWS configuration, with static credentials when provided
	cfgOpts := []func(*config.LoadOptions) error{}
	if cmd.S3.Region != "" {
		cfgOpts = append(cfgOpts, config.WithRegion(cmd.S3.Region))
	}
	if cmd.S3.Profile != "" {
		cfgOpts = append(cfgOpts, config.WithSharedConfigProfile(cmd.S3.Profile))
	}
	if cmd.S3.AccessKey != "" {
		cfgOpts = append(cfgOpts, config.WithCredentialsProvider(
			aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(cmd.S3.AccessKey, cmd.S3.SecretKey, "")),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	opts := []backend.Opt{backend.WithAWSConfig(cfg)}
	if cmd.S3.Endpoint != "" {
		opts = append(opts, backend.WithEndpoint(cmd.S3.Endpoint))
	}
	if cmd.S3.Anonymous {
		opts = append(opts, backend.WithAnonymous())
	}
	return opts, nil
}

// serve registers HTTP handlers and runs the server until the context is done
func (cmd *RunServerCommand) serve(app *Globals, mgr *manager.Manager) error {
	// Create the server and bind the listener
	srv, err := httpserver.New(cmd.Addr, nil)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if err := srv.Listen(); err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	// Create the router, logging each request
	router, err := newRouter(app, srv.Router(), srv.URL().Host, cmd.Prefix, cmd.Origin)
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}

	// Register upload HTTP handlers
	if err := httphandler.RegisterHandlers(mgr, router); err != nil {
		return fmt.Errorf("failed to register handlers: %w", err)
	}
	srv.SetHandler(router)

	app.logger.Info("started", "version", version.Version(), "url", srv.URL().String(), "backend", mgr.Backend().URL().String())
	if err := srv.Run(app.ctx); err != nil {
		return err
	}
	app.logger.Info("stopped")
	return nil
}

// newRouter returns a router on mux with the request logging middleware
func newRouter(app *Globals, mux *http.ServeMux, host, prefix, origin string) (*httprouter.Router, error) {
	middleware := []httprouter.HTTPMiddlewareFunc{
		otel.HTTPHandlerFunc(host, app.logger),
	}
	return httprouter.NewRouter(app.ctx, mux, prefix, origin, "uploader", version.Version(), middleware...)
}
