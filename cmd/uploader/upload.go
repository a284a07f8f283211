package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	// Packages
	units "github.com/docker/go-units"
	chunk "github.com/mutablelogic/go-uploader/pkg/chunk"
	httpclient "github.com/mutablelogic/go-uploader/pkg/httpclient"
	schema "github.com/mutablelogic/go-uploader/pkg/schema"
	uploader "github.com/mutablelogic/go-uploader/pkg/uploader"
	errgroup "golang.org/x/sync/errgroup"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type UploadCommands struct {
	Upload UploadCommand `cmd:"" name:"upload" help:"Upload files to the upload service." group:"CLIENT"`
}

type UploadCommand struct {
	Files       []string      `arg:"" type:"existingfile" help:"Files to upload"`
	Single      bool          `help:"Upload each file in a single request, without hashing or resume"`
	ChunkSize   string        `name:"chunk-size" default:"10MiB" help:"Size of each chunk (e.g. 512KiB, 10MiB)"`
	Concurrency int           `default:"6" help:"Chunk requests in flight for each file"`
	Retries     int           `default:"3" help:"Failures allowed for each chunk before the upload pauses"`
	Parallel    int           `default:"1" help:"Files uploaded at the same time"`
	Interval    time.Duration `default:"1s" help:"Minimum interval between progress lines"`
}

///////////////////////////////////////////////////////////////////////////////
// COMMANDS

func (cmd *UploadCommand) Run(app *Globals) error {
	chunkSize, err := units.RAMInBytes(cmd.ChunkSize)
	if err != nil {
		return fmt.Errorf("invalid chunk size %q: %w", cmd.ChunkSize, err)
	}
	client, err := app.Client()
	if err != nil {
		return err
	}

	// An interrupt cancels the group context, which pauses every upload.
	// Chunks already stored are kept by the service, so running the same
	// command again resumes from where it stopped.
	g, ctx := errgroup.WithContext(app.ctx)
	g.SetLimit(max(cmd.Parallel, 1))
	for _, path := range cmd.Files {
		g.Go(func() error {
			return cmd.upload(ctx, app, client, path, chunkSize)
		})
	}
	return g.Wait()
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (cmd *UploadCommand) upload(ctx context.Context, app *Globals, client *httpclient.Client, path string, chunkSize int64) error {
	src, err := chunk.OpenFile(path)
	if err != nil {
		return err
	}
	defer src.Close()

	opts := []uploader.Opt{
		uploader.WithChunkSize(chunkSize),
		uploader.WithConcurrency(cmd.Concurrency),
		uploader.WithRetries(cmd.Retries),
		uploader.WithLogger(app.logger.With("file", src.Name())),
	}
	if cmd.Single {
		opts = append(opts, uploader.WithSingle())
	}
	u, err := uploader.New(client, opts...)
	if err != nil {
		return err
	}

	// Progress lines are rate limited, except the final one
	var mu sync.Mutex
	var last time.Time
	u.OnProgress(func(p schema.Progress) {
		mu.Lock()
		defer mu.Unlock()
		if p.Percentage < 100 && time.Since(last) < cmd.Interval {
			return
		}
		last = time.Now()
		fmt.Fprintf(os.Stderr, "%s: %s of %s (%d%%)\n", src.Name(), units.HumanSize(float64(p.Loaded)), units.HumanSize(float64(p.Total)), p.Percentage)
	}).OnComplete(func(c schema.Complete) {
		if c.UploadTime == 0 && !cmd.Single {
			fmt.Printf("%s: already stored (hashed in %.2fs)\n", src.Name(), c.HashTime)
		} else {
			fmt.Printf("%s: uploaded %s in %.2fs\n", src.Name(), units.HumanSize(float64(src.Size())), c.UploadTime)
		}
	})

	// Wait with a detached context so that in-flight requests are drained
	// after an interrupt
	u.Upload(ctx, src)
	if err := u.Wait(context.Background()); err != nil {
		if errors.Is(err, schema.ErrAborted) || errors.Is(ctx.Err(), context.Canceled) {
			return fmt.Errorf("%s: paused in state %v: %w", src.Name(), u.State(), err)
		}
		return fmt.Errorf("%s: %w", src.Name(), err)
	}
	return nil
}
