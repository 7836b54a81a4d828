// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// vcsloader is a thin demo harness over the repo loader: it initializes
// a repository control directory, shows heads and the operation log,
// runs GC, and drives a fetch through the subprocess bridge with a
// progress bar. It is a smoke-test surface, not the product CLI (which
// is out of scope per the repository's design).
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/alecthomas/kong"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mattn/go-isatty"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/latticevcs/core/modules/gitbridge"
	"github.com/latticevcs/core/modules/ids"
	"github.com/latticevcs/core/modules/keyring"
	"github.com/latticevcs/core/modules/objstore"
	"github.com/latticevcs/core/modules/objstore/cloudblob"
	"github.com/latticevcs/core/modules/objstore/gitfmt"
	"github.com/latticevcs/core/modules/objstore/native"
	"github.com/latticevcs/core/modules/repo"
	"github.com/latticevcs/core/modules/vcsconfig"
	"github.com/latticevcs/core/modules/vcslog"
)

type App struct {
	Dir     string `name:"dir" short:"D" default:"." help:"Repository control directory."`
	Verbose bool   `name:"verbose" short:"V" help:"Enable debug logging."`

	S3Bucket   string `name:"s3-bucket" help:"Attach an S3 bucket as an extra object read tier."`
	S3Region   string `name:"s3-region" default:"us-east-1" help:"Region for --s3-bucket."`
	S3Endpoint string `name:"s3-endpoint" help:"Custom S3 endpoint (MinIO, OSS compatibility mode)."`
	S3Access   string `name:"s3-access-key" help:"Static access key; default AWS credential chain otherwise."`
	S3Secret   string `name:"s3-secret-key" help:"Static secret key for --s3-access-key."`

	Init    InitCommand    `cmd:"" help:"Initialize a repository."`
	Heads   HeadsCommand   `cmd:"" help:"List visible heads at the current operation."`
	Oplog   OplogCommand   `cmd:"" help:"Show the operation log."`
	Resolve ResolveCommand `cmd:"" help:"Resolve an operation reference (@, prefix, X-, X+)."`
	GC      GCCommand      `cmd:"" help:"Delete unreachable operations and views."`
	Fetch   FetchCommand   `cmd:"" help:"Fetch from a git remote through the subprocess bridge."`
}

func (a *App) configPath() string { return filepath.Join(a.Dir, "config.toml") }

// openBackend builds the object-store backend the repository's
// configuration selects, optionally layering an S3 read tier under the
// native backend.
func (a *App) openBackend(ctx context.Context, cfg vcsconfig.Config) (objstore.Backend, error) {
	storeDir := filepath.Join(a.Dir, "store")
	switch cfg.Backend {
	case vcsconfig.BackendGit:
		return gitfmt.New(storeDir, gitfmt.SHA1)
	default:
		var opts []native.Option
		if a.S3Bucket != "" {
			client, err := a.s3Client(ctx)
			if err != nil {
				return nil, err
			}
			opts = append(opts, native.WithReadTiers(cloudblob.New(client, a.S3Bucket)))
		}
		return native.New(storeDir, opts...)
	}
}

func (a *App) s3Client(ctx context.Context) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(a.S3Region))
	if a.S3Access != "" {
		loadOpts = append(loadOpts,
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(a.S3Access, a.S3Secret, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if a.S3Endpoint != "" {
			o.BaseEndpoint = &a.S3Endpoint
			o.UsePathStyle = true
		}
	}), nil
}

func (a *App) openLoader(ctx context.Context) (*repo.Loader, error) {
	cfg, err := vcsconfig.Load(a.configPath())
	if err != nil {
		cfg = vcsconfig.Default()
	}
	backend, err := a.openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return repo.NewLoader(a.Dir, backend)
}

type InitCommand struct{}

func (c *InitCommand) Run(app *App) error {
	ctx := context.Background()
	if err := vcsconfig.Save(app.configPath(), vcsconfig.Default()); err != nil {
		return err
	}
	loader, err := app.openLoader(ctx)
	if err != nil {
		return err
	}
	r, err := loader.Init(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("initialized repository at %s (operation %s)\n", app.Dir, r.Operation().Id)
	return nil
}

type HeadsCommand struct{}

func (c *HeadsCommand) Run(app *App) error {
	ctx := context.Background()
	loader, err := app.openLoader(ctx)
	if err != nil {
		return err
	}
	r, err := loader.Load(ctx)
	if err != nil {
		return err
	}
	for _, h := range r.View().Heads {
		commit, err := r.Backend().GetCommit(ctx, h)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", h, commit.Subject())
	}
	return nil
}

type OplogCommand struct {
	Limit int `name:"limit" short:"n" default:"20" help:"Maximum operations to show."`
}

func (c *OplogCommand) Run(app *App) error {
	ctx := context.Background()
	loader, err := app.openLoader(ctx)
	if err != nil {
		return err
	}
	r, err := loader.Load(ctx)
	if err != nil {
		return err
	}
	ops, err := r.OpStore().WalkAncestors([]ids.OperationId{r.Operation().Id})
	if err != nil {
		return err
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].Timestamp.After(ops[j].Timestamp) })
	for i, op := range ops {
		if i >= c.Limit {
			break
		}
		fmt.Printf("%s %s %s\n", op.Id, op.Timestamp.Format(time.RFC3339), op.Description)
	}
	return nil
}

type ResolveCommand struct {
	Expr string `arg:"" help:"Operation reference to resolve."`
}

func (c *ResolveCommand) Run(app *App) error {
	ctx := context.Background()
	loader, err := app.openLoader(ctx)
	if err != nil {
		return err
	}
	r, err := loader.Load(ctx)
	if err != nil {
		return err
	}
	id, err := r.Resolver().Resolve(c.Expr)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

type GCCommand struct {
	KeepDuration time.Duration `name:"keep" default:"336h" help:"Protect operations newer than this."`
}

func (c *GCCommand) Run(app *App) error {
	ctx := context.Background()
	loader, err := app.openLoader(ctx)
	if err != nil {
		return err
	}
	r, err := loader.Load(ctx)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-c.KeepDuration)
	if err := r.OpStore().GC([]ids.OperationId{r.Operation().Id}, cutoff); err != nil {
		return err
	}
	for _, h := range r.DanglingCommitHeads() {
		fmt.Printf("dangling: %s\n", h)
	}
	return nil
}

type FetchCommand struct {
	GitDir   string   `name:"git-dir" required:"" help:"Path to the backing .git directory."`
	Remote   string   `arg:"" help:"Remote name or URL."`
	Refspecs []string `arg:"" optional:"" help:"Refspecs to fetch."`
	Quiet    bool     `name:"quiet" short:"q" help:"Suppress the progress bar."`
}

func (c *FetchCommand) Run(app *App) error {
	ctx := context.Background()
	bridge := gitbridge.New(c.GitDir)
	bridge.Keyring = keyring.NewMemoryKeyring()

	var cb *gitbridge.Callbacks
	if !c.Quiet && isatty.IsTerminal(os.Stderr.Fd()) {
		const scale = 1000
		p := mpb.New(mpb.WithOutput(os.Stderr), mpb.WithAutoRefresh())
		bar := p.New(scale,
			mpb.BarStyle().Filler("#").Padding(" "),
			mpb.PrependDecorators(decor.Name("fetch "+c.Remote)),
			mpb.AppendDecorators(decor.Percentage()),
		)
		defer func() {
			bar.SetCurrent(scale)
			p.Wait()
		}()
		cb = &gitbridge.Callbacks{
			Sideband: func(message string) {
				fmt.Fprintf(os.Stderr, "remote: %s\n", message)
			},
			Progress: func(pr gitbridge.Progress) {
				bar.SetCurrent(int64(pr.OverallFraction * scale))
			},
		}
	}
	return bridge.Fetch(ctx, c.Remote, c.Refspecs, cb)
}

func main() {
	var app App
	ctx := kong.Parse(&app,
		kong.Name("vcsloader"),
		kong.Description("Demo harness over the lattice repository core."),
		kong.UsageOnError(),
	)
	if app.Verbose {
		vcslog.SetLevel("debug")
	}
	if err := ctx.Run(&app); err != nil {
		fmt.Fprintf(os.Stderr, "vcsloader: %v\n", err)
		os.Exit(1)
	}
}
