package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/davecgh/go-spew/spew"
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
	"lab47.dev/foundry/pkg/ci"
	"lab47.dev/foundry/pkg/cmd"
	"lab47.dev/foundry/pkg/config"
	"lab47.dev/foundry/pkg/direnv"
	"lab47.dev/foundry/pkg/humanize"
	"lab47.dev/foundry/pkg/ops"
	"lab47.dev/foundry/pkg/platform"
	"lab47.dev/foundry/pkg/status"
)

func main() {
	c := cli.NewCLI("foundry", "0.1.0")
	c.Args = os.Args[1:]
	c.Commands = map[string]cli.CommandFactory{
		"setup": func() (cli.Command, error) {
			return cmd.New(
				"setup",
				"perform any system or user setup",
				setupF,
			), nil
		},
		"build": func() (cli.Command, error) {
			return cmd.New(
				"build",
				"Build the editor and companion CLI from a source tree",
				buildF,
			), nil
		},
		"shell": func() (cli.Command, error) {
			return cmd.New(
				"shell",
				"Run a shell inside the build environment",
				shellF,
			), nil
		},
		"update-pins": func() (cli.Command, error) {
			return cmd.New(
				"update-pins",
				"Refresh dependency pins from the lockfile",
				updatePinsF,
			), nil
		},
		"publish": func() (cli.Command, error) {
			return cmd.New(
				"publish",
				"Publish packed artifacts to the binary cache",
				publishF,
			), nil
		},
		"fetch": func() (cli.Command, error) {
			return cmd.New(
				"fetch",
				"Fetch an artifact from the binary cache into the store",
				fetchF,
			), nil
		},
		"ci": func() (cli.Command, error) {
			return cmd.New(
				"ci",
				"Run the CI workflow for an event",
				ciF,
			), nil
		},
		"inspect": func() (cli.Command, error) {
			return cmd.New(
				"inspect",
				"Output information about a packed artifact",
				inspectF,
			), nil
		},
		"env": func() (cli.Command, error) {
			return cmd.New(
				"env",
				"Output environment information",
				envF,
			), nil
		},
	}

	exitStatus, err := c.Run()
	if err != nil {
		log.Println(err)
	}

	os.Exit(exitStatus)
}

func logger(trace bool) hclog.Logger {
	level := hclog.Info

	if trace || os.Getenv("FOUNDRY_DEBUG") != "" {
		level = hclog.Debug
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:  "foundry",
		Level: level,
	})
}

func resolveTarget(s string) (platform.Target, error) {
	if s == "" {
		return platform.Detect()
	}

	return platform.Parse(s)
}

func setupF(ctx context.Context, opts struct{}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return errors.Wrapf(err, "Unable to create or load configuration directory")
	}

	fmt.Printf("Config Dir: %s\n", cfg.ConfigDir())
	fmt.Printf("Foundry Data Dir: %s\n", cfg.DataDir)
	fmt.Printf("Source URL: %s\n", cfg.SourceURL)
	fmt.Printf("Cache Repo: %s\n", cfg.CacheRepo)

	target, err := platform.Detect()
	if err != nil {
		return err
	}

	fmt.Printf("Build Target: %s\n", target)

	return nil
}

func buildF(ctx context.Context, opts struct {
	Source    string `short:"s" long:"source" description:"source tree to build" default:"."`
	Target    string `short:"t" long:"target" description:"build target, e.g. linux-amd64 (default: host)"`
	SkipTests bool   `long:"skip-tests" description:"skip the upstream test suite"`
	Trace     bool   `long:"trace" description:"log in debug mode"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	target, err := resolveTarget(opts.Target)
	if err != nil {
		return err
	}

	source, err := filepath.Abs(opts.Source)
	if err != nil {
		return err
	}

	env, err := ops.NewBuildEnv(cfg, source, target)
	if err != nil {
		return err
	}

	defer env.Cleanup()

	recipe := ops.Tide()
	recipe.SetLogger(logger(opts.Trace))
	recipe.SkipTests = opts.SkipTests

	disp := &status.Display{Output: os.Stdout}

	disp.Step("building " + recipe.Name + " for " + target.String())

	info, err := recipe.Build(ctx, env)
	if err != nil {
		disp.State(recipe.Name, "failed")
		return err
	}

	disp.State(info.ID, "succeeded")
	disp.Note("sum: %s", info.Sum)

	if fi, err := os.Stat(env.ArchivePath); err == nil {
		sz, unit := humanize.Size(fi.Size())
		disp.Note("archive: %s (%.2f%s)", env.ArchivePath, sz, unit)
	}

	if len(info.UnverifiedTests) > 0 {
		disp.Note("unverified tests: %s", strings.Join(info.UnverifiedTests, ", "))
	}

	return nil
}

func shellF(ctx context.Context, opts struct {
	Source  string   `short:"s" long:"source" description:"source tree" default:"."`
	Target  string   `short:"t" long:"target" description:"build target (default: host)"`
	DumpEnv bool     `short:"E" long:"dump-env" description:"dump the build env in direnv format"`
	Args    []string `positional-args:"yes"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	target, err := resolveTarget(opts.Target)
	if err != nil {
		return err
	}

	source, err := filepath.Abs(opts.Source)
	if err != nil {
		return err
	}

	env, err := ops.NewBuildEnv(cfg, source, target)
	if err != nil {
		return err
	}

	recipe := ops.Tide()
	recipe.SetLogger(logger(false))

	environ, err := recipe.Environ(ctx, env)
	if err != nil {
		return err
	}

	if opts.DumpEnv {
		vars := make(map[string]string)

		for _, kv := range environ {
			if idx := strings.IndexByte(kv, '='); idx != -1 {
				vars[kv[:idx]] = kv[idx+1:]
			}
		}

		fmt.Println(direnv.Dump(vars))
		return nil
	}

	args := opts.Args
	if len(args) == 0 {
		shell := os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/sh"
		}

		args = []string{shell}
	}

	path, err := exec.LookPath(args[0])
	if err != nil {
		return err
	}

	return unix.Exec(path, args, environ)
}

func updatePinsF(ctx context.Context, opts struct {
	Source string `short:"s" long:"source" description:"source tree" default:"."`
	Force  bool   `short:"f" long:"force" description:"refetch and rehash existing pins"`
	Trace  bool   `long:"trace" description:"log in debug mode"`
}) error {
	source, err := filepath.Abs(opts.Source)
	if err != nil {
		return err
	}

	recipe := ops.Tide()

	up := &ops.PinsUpdate{
		SourceDir: source,
		LockFile:  recipe.LockFile,
		PinFile:   recipe.PinFile,
		Force:     opts.Force,
	}
	up.SetLogger(logger(opts.Trace))

	err = up.Update(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Pins added: %d, updated: %d\n", up.Added, up.Updated)

	return nil
}

func publishF(ctx context.Context, opts struct {
	Repo string   `short:"r" long:"repo" description:"override the cache repository"`
	Args []string `positional-args:"yes"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	repo := opts.Repo
	if repo == "" {
		repo = cfg.CacheRepo
	}

	fs := pflag.NewFlagSet("publish", pflag.ContinueOnError)
	latest := fs.Bool("latest", false, "publish the most recently built artifact")

	err = fs.Parse(opts.Args)
	if err != nil {
		return err
	}

	files := fs.Args()

	if *latest {
		matches, err := filepath.Glob(filepath.Join(cfg.WorkPath(), "*.tar.gz"))
		if err != nil {
			return err
		}

		if len(matches) == 0 {
			return errors.Errorf("no built artifacts under %s", cfg.WorkPath())
		}

		newest := matches[0]
		newestTime := int64(0)

		for _, m := range matches {
			if fi, err := os.Stat(m); err == nil && fi.ModTime().Unix() > newestTime {
				newest = m
				newestTime = fi.ModTime().Unix()
			}
		}

		files = append(files, newest)
	}

	if len(files) == 0 {
		return errors.Errorf("nothing to publish")
	}

	user, pass := cfg.CacheAuth()

	cp := &ops.CachePublish{Username: user, Password: pass}
	cp.SetLogger(logger(false))

	for _, file := range files {
		err = cp.Publish(ctx, file, repo)
		if err != nil {
			return err
		}
	}

	return nil
}

func fetchF(ctx context.Context, opts struct {
	Repo string `short:"r" long:"repo" description:"override the cache repository"`
	Args struct {
		Sum string `positional-arg-name:"sum"`
	} `positional-args:"yes" required:"yes"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	repo := opts.Repo
	if repo == "" {
		repo = cfg.CacheRepo
	}

	user, pass := cfg.CacheAuth()

	lookup := &ops.CacheLookup{Username: user, Password: pass}
	lookup.SetLogger(logger(false))

	fetch := &ops.CacheFetch{Config: cfg, Lookup: lookup}
	fetch.SetLogger(logger(false))

	entry, err := fetch.Fetch(ctx, repo, opts.Args.Sum)
	if err != nil {
		return err
	}

	fmt.Printf("Fetched %s into %s\n", entry.Info.ID, filepath.Join(cfg.StorePath(), entry.Info.ID))

	return nil
}

func ciF(ctx context.Context, opts struct {
	Workflow string `short:"w" long:"workflow" description:"workflow definition" default:".foundry/build.yaml"`
	Event    string `short:"e" long:"event" description:"event type: push, pull_request, workflow_dispatch" default:"push"`
	Branch   string `short:"b" long:"branch" description:"branch the event happened on" default:"main"`
	Commit   string `short:"c" long:"commit" description:"exact commit to build (default: branch head)"`
	Owner    string `short:"o" long:"owner" description:"account owning the triggering ref"`
	Target   string `short:"t" long:"target" description:"build target (default: host)"`
	Trace    bool   `long:"trace" description:"log in debug mode"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	target, err := resolveTarget(opts.Target)
	if err != nil {
		return err
	}

	wf, err := ci.LoadWorkflow(opts.Workflow)
	if err != nil {
		return err
	}

	L := logger(opts.Trace)

	owner := opts.Owner
	if owner == "" {
		owner = cfg.TrustedOwner
	}

	ev := ci.Event{
		Type:   ci.EventType(opts.Event),
		Branch: opts.Branch,
		Commit: opts.Commit,
		Owner:  owner,
	}

	pipeline := ci.NewBuildPipeline(L, cfg, ops.Tide(), target)
	runner := ci.NewRunner(L, wf, pipeline)

	run, err := runner.Submit(ctx, ev)
	if err != nil {
		return err
	}

	disp := &status.Display{Output: os.Stdout}

	disp.State(run.Key, "running")

	st, err := run.Wait(ctx)

	disp.State(run.Key, strings.ToLower(string(st)))

	if run.PublishSkipped {
		disp.Note("publish skipped by policy")
	}

	if st != ci.StateSucceeded {
		if err != nil {
			return err
		}

		return errors.Errorf("run finished %s", st)
	}

	return nil
}

func inspectF(ctx context.Context, opts struct {
	Debug bool `short:"D" long:"debug" description:"dump the full artifact info"`
	Args  struct {
		File string `positional-arg-name:"file"`
	} `positional-args:"yes" required:"yes"`
}) error {
	var ai ops.ArtifactInspect

	info, err := ai.Inspect(opts.Args.File)
	if err != nil {
		return err
	}

	if opts.Debug {
		spew.Dump(info)
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 4, 2, 1, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "ID:\t%s\n", info.ID)
	fmt.Fprintf(tw, "Name:\t%s\n", info.Name)
	fmt.Fprintf(tw, "Version:\t%s\n", info.Version)
	fmt.Fprintf(tw, "License:\t%s\n", info.License)
	fmt.Fprintf(tw, "Platform:\t%s/%s\n", info.Platform.OS, info.Platform.Arch)
	fmt.Fprintf(tw, "Sum:\t%s\n", info.Sum)
	fmt.Fprintf(tw, "Toolchain:\t%s\n", info.Toolchain)
	fmt.Fprintf(tw, "Binaries:\t%s\n", strings.Join(info.Binaries, ", "))

	if info.Commit != "" {
		fmt.Fprintf(tw, "Commit:\t%s\n", info.Commit)
	}

	if len(info.UnverifiedTests) > 0 {
		fmt.Fprintf(tw, "Unverified:\t%s\n", strings.Join(info.UnverifiedTests, ", "))
	}

	return nil
}

func envF(ctx context.Context, opts struct {
	Store bool `short:"S" long:"store" description:"output the store path only"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	if opts.Store {
		fmt.Println(cfg.StorePath())
		return nil
	}

	fmt.Printf("data-dir: %s\n", cfg.DataDir)
	fmt.Printf("store: %s\n", cfg.StorePath())
	fmt.Printf("build: %s\n", cfg.BuildPath())
	fmt.Printf("toolchains: %s\n", cfg.ToolchainPath())
	fmt.Printf("work: %s\n", cfg.WorkPath())
	fmt.Printf("source-url: %s\n", cfg.SourceURL)
	fmt.Printf("cache-repo: %s\n", cfg.CacheRepo)
	fmt.Printf("trusted-owner: %s\n", cfg.TrustedOwner)

	return nil
}
