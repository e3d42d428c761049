package ci

import (
	"context"
	"io/ioutil"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"lab47.dev/foundry/pkg/config"
	"lab47.dev/foundry/pkg/ops"
	"lab47.dev/foundry/pkg/platform"
	"lab47.dev/foundry/pkg/source"
)

// BuildPipeline is the production pipeline: checkout, build, smoke test,
// publish. Each stage observes ctx, so a superseded run stops at the
// next cancellation point and leaves nothing behind.
type BuildPipeline struct {
	L      hclog.Logger
	Config *config.Config
	Recipe *ops.BuildRecipe
	Target platform.Target
}

func NewBuildPipeline(l hclog.Logger, cfg *config.Config, recipe *ops.BuildRecipe, target platform.Target) *BuildPipeline {
	if l == nil {
		l = hclog.L()
	}

	return &BuildPipeline{
		L:      l,
		Config: cfg,
		Recipe: recipe,
		Target: target,
	}
}

func (p *BuildPipeline) Run(ctx context.Context, ev Event) error {
	// Every run gets its own work tree. Runs on different branches
	// execute concurrently and must never share checkout state.
	dir, err := ioutil.TempDir(p.Config.WorkPath(), "src-")
	if err != nil {
		return err
	}

	co := &source.Checkout{
		L:   p.L,
		URL: p.Config.SourceURL,
		Dir: dir,
	}

	defer co.Clean()

	ref := ev.Commit
	if ref == "" {
		ref = ev.Branch
	}

	commit, err := co.Resolve(ctx, ref)
	if err != nil {
		return err
	}

	env, err := ops.NewBuildEnv(p.Config, co.Dir, p.Target)
	if err != nil {
		return err
	}

	defer env.Cleanup()

	env.Commit = commit

	recipe := p.Recipe
	recipe.SetLogger(p.L)

	info, err := recipe.Build(ctx, env)
	if err != nil {
		return err
	}

	smoke := &ops.SmokeCheck{}
	smoke.SetLogger(p.L)

	for _, bin := range info.Binaries {
		err = smoke.Run(ctx, filepath.Join(p.Config.StorePath(), info.ID, "bin", bin))
		if err != nil {
			return err
		}
	}

	// Fork pull requests build and smoke test like everything else, but
	// only the trusted owner's events may touch the cache.
	if ev.Type == EventPullRequest && !ev.Trusted(p.Config.TrustedOwner) {
		p.L.Info("untrusted pull request, not publishing", "owner", ev.Owner, "id", info.ID)

		return errors.Wrapf(ops.ErrPublishSkipped, "fork pull request from %s", ev.Owner)
	}

	user, pass := p.Config.CacheAuth()

	pub := &ops.CachePublish{Username: user, Password: pass}
	pub.SetLogger(p.L)

	return pub.Publish(ctx, env.ArchivePath, p.Config.CacheRepo)
}
