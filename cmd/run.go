package cmd

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	null "gopkg.in/guregu/null.v3"

	"go.modpipe.dev/modpipe/errext"
	"go.modpipe.dev/modpipe/internal/cmd"
	"go.modpipe.dev/modpipe/internal/pipeline"
)

func getRunCmd(gs *cmd.GlobalState) *cobra.Command {
	var cliConf cmd.Config

	runCmd := &cobra.Command{
		Use:   "run [flags] entry",
		Short: "Resolve, fetch, compile, and statically walk a module graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			watch, _ := c.Flags().GetBool("watch")
			return runCommand(gs, cliConf, args[0], watch)
		},
	}

	flags := runCmd.Flags()
	flags.StringVar(&cliConf.CacheRoot.String, "cache-root", "", "directory for the HTTP and compile caches (default: OS cache dir)")
	flags.StringVar(&cliConf.LockFile.String, "lock-file", "", "path to a lockfile to check or write")
	flags.StringVar(&cliConf.LockMode.String, "lock-mode", "", `"check" or "write" (default "check")`)
	flags.StringVar(&cliConf.ImportMapFile.String, "import-map", "", "path to an import map JSON document")
	flags.StringVar(&cliConf.Reload.String, "reload", "", `"none", "all", or "selected" (default "none")`)
	flags.StringSliceVar(&cliConf.ReloadSpecifiers, "reload-specifier", nil, "specifier to force-reload when --reload=selected")
	flags.StringVar(&cliConf.TypeCheck.String, "type-check", "", `"on", "off", or "remote-only" (default "on")`)
	flags.StringVar(&cliConf.JSXFactory.String, "jsx-factory", "", "JSX pragma factory function")
	flags.StringVar(&cliConf.JSXFragment.String, "jsx-fragment", "", "JSX pragma fragment function")
	flags.Bool("watch", false, "re-run on file changes (spec.md §4.9)")

	runCmd.PreRunE = func(c *cobra.Command, args []string) error {
		markSetFlagsValid(c.Flags(), &cliConf)
		return nil
	}

	return runCmd
}

// markSetFlagsValid marks every null.vN field whose flag was explicitly
// passed on the command line as Valid, so Config.Apply's "is this
// explicitly set" check sees only the flags the user actually typed —
// pflag always writes into the bound string regardless of whether the
// flag appeared, so a zero value from an untouched flag must not look
// like an explicit empty string.
func markSetFlagsValid(flags *pflag.FlagSet, c *cmd.Config) {
	check := func(name string, v *null.String) {
		if flags.Changed(name) {
			*v = null.StringFrom(v.String)
		}
	}
	check("cache-root", &c.CacheRoot)
	check("lock-file", &c.LockFile)
	check("lock-mode", &c.LockMode)
	check("import-map", &c.ImportMapFile)
	check("reload", &c.Reload)
	check("type-check", &c.TypeCheck)
	check("jsx-factory", &c.JSXFactory)
	check("jsx-fragment", &c.JSXFragment)
}

func runCommand(gs *cmd.GlobalState, cliConf cmd.Config, entryArg string, watch bool) error {
	conf, err := cmd.GetConsolidatedConfig(gs.FS, gs.Env, gs.Flags.ConfigFilePath, cliConf)
	if err != nil {
		return err
	}
	pc, err := conf.ToPipelineConfig()
	if err != nil {
		return err
	}
	pc.Logger = gs.Logger

	cacheRoot, err := pipeline.CacheRootOrDefault(pc.CacheRoot)
	if err != nil {
		return err
	}
	pc.CacheRoot = cacheRoot

	p, err := pipeline.New(gs.FS, pc)
	if err != nil {
		return err
	}

	entry, err := entryURL(entryArg)
	if err != nil {
		return errext.WithHint(err, "pass either a filesystem path or a fully-qualified URL as the entry module")
	}

	if watch {
		return p.WatchAndBuild(gs.Ctx, entry, []string{entry.Path})
	}

	node, err := p.Build(gs.Ctx, entry)
	if err != nil {
		return err
	}

	fmt.Fprintf(gs.Stdout, "built %s (%d direct dependencies, %d modules total)\n",
		entry, len(node.Deps), p.Registry().Len())
	return nil
}

// entryURL turns a CLI-supplied entry argument into the canonical URL
// the pipeline resolves against: an already-schemed argument
// ("https://...", "file://...") is used as-is, while a bare filesystem
// path is turned into an absolute file:// URL, since spec.md §4.1's
// resolver requires every entrypoint to already carry a scheme.
func entryURL(arg string) (*url.URL, error) {
	if strings.Contains(arg, "://") {
		return url.Parse(arg)
	}
	abs, err := filepath.Abs(arg)
	if err != nil {
		return nil, fmt.Errorf("cmd: resolving entry path %s: %w", arg, err)
	}
	return &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}, nil
}
