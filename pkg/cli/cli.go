package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"depres/pkg/config"
	"depres/pkg/graph"
	"depres/pkg/installer"
	"depres/pkg/log"
	"depres/pkg/maven"
	"depres/pkg/metrics"
	"depres/pkg/types"
)

const Version = "0.1.0"

type options struct {
	configFile   string
	repositories []string
	platforms    []string
	scope        string
	level        string
	sources      bool
	cacheRoot    string
	jsonOutput   bool
	metricsFile  string
	logLevel     string
	logFile      string
	logJSON      bool
}

// NewRootCmd builds the depres command tree. Output goes to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "depres",
		Short:         "Maven and Gradle dependency resolver",
		Long:          "Resolves Maven and Gradle module dependencies, reconciles version conflicts and downloads the artifacts into a local cache.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := log.Init(opts.logLevel, opts.logFile, opts.logJSON); err != nil {
				return err
			}
			log.Debug("Initializing with configuration", map[string]interface{}{
				"config":       opts.configFile,
				"repositories": opts.repositories,
				"platforms":    opts.platforms,
			})
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.metricsFile == "" {
				return nil
			}
			f, err := os.Create(opts.metricsFile)
			if err != nil {
				return err
			}
			defer f.Close()
			return metrics.WriteText(f)
		},
	}
	rootCmd.SetOut(out)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "Settings file (default: depres.toml in the working directory or a parent)")
	flags.StringSliceVar(&opts.repositories, "repository", nil, "Remote repository URL, repeatable (default: Maven Central)")
	flags.StringSliceVar(&opts.platforms, "platform", nil, "Target platform, repeatable: "+strings.Join(types.PlatformNames(), ", "))
	flags.StringVar(&opts.scope, "scope", "", "Resolution scope (compile, runtime)")
	flags.StringVar(&opts.level, "level", "", "Resolution level (local, network)")
	flags.BoolVar(&opts.sources, "sources", false, "Download sources and documentation")
	flags.StringVar(&opts.cacheRoot, "cache", "", "Cache root (default: $DEPRES_CACHE or ~/.depres)")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")
	flags.StringVar(&opts.metricsFile, "metrics", "", "Write Prometheus metrics to the given file when done")
	flags.StringVar(&opts.logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error) to enable logging")
	flags.StringVar(&opts.logFile, "log-file", "", "Write logs to specified file")
	flags.BoolVar(&opts.logJSON, "log-json", false, "Write logs as JSON")

	var noTransitive bool
	resolveCmd := &cobra.Command{
		Use:   "resolve [group:module:version | bom:group:module:version]...",
		Short: "Resolve dependencies and print the artifact paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, level, err := opts.installer(args)
			if err != nil {
				return err
			}
			defer inst.Close()
			report, err := inst.Install(cmd.Context(), installer.Options{Level: level, Transitive: !noTransitive, Download: true})
			if report != nil {
				if werr := installer.WriteReport(cmd.OutOrStdout(), report, opts.jsonOutput); werr != nil {
					return werr
				}
			}
			return err
		},
	}
	resolveCmd.Flags().BoolVar(&noTransitive, "no-transitive", false, "Resolve only the requested libraries")

	showCmd := &cobra.Command{Use: "show", Short: "Show the resolved graph"}
	showCmd.AddCommand(&cobra.Command{
		Use:   "dependencies [coordinates]...",
		Short: "Print the dependency tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := opts.graph(cmd.Context(), args)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), graph.PrettyPrint(root, nil))
			return err
		},
	})

	var allVersions bool
	insightCmd := &cobra.Command{
		Use:   "insight group:module [coordinates]...",
		Short: "Explain why a library is in the graph and which version won",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			focus, err := types.ParseCoordinates(args[0])
			if err != nil {
				return err
			}
			root, err := opts.graph(cmd.Context(), args[1:])
			if err != nil {
				return err
			}
			filtered := graph.FilterGraph(focus.Group, focus.Module, root, !allVersions)
			_, err = fmt.Fprint(cmd.OutOrStdout(), graph.PrettyPrint(filtered, &focus))
			return err
		},
	}
	insightCmd.Flags().BoolVar(&allVersions, "all-versions", false, "Keep paths to every requested version, not only the resolved one")

	graphCmd := &cobra.Command{
		Use:   "graph [coordinates]...",
		Short: "Dump the resolved graph as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := opts.graph(cmd.Context(), args)
			if err != nil {
				return err
			}
			return graph.NewArena(root).Encode(cmd.OutOrStdout())
		},
	}

	var output string
	bundleCmd := &cobra.Command{
		Use:   "bundle [coordinates]...",
		Short: "Resolve dependencies and pack the artifacts into a tar.gz",
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, level, err := opts.installer(args)
			if err != nil {
				return err
			}
			defer inst.Close()
			report, err := inst.Install(cmd.Context(), installer.Options{Level: level, Transitive: true, Download: true})
			if err != nil {
				if report != nil {
					_ = installer.WriteReport(cmd.ErrOrStderr(), report, opts.jsonOutput)
				}
				return err
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := installer.Bundle(f, report.Paths, inst.Session().Settings.FileCache); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Bundled %d files into %s\n", len(report.Paths), output)
			return nil
		},
	}
	bundleCmd.Flags().StringVarP(&output, "output", "o", "dependencies.tar.gz", "Bundle file")

	rootCmd.AddCommand(resolveCmd, showCmd, insightCmd, graphCmd, bundleCmd)
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			if opts.jsonOutput {
				fmt.Fprintf(cmd.OutOrStdout(), "{\"version\": %q}\n", Version)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "depres v%s\n", Version)
			}
		},
	})

	return rootCmd
}

// config merges the settings file with the command line; flags win.
func (o *options) config() (*config.Config, error) {
	path := o.configFile
	if path == "" {
		path = config.FindConfigFile(".")
	}
	c := &config.Config{}
	if path != "" {
		var err error
		if c, err = config.Load(path); err != nil {
			return nil, err
		}
		log.Debug("Loaded config file", map[string]interface{}{"path": path})
	}

	if len(o.repositories) > 0 {
		c.Repositories = nil
		for _, url := range o.repositories {
			c.Repositories = append(c.Repositories, config.Repository{URL: url})
		}
	}
	if len(o.platforms) > 0 {
		c.Platforms = o.platforms
	}
	if o.scope != "" {
		c.Scope = o.scope
	}
	if o.sources {
		c.DownloadSources = true
	}
	if o.cacheRoot != "" {
		c.CacheRoot = o.cacheRoot
	}
	return c, nil
}

// installer prepares a run for the requests on the command line, or those of the settings file
// when none are given.
func (o *options) installer(args []string) (*installer.Installer, types.ResolutionLevel, error) {
	level, err := types.ParseResolutionLevel(o.level)
	if err != nil {
		return nil, level, err
	}
	c, err := o.config()
	if err != nil {
		return nil, level, err
	}
	if len(args) > 0 {
		c.Dependencies = args
	}
	if len(c.Dependencies) == 0 {
		return nil, level, errors.New("no dependencies requested")
	}
	requests, err := c.Requests()
	if err != nil {
		return nil, level, err
	}
	settings, err := c.Settings()
	if err != nil {
		return nil, level, err
	}
	session, err := maven.NewSession(settings)
	if err != nil {
		return nil, level, err
	}
	return installer.NewInstaller(session, requests), level, nil
}

// graph resolves the graph without downloading artifacts. Diagnostics stay on the nodes.
func (o *options) graph(ctx context.Context, args []string) (graph.Node, error) {
	inst, level, err := o.installer(args)
	if err != nil {
		return nil, err
	}
	defer inst.Close()
	_, err = inst.Install(ctx, installer.Options{Level: level, Transitive: true})
	if err != nil && !errors.Is(err, installer.ErrUnresolved) {
		return nil, err
	}
	return inst.Resolver.Root, nil
}
