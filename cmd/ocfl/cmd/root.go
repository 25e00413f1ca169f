package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/muesli/coral"
	"github.com/preservio/ocfl"
	"github.com/preservio/ocfl/backend/cloud"
	"github.com/preservio/ocfl/backend/local"
	"github.com/preservio/ocfl/extension"
	"github.com/preservio/ocfl/logging"
	"github.com/preservio/ocfl/store"
	"gocloud.dev/blob"

	// bucket schemes for cloud repositories
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

const defaultCfg = ".ocfl.yaml"

var (
	cfgFile string
	verbose bool

	rootCmd = &coral.Command{
		Use:          "ocfl",
		Short:        "A command line tool for OCFL",
		Long:         "A command line tool for working with OCFL repositories and objects.",
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultCfg, "path to repository config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	ctx := context.Background()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// config is the repository configuration read from .ocfl.yaml.
type config struct {
	// Root is a local directory or a bucket URL (e.g. "s3://bucket/prefix").
	Root string `yaml:"root"`
	// Layout is the storage layout extension name for new roots.
	Layout string `yaml:"layout"`
	// Algorithm is the digest algorithm for new objects.
	Algorithm string `yaml:"algorithm"`
	// WorkDir holds staging areas; defaults to the os temp dir.
	WorkDir string `yaml:"workdir"`
}

func loadConfig() (*config, error) {
	cfg := &config{}
	byt, err := os.ReadFile(cfgFile)
	if err != nil {
		if os.IsNotExist(err) && cfgFile == defaultCfg {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(byt, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", cfgFile, err)
	}
	return cfg, nil
}

func logger() *slog.Logger {
	if verbose {
		logging.SetDefaultLevel(slog.LevelDebug)
		return logging.DefaultLogger()
	}
	return logging.DisabledLogger()
}

// openEngine builds the storage engine named by the config. With initRoot,
// an empty target is initialized as a new storage root.
func openEngine(ctx context.Context, cfg *config, initRoot bool) (ocfl.Engine, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("no repository root configured; set 'root' in %s", cfgFile)
	}
	opts := []store.Option{store.WithLogger(logger())}
	if initRoot {
		opts = append(opts, store.InitIfEmpty())
	}
	if cfg.Layout != "" {
		layout, err := extension.GetLayout(cfg.Layout)
		if err != nil {
			return nil, err
		}
		opts = append(opts, store.WithLayout(layout))
	}
	if strings.Contains(cfg.Root, "://") {
		bucket, err := blob.OpenBucket(ctx, cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("opening bucket %s: %w", cfg.Root, err)
		}
		fsys := cloud.NewFS(bucket, cloud.WithLogger(logger()))
		return store.NewCloud(ctx, fsys, ".", opts...)
	}
	fsys, err := local.NewFS(cfg.Root)
	if err != nil {
		return nil, err
	}
	return store.NewFileSystem(ctx, fsys, opts...)
}

// openRepo builds a repository over the configured engine.
func openRepo(ctx context.Context, initRoot bool) (*ocfl.Repository, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	engine, err := openEngine(ctx, cfg, initRoot)
	if err != nil {
		return nil, err
	}
	repoOpts := []ocfl.RepositoryOption{ocfl.WithLogger(logger())}
	if cfg.Algorithm != "" {
		repoOpts = append(repoOpts, ocfl.WithDigestAlgorithm(cfg.Algorithm))
	}
	if cfg.WorkDir != "" {
		repoOpts = append(repoOpts, ocfl.WithWorkDir(cfg.WorkDir))
	}
	return ocfl.NewRepository(engine, repoOpts...)
}
