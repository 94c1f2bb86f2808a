package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/neucomp/internal/config"
	"github.com/Brownie44l1/neucomp/internal/logging"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globalOptions hold state shared by every subcommand.
type globalOptions struct {
	configPath string
	cfg        *config.Config
	log        *zap.Logger
}

func (o *globalOptions) init() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Server.Mode, cfg.Log.File)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	o.cfg, o.log = cfg, log
	return nil
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	c := &cobra.Command{
		Use:          "neucomp",
		Short:        "Learned image compression with pretrained neural codecs",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init()
		},
	}
	c.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML config file")
	c.AddCommand(
		newServeCmd(opts),
		newCompressCmd(opts),
		newVersionCmd(),
	)
	return c
}
