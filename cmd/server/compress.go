package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/neucomp/internal/logging"
	"github.com/Brownie44l1/neucomp/internal/model"
)

func newCompressCmd(opts *globalOptions) *cobra.Command {
	var (
		quality int
		family  string
	)
	c := &cobra.Command{
		Use:   "compress INPUT OUTPUT",
		Short: "Compress one image file and print its metrics as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer logging.Sync(opts.log)
			if family == "" {
				family = opts.cfg.Model.Family
			}
			if !model.KnownFamily(family) {
				return fmt.Errorf("unknown model %q, expected one of %s", family, strings.Join(model.Families, ", "))
			}
			if !cmd.Flags().Changed("quality") {
				quality = opts.cfg.Model.DefaultQuality
			}

			a, err := newApp(opts.cfg, opts.log, nil)
			if err != nil {
				return err
			}
			defer a.Close(opts.log)

			res, err := a.service.CompressModel(family, args[0], args[1], quality)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	c.Flags().IntVarP(&quality, "quality", "q", 4, "quality level, 1 (smallest) to 8 (best)")
	c.Flags().StringVarP(&family, "model", "m", "", "model family, defaults to model.family")
	return c
}
