package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/inodb/clipper/internal/annotation"
)

func newSpeciesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "species",
		Short: "List species with bundled annotations",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := viper.GetString("data-dir")
			catalog := annotation.NewDirCatalog(dir)
			species, err := catalog.Species()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(species) == 0 {
				fmt.Fprintf(out, "# No species annotations in %s\n", dir)
				return nil
			}
			for _, s := range species {
				fmt.Fprintln(out, s)
			}
			return nil
		},
	}
	cmd.Flags().String("data-dir", defaultDataDir(), "directory with bundled species annotations")
	return cmd
}
