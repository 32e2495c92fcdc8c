package main

import (
	"github.com/spf13/cobra"

	"pathequiv/pkg/equiv"
	"pathequiv/pkg/symbolic"
)

func newPairCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pair FILE_A FILE_B",
		Short: "Compare two single path files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := a.reportFormat()
			if err != nil {
				return usageError(err)
			}
			cfg, err := a.config(cmd)
			if err != nil {
				return usageError(err)
			}

			pa, err := symbolic.ParseFile(args[0])
			if err != nil {
				return usageError(err)
			}
			pb, err := symbolic.ParseFile(args[1])
			if err != nil {
				return usageError(err)
			}

			checker, err := equiv.NewChecker(cfg, equiv.WithLogger(a.logger))
			if err != nil {
				return usageError(err)
			}
			r := checker.ComparePair(cmd.Context(), pa, pb)
			if err := a.emit(r, format); err != nil {
				return err
			}
			return verdictStatus(r)
		},
	}
}
