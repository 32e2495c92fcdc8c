package main

import (
	"github.com/spf13/cobra"

	"pathequiv/pkg/report"
	"pathequiv/pkg/symbolic"
)

func newInspectCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "Show how a path file is parsed and classified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := a.reportFormat()
			if err != nil {
				return usageError(err)
			}

			p, err := symbolic.ParseFile(args[0])
			if err != nil {
				return usageError(err)
			}

			w, err := a.writer()
			if err != nil {
				return err
			}
			if err := report.RenderPath(w, p, format); err != nil {
				w.Close()
				return err
			}
			return w.Close()
		},
	}
}
