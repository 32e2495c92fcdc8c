package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"pathequiv/pkg/report"
)

func newHistoryCommand(a *app) *cobra.Command {
	var (
		storeDir string
		limit    int
		show     string
		remove   string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List or show reports saved by compare --store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if storeDir == "" {
				return usageError(errors.New("--store is required"))
			}
			format, err := a.reportFormat()
			if err != nil {
				return usageError(err)
			}

			store, err := report.OpenStore(storeDir, a.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			switch {
			case remove != "":
				if err := store.Delete(remove); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "deleted report %s\n", remove)
				return nil
			case show != "":
				r, err := store.Get(show)
				if err != nil {
					return err
				}
				return a.emit(r, format)
			}

			entries, err := store.List(limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(os.Stderr, "no reports stored")
				return nil
			}

			w, err := a.writer()
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(w)
			table.SetHeader([]string{"ID", "Started", "Program A", "Program B", "Verdict", "Pairs", "Unmatched"})
			table.SetAutoFormatHeaders(false)
			for _, e := range entries {
				v := e.Verdict.String()
				if e.Incomplete {
					v += " (incomplete)"
				}
				table.Append([]string{
					e.ID,
					e.StartedAt.Local().Format(time.DateTime),
					e.ProgramA,
					e.ProgramB,
					v,
					fmt.Sprint(e.Pairs),
					fmt.Sprint(e.Unmatched),
				})
			}
			table.Render()
			return w.Close()
		},
	}

	cmd.Flags().StringVar(&storeDir, "store", "", "History store directory")
	cmd.Flags().IntVar(&limit, "limit", 20, "Show at most N entries (0 for all)")
	cmd.Flags().StringVar(&show, "show", "", "Print the stored report with this ID")
	cmd.Flags().StringVar(&remove, "delete", "", "Delete the stored report with this ID")
	return cmd
}
