package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/codefionn/ryxsurf/internal/persistence"
	"github.com/codefionn/ryxsurf/internal/session"
)

func newTabsCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tabs",
		Short: "Print the saved workspaces, sessions and tabs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			closeLogger, err := initLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLogger()

			store, err := persistence.Open(persistence.Options{
				Path:           cfg.SessionsDBPath(),
				MasterPassword: cfg.MasterPassword(),
			})
			if err != nil {
				return err
			}
			defer store.Close()

			if store.Locked() {
				return fmt.Errorf("%s: %w", cfg.SessionsDBPath(), persistence.ErrStoreLocked)
			}
			records, err := store.LoadRecords()
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), records)
			return nil
		},
	}
}

func printRecords(w io.Writer, records []session.WorkspaceRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No saved workspaces.")
		return
	}
	for _, ws := range records {
		fmt.Fprintf(w, "%s\n", ws.Name)
		for _, s := range ws.Sessions {
			name := s.Name
			if s.Overview {
				name += " (overview)"
			}
			fmt.Fprintf(w, "  %s\n", name)
			for _, t := range s.Tabs {
				fmt.Fprintf(w, "    %s  %s\n", t.Title, t.URL)
			}
		}
	}
}
