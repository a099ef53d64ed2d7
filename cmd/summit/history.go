package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/seeyonai/summit-sub000/internal/db"
)

func newHistoryCmd(root *rootFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [recording-id]",
		Short: "List recordings the backend confirmed as saved",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cfg.Storage.HistoryDB == "" {
				return errors.New("history is disabled (storage.history_db is empty)")
			}
			store, err := db.Open(db.ExpandPath(cfg.Storage.HistoryDB))
			if err != nil {
				return err
			}
			defer store.Close()

			var recs []db.Recording
			if len(args) == 1 {
				rec, err := store.Recording(args[0])
				if err != nil {
					return err
				}
				if rec == nil {
					return fmt.Errorf("no saved recording %q", args[0])
				}
				recs = []db.Recording{*rec}
			} else if recs, err = store.Recordings(limit); err != nil {
				return err
			}

			if len(recs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No recordings yet.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SAVED\tRECORDING\tMEETING\tFILE\tDURATION\tCHUNKS\tURL")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					r.SavedAt.Local().Format("2006-01-02 15:04"),
					r.RecordingID,
					orDash(r.MeetingID),
					orDash(r.Filename),
					r.Duration.Round(time.Second),
					r.ChunksCount,
					orDash(r.DownloadURL),
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of recordings to list")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
