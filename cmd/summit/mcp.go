package main

import (
	"github.com/spf13/cobra"

	"github.com/seeyonai/summit-sub000/internal/bootstrap"
	"github.com/seeyonai/summit-sub000/internal/mcpserver"
	"github.com/seeyonai/summit-sub000/internal/version"
)

func newMCPCmd(root *rootFlags) *cobra.Command {
	var meetingID string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve recording tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			// stdout carries the protocol.
			log, logCloser, err := newLogger(cfg.Logging, "stdout")
			if err != nil {
				return err
			}
			defer logCloser.Close()

			a, err := bootstrap.Build(bootstrap.Options{
				Config:      cfg,
				Logger:      log,
				MeetingID:   meetingID,
				NoAutoStart: true,
			})
			if err != nil {
				return err
			}
			defer a.Close()

			a.ServeMetrics(cmd.Context())
			a.Machine.Mount()

			s := mcpserver.New(version.Name, version.Version, mcpserver.NewTools(a.Machine, log))
			if err := mcpserver.Serve(s); err != nil {
				return err
			}
			return a.Close()
		},
	}
	cmd.Flags().StringVarP(&meetingID, "meeting", "m", "", "meeting id to attach recordings to")
	return cmd
}
