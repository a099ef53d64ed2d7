package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/seeyonai/summit-sub000/internal/app"
	"github.com/seeyonai/summit-sub000/internal/bootstrap"
)

func newRecordCmd(root *rootFlags) *cobra.Command {
	var (
		meetingID   string
		wavPath     string
		noAutoStart bool
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Open the live recording view",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			// The view owns the terminal.
			log, logCloser, err := newLogger(cfg.Logging, "stdout", "stderr")
			if err != nil {
				return err
			}
			defer logCloser.Close()

			a, err := bootstrap.Build(bootstrap.Options{
				Config:      cfg,
				Logger:      log,
				MeetingID:   meetingID,
				WAVPath:     wavPath,
				NoAutoStart: noAutoStart,
			})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a.ServeMetrics(ctx)

			a.Machine.Mount()
			p := tea.NewProgram(app.New(ctx, a.Machine, meetingID), tea.WithAltScreen(), tea.WithContext(ctx))
			if _, err := p.Run(); err != nil && ctx.Err() == nil {
				return fmt.Errorf("run view: %w", err)
			}
			return a.Close()
		},
	}
	cmd.Flags().StringVarP(&meetingID, "meeting", "m", "", "meeting id to attach the recording to")
	cmd.Flags().StringVar(&wavPath, "wav", "", "also archive captured audio to this WAV file")
	cmd.Flags().BoolVar(&noAutoStart, "no-auto-start", false, "wait for Space instead of starting once connected")
	return cmd
}
