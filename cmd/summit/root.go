package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/seeyonai/summit-sub000/internal/config"
	"github.com/seeyonai/summit-sub000/internal/logging"
	"github.com/seeyonai/summit-sub000/internal/version"
)

type rootFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           version.Name,
		Short:         "Record meetings with live transcription",
		Long:          "summit captures microphone audio, uploads it to the recording backend and shows the live transcript.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Version,
	}
	cmd.SetVersionTemplate(version.String() + "\n")
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")

	cmd.AddCommand(
		newRecordCmd(flags),
		newMCPCmd(flags),
		newHistoryCmd(flags),
		newDevicesCmd(),
		newVersionCmd(),
	)
	return cmd
}

func (f *rootFlags) load() (*config.Config, error) {
	return config.Load(f.configPath)
}

// newLogger builds the configured logger. Terminal streams are replaced when
// they would collide with the command's own use of stdout or stderr.
func newLogger(cfg config.LoggingConfig, reserved ...string) (*slog.Logger, io.Closer, error) {
	for _, r := range reserved {
		if cfg.Output == r || (r == "stderr" && cfg.Output == "") {
			return slog.New(slog.DiscardHandler), nopCloser{}, nil
		}
	}
	return logging.New(cfg)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
