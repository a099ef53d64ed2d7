package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seeyonai/summit-sub000/internal/capture/mic"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := mic.InputDevices()
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No input devices found.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "\tNAME\tRATE\tCHANNELS")
			for _, d := range devices {
				mark := ""
				if d.Default {
					mark = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%.0f Hz\t%d\n", mark, d.Name, d.SampleRate, d.Channels)
			}
			return w.Flush()
		},
	}
}
