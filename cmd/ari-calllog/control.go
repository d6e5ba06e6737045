package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/ari-calllog/internal/ari"
	"github.com/sweeney/ari-calllog/internal/config"
)

const controlTimeout = 15 * time.Second

func controlClient(cfg *config.Config) *ari.Control {
	return ari.NewControl(cfg.ARI.RESTURL, cfg.ARI.Username, cfg.ARI.Password)
}

func newHangupCmd(flags *globalFlags) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "hangup <channel-id>",
		Short: "Hang up a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), controlTimeout)
			defer cancel()

			if err := controlClient(cfg).Hangup(ctx, args[0], reason); err != nil {
				if errors.Is(err, ari.ErrNotFound) {
					return fmt.Errorf("channel %s not found", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Channel %s hung up\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "normal", "hangup reason (normal, busy, congestion, no_answer)")
	return cmd
}

func newRecordCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Start or stop channel recordings",
	}
	cmd.AddCommand(newRecordStartCmd(flags))
	cmd.AddCommand(newRecordStopCmd(flags))
	return cmd
}

func newRecordStartCmd(flags *globalFlags) *cobra.Command {
	var opts ari.RecordingOptions

	cmd := &cobra.Command{
		Use:   "start <channel-id>",
		Short: "Start a named recording on a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Name == "" {
				return errors.New("--name is required")
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), controlTimeout)
			defer cancel()

			rec, err := controlClient(cfg).StartRecording(ctx, args[0], opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recording %s (%s) %s\n", rec.Name, rec.Format, rec.State)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "recording name")
	cmd.Flags().StringVar(&opts.Format, "format", "wav", "recording format")
	cmd.Flags().StringVar(&opts.IfExists, "if-exists", "fail", "fail, overwrite or append")
	cmd.Flags().IntVar(&opts.MaxDurationSeconds, "max-duration", 0, "maximum duration in seconds (0 for unlimited)")
	cmd.Flags().BoolVar(&opts.Beep, "beep", false, "play a beep when recording starts")
	return cmd
}

func newRecordStopCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop and store a live recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), controlTimeout)
			defer cancel()

			if err := controlClient(cfg).StopRecording(ctx, args[0]); err != nil {
				if errors.Is(err, ari.ErrNotFound) {
					return fmt.Errorf("recording %s not found", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recording %s stopped\n", args[0])
			return nil
		},
	}
}
