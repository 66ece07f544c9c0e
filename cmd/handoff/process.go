package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/carebridge-hub/backend/internal/processing"
)

func processCmd() *cobra.Command {
	var sessionID, audioPath string
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Upload a recorded handoff and follow processing",
		Long: `process uploads an audio file for a session and follows processing until
the form is ready. Without --audio it only follows a session that is
already being processed elsewhere.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			client := apiClient()

			var audio []byte
			if audioPath != "" {
				var err error
				audio, err = os.ReadFile(audioPath)
				if err != nil {
					return fmt.Errorf("failed to read audio: %w", err)
				}
				if _, err := client.StartRecording(ctx, sessionID); err != nil {
					return err
				}
			}

			machine := processing.New(sessionID, audio, client, client,
				processing.WithPollInterval(viper.GetDuration("processing.poll_interval")),
				processing.WithOfflineAfter(viper.GetInt("processing.offline_after")),
				processing.WithLogger(logger),
			)
			if err := machine.Start(ctx); err != nil {
				return err
			}
			defer machine.Stop()

			snap, err := followProgress(cmd, machine)
			if err != nil {
				return err
			}

			switch snap.State {
			case processing.StateReady:
				svc, store, err := openReviewService()
				if err != nil {
					return err
				}
				defer store.Close()
				if err := svc.CacheExtraction(ctx, sessionID, snap.Result); err != nil {
					logger.Warn().Err(err).Msg("extraction not cached, review will use the saved form")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "session %s is ready for review\n", sessionID)
				return nil
			case processing.StateFailed:
				if snap.Error != nil {
					return fmt.Errorf("processing failed at %s: %s", snap.Error.Step, snap.Error.Message)
				}
				return errors.New("processing failed")
			default:
				return fmt.Errorf("processing ended in state %s", snap.State)
			}
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	cmd.Flags().StringVar(&audioPath, "audio", "", "recorded handoff audio file")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

// followProgress renders snapshots until the machine is done
func followProgress(cmd *cobra.Command, machine *processing.Machine) (processing.Snapshot, error) {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetDescription("Upload audio"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	defer bar.Close()

	offline := false
	for {
		select {
		case snap := <-machine.Changes():
			if d := activeStep(snap); d != "" {
				bar.Describe(d)
			}
			if snap.State == processing.StateOffline && !offline {
				logger.Warn().Msg("connection lost, still waiting for the server")
			}
			offline = snap.State == processing.StateOffline
			_ = bar.Set(snap.Progress)
		case <-machine.Done():
			snap := machine.Snapshot()
			if snap.State == processing.StateReady {
				_ = bar.Finish()
			}
			return snap, nil
		case <-cmd.Context().Done():
			return machine.Snapshot(), cmd.Context().Err()
		}
	}
}

func activeStep(snap processing.Snapshot) string {
	for _, step := range snap.Steps {
		if step.Status == processing.StepActive || step.Status == processing.StepFailed {
			return step.Label
		}
	}
	return ""
}
