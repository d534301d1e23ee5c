package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/if001/trikernel/internal/domain/task"
	"github.com/if001/trikernel/internal/execution"
)

func newWorkCmd() *cobra.Command {
	var (
		runAt       string
		repeatEvery int64
	)
	cmd := &cobra.Command{
		Use:   "work <message>",
		Short: "Enqueue a background work task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			var opts []execution.WorkOption
			if runAt != "" {
				opts = append(opts, execution.WithRunAt(runAt))
			}
			if repeatEvery > 0 {
				opts = append(opts, execution.WithRepeatEvery(repeatEvery, true))
			}
			payload := task.Payload{task.KeyMessage: strings.Join(args, " ")}
			taskID, err := app.session.CreateWorkTask(cmd.Context(), payload, opts...)
			if err != nil {
				return err
			}
			fmt.Println(taskID)
			return nil
		},
	}
	cmd.Flags().StringVar(&runAt, "at", "", "run at an ISO-8601 time (future, within 1 year)")
	cmd.Flags().Int64Var(&repeatEvery, "every", 0, "repeat every N seconds (clamped to 3600)")
	return cmd
}
