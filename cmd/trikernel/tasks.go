package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/if001/trikernel/internal/config"
	"github.com/if001/trikernel/internal/domain/task"
	"github.com/if001/trikernel/internal/logging"
	"github.com/if001/trikernel/internal/state/filestore"
)

func newTasksCmd() *cobra.Command {
	var (
		taskType string
		state    string
	)
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List tasks in the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			kernel, err := filestore.Open(cfg.DataDir, filestore.Options{Logger: logging.Nop()})
			if err != nil {
				return err
			}
			listed, err := kernel.Tasks.List(cmd.Context(), task.Filter{
				Type:  task.Type(taskType),
				State: task.State(state),
			})
			if err != nil {
				return err
			}
			for _, t := range listed {
				fmt.Printf("%s  %-14s %-8s %s\n",
					t.TaskID, t.Type, stateColor(t.State), t.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&taskType, "type", "", "filter by task type")
	cmd.Flags().StringVar(&state, "state", "", "filter by state")
	return cmd
}

func stateColor(s task.State) string {
	switch s {
	case task.StateDone:
		return color.GreenString(string(s))
	case task.StateFailed:
		return color.RedString(string(s))
	case task.StateRunning:
		return color.CyanString(string(s))
	default:
		return string(s)
	}
}
