package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/if001/trikernel/internal/domain/task"
)

var (
	assistantColor    = color.New(color.FgGreen)
	notificationColor = color.New(color.FgYellow)
	errorColor        = color.New(color.FgRed)
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive conversation with background workers running",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			app.session.StartWorkers()
			defer app.session.StopWorkers()

			ctx := cmd.Context()
			fmt.Println("trikernel chat. Type /quit to exit.")
			for {
				prompt := promptui.Prompt{Label: "you"}
				input, err := prompt.Run()
				if err != nil {
					if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
						return nil
					}
					return err
				}
				input = strings.TrimSpace(input)
				if input == "" {
					continue
				}
				if input == "/quit" || input == "/exit" {
					return nil
				}

				result := app.session.SendMessage(ctx, input, false)
				printResult(result.Message, result.TaskState, result.Error)

				for _, note := range app.session.DrainNotifications(ctx) {
					notificationColor.Printf("[notification] %s\n", note)
				}
			}
		},
	}
}

func printResult(message string, taskState task.State, errInfo map[string]any) {
	if taskState == task.StateFailed {
		if errInfo != nil {
			errorColor.Printf("request failed: %v\n", errInfo["message"])
		} else {
			errorColor.Println("request failed")
		}
		return
	}
	if message == "" {
		message = "(no output)"
	}
	assistantColor.Println(message)
}
