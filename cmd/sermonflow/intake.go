package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"sermonflow/internal/apiclient"
	"sermonflow/pkg/intake"
)

func intakeCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "intake",
		Short: "Register your church through a short guided conversation",
		Long: `Answers the onboarding questions one at a time, shows a summary and
submits the request for review. Type your answer and press enter.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := env.client()
			if err != nil {
				return err
			}
			return runIntake(cmd.Context(), env, client)
		},
	}
}

func runIntake(ctx context.Context, env *cliEnv, client *apiclient.Client) error {
	var submitted string
	conv := intake.New(intake.SubmitterFunc(func(ctx context.Context, rec intake.Record) error {
		req, err := client.SubmitOnboarding(ctx, rec)
		if err != nil {
			return err
		}
		submitted = req.ID
		return nil
	}))

	printed := 0
	flush := func() {
		msgs := conv.Messages()
		for _, m := range msgs[printed:] {
			if m.Role == intake.RoleSystem && m.Content != "" {
				fmt.Fprintf(env.out, "\n%s\n", m.Content)
			}
		}
		printed = len(msgs)
	}

	for conv.State().Accepting() {
		flush()
		line, err := readLine(env, "> ")
		if err != nil {
			return err
		}
		if err := conv.SubmitAnswer(line); err != nil {
			if errors.Is(err, intake.ErrEmptyInput) {
				fmt.Fprintln(env.out, "Please enter an answer.")
				continue
			}
			return err
		}
	}
	flush()

	summary, err := conv.Summary()
	if err != nil {
		return err
	}
	fmt.Fprintf(env.out, "\n%s", summary)

	for conv.State() == intake.FieldSummary {
		answer, err := readLine(env, "Submit this request? [y/N] ")
		if err != nil {
			return err
		}
		if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
			fmt.Fprintln(env.out, "Nothing submitted.")
			return nil
		}
		if err := conv.Confirm(ctx); err != nil {
			flush()
			fmt.Fprintf(env.errOut, "submit failed: %v\n", err)
			continue
		}
	}
	flush()
	fmt.Fprintf(env.out, "Request id: %s\n", submitted)
	return nil
}

func readLine(env *cliEnv, prompt string) (string, error) {
	fmt.Fprint(env.out, prompt)
	line, err := env.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		if errors.Is(err, io.EOF) {
			return "", errors.New("input closed before the conversation finished")
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}
