package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"sermonflow/pkg/domain"
)

func churchCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "church",
		Short: "Show the church profile linked to your account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := env.client()
			if err != nil {
				return err
			}
			church, err := client.MyChurch(cmd.Context())
			if err != nil {
				return err
			}
			printChurch(env, church)
			return nil
		},
	}
}

func printChurch(env *cliEnv, church domain.Profile) {
	fmt.Fprintf(env.out, "Church:    %s (%s)\n", church.Name, church.ID)
	fmt.Fprintf(env.out, "Theology:  %s\n", church.Research.Theology)
	fmt.Fprintf(env.out, "Voice:     %s\n", strings.Join(church.Research.VoiceTone, ", "))
	fmt.Fprintf(env.out, "Lexicon:   %s\n", strings.Join(church.Research.InsiderLexicon, ", "))
	if church.Research.Slogan != "" {
		fmt.Fprintf(env.out, "Slogan:    %s\n", church.Research.Slogan)
	}
}
