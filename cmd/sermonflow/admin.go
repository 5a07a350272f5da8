package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"sermonflow/internal/apiclient"
	"sermonflow/pkg/activation"
)

func adminCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Review and activate pending church onboarding requests",
	}
	cmd.AddCommand(adminPendingCmd(env))
	cmd.AddCommand(adminShowCmd(env))
	cmd.AddCommand(adminActivateCmd(env))
	return cmd
}

func adminPendingCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List onboarding requests awaiting research",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := env.client()
			if err != nil {
				return err
			}
			reqs, err := client.ListPendingOnboarding(cmd.Context())
			if err != nil {
				return err
			}
			if len(reqs) == 0 {
				fmt.Fprintln(env.out, "No pending requests.")
				return nil
			}
			tw := tabwriter.NewWriter(env.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCHURCH\tDENOMINATION\tSUBMITTED")
			for _, r := range reqs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.ChurchName, r.Denomination, r.CreatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

func adminShowCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show a request with its suggested activation values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := env.client()
			if err != nil {
				return err
			}
			detail, err := client.OnboardingDetail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			req, d := detail.Request, detail.Defaults
			fmt.Fprintf(env.out, "Church:        %s\n", req.ChurchName)
			fmt.Fprintf(env.out, "Website:       %s\n", req.Website)
			fmt.Fprintf(env.out, "Denomination:  %s\n", req.Denomination)
			for platform, handle := range req.SocialLinks {
				fmt.Fprintf(env.out, "Social:        %s %s\n", platform, handle)
			}
			fmt.Fprintln(env.out, "\nSuggested activation:")
			fmt.Fprintf(env.out, "  --theology    %q\n", d.Theology)
			fmt.Fprintf(env.out, "  --voice-tone  %q\n", d.VoiceToneCSV)
			fmt.Fprintf(env.out, "  --lexicon     %q\n", d.InsiderLexiconCSV)
			fmt.Fprintf(env.out, "  --slogan      %q\n", d.Slogan)
			fmt.Fprintf(env.out, "  --branding   %s\n", d.BrandingJSON)
			return nil
		},
	}
}

func adminActivateCmd(env *cliEnv) *cobra.Command {
	var (
		in           activation.Input
		brandingFile string
	)
	cmd := &cobra.Command{
		Use:   "activate <request-id>",
		Short: "Create the church profile and mark the request active",
		Long: `Activates a pending request. Flags left unset fall back to the
suggested values shown by "sermonflow admin show".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := env.client()
			if err != nil {
				return err
			}
			detail, err := client.OnboardingDetail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			in.RequestID = args[0]
			flags := cmd.Flags()
			if !flags.Changed("church-name") {
				in.ChurchName = detail.Defaults.ChurchName
			}
			if !flags.Changed("theology") {
				in.Theology = detail.Defaults.Theology
			}
			if !flags.Changed("voice-tone") {
				in.VoiceToneCSV = detail.Defaults.VoiceToneCSV
			}
			if !flags.Changed("lexicon") {
				in.InsiderLexiconCSV = detail.Defaults.InsiderLexiconCSV
			}
			if !flags.Changed("slogan") {
				in.Slogan = detail.Defaults.Slogan
			}
			switch {
			case brandingFile != "":
				data, err := os.ReadFile(brandingFile)
				if err != nil {
					return fmt.Errorf("read branding file: %w", err)
				}
				in.BrandingJSON = string(data)
			case !flags.Changed("branding"):
				in.BrandingJSON = detail.Defaults.BrandingJSON
			}

			profile, err := client.Activate(cmd.Context(), in)
			if err != nil {
				var apiErr *apiclient.APIError
				if errors.As(err, &apiErr) && apiErr.ProfileID != "" {
					fmt.Fprintf(env.errOut, "profile %s was created but the request status was not updated; do not activate again\n", apiErr.ProfileID)
				}
				return err
			}
			fmt.Fprintf(env.out, "Activated %s as church %s\n", profile.Name, profile.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.ChurchName, "church-name", "", "church display name")
	cmd.Flags().StringVar(&in.Theology, "theology", "", "theological tradition")
	cmd.Flags().StringVar(&in.VoiceToneCSV, "voice-tone", "", "comma-separated voice descriptors")
	cmd.Flags().StringVar(&in.InsiderLexiconCSV, "lexicon", "", "comma-separated insider terms")
	cmd.Flags().StringVar(&in.BrandingJSON, "branding", "", "branding assets as a JSON document")
	cmd.Flags().StringVar(&brandingFile, "branding-file", "", "read branding JSON from a file")
	cmd.Flags().StringVar(&in.Slogan, "slogan", "", "church slogan")
	cmd.MarkFlagsMutuallyExclusive("branding", "branding-file")
	return cmd
}
