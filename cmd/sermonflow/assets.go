package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"sermonflow/pkg/domain"
	"sermonflow/pkg/tracker"
)

func assetsCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "assets",
		Aliases: []string{"asset"},
		Short:   "Generate and track content derived from a sermon",
	}
	cmd.AddCommand(assetTypesCmd(env))
	cmd.AddCommand(assetsListCmd(env))
	cmd.AddCommand(assetsGenerateCmd(env))
	return cmd
}

func assetTypesCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the asset types that can be generated",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := env.client()
			if err != nil {
				return err
			}
			types, err := client.AssetTypes(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(env.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tLABEL")
			for _, t := range types {
				fmt.Fprintf(tw, "%s\t%s\n", t.ID, t.Label)
			}
			return tw.Flush()
		},
	}
}

func assetsListCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "list <sermon-id>",
		Short: "Show generation requests for a sermon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := env.client()
			if err != nil {
				return err
			}
			reqs, err := client.ListGenerationRequests(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printRequests(env.out, reqs)
		},
	}
}

func assetsGenerateCmd(env *cliEnv) *cobra.Command {
	var (
		wait     bool
		interval time.Duration
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "generate <sermon-id> <asset-type>...",
		Short: "Request one or more assets for a sermon",
		Long: `Requests generation of each asset type. With --wait the command polls
until every request for the sermon has completed or failed.

Examples:
  sermonflow assets generate 5b0c... devotional small_group --wait
  sermonflow assets generate 5b0c... email-recap`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			assetTypes := make([]domain.AssetType, 0, len(args)-1)
			for _, raw := range args[1:] {
				t, err := domain.ParseAssetType(raw)
				if err != nil {
					return err
				}
				assetTypes = append(assetTypes, t)
			}
			if wait && interval <= 0 {
				return errors.New("--interval must be positive")
			}
			client, err := env.client()
			if err != nil {
				return err
			}

			tr := tracker.New(client, args[0], tracker.WithLogger(env.logger()))
			defer tr.Close()
			return runGenerate(cmd.Context(), env, tr, assetTypes, wait, interval, timeout)
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "poll until every request is finished")
	cmd.Flags().DurationVar(&interval, "interval", 3*time.Second, "poll interval with --wait")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "give up waiting after this long")
	return cmd
}

func runGenerate(ctx context.Context, env *cliEnv, tr *tracker.Tracker, assetTypes []domain.AssetType, wait bool, interval, timeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	requested := 0
	for _, t := range assetTypes {
		req, err := tr.RequestGeneration(ctx, t)
		switch {
		case errors.Is(err, domain.ErrAlreadyProcessing):
			fmt.Fprintf(env.out, "%s: already being generated\n", t.Label())
		case err != nil:
			return fmt.Errorf("request %s: %w", t, err)
		default:
			requested++
			fmt.Fprintf(env.out, "%s: requested (%s)\n", t.Label(), req.ID)
		}
	}
	if !wait {
		return nil
	}
	if requested == 0 {
		// nothing new; pick up the rows already in flight
		if err := tr.Refresh(ctx); err != nil {
			return err
		}
	}

	if err := tr.Poll(interval); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case <-tr.Settled():
	case <-waitCtx.Done():
		_ = printRequests(env.out, tr.Requests())
		return fmt.Errorf("stopped waiting: %w", waitCtx.Err())
	}
	fmt.Fprintln(env.out)
	return printRequests(env.out, tr.Requests())
}

func printRequests(out io.Writer, reqs []domain.GenerationRequest) error {
	if len(reqs) == 0 {
		fmt.Fprintln(out, "No assets requested yet.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ASSET\tSTATUS\tREQUESTED\tRESULT")
	for _, r := range reqs {
		result := r.ResultURI
		if r.Status == domain.GenerationFailed {
			result = r.ErrorMessage
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.AssetType.Label(), r.Status, r.CreatedAt.Local().Format(time.DateTime), result)
	}
	return tw.Flush()
}
