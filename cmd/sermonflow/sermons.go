package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func sermonsCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sermons",
		Aliases: []string{"sermon"},
		Short:   "Upload and list sermon transcripts",
	}
	cmd.AddCommand(sermonsListCmd(env))
	cmd.AddCommand(sermonsCreateCmd(env))
	cmd.AddCommand(sermonsShowCmd(env))
	return cmd
}

func sermonsListCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your church's sermons",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := env.client()
			if err != nil {
				return err
			}
			sermons, err := client.ListSermons(cmd.Context())
			if err != nil {
				return err
			}
			if len(sermons) == 0 {
				fmt.Fprintln(env.out, "No sermons yet.")
				return nil
			}
			tw := tabwriter.NewWriter(env.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tWORDS\tCREATED")
			for _, s := range sermons {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, s.Title, len(strings.Fields(s.Transcript)), s.CreatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

func sermonsCreateCmd(env *cliEnv) *cobra.Command {
	var title, file, text string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add a sermon from a transcript file or inline text",
		Long: `Adds a sermon. Files may be .txt, .md, .html or .pdf; the title
defaults to the file name when omitted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" && text == "" {
				return errors.New("one of --file or --text is required")
			}
			client, err := env.client()
			if err != nil {
				return err
			}
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				doc, err := client.UploadSermon(cmd.Context(), title, file, f)
				if err != nil {
					return err
				}
				fmt.Fprintf(env.out, "Created sermon %q (%s)\n", doc.Title, doc.ID)
				return nil
			}
			doc, err := client.CreateSermon(cmd.Context(), title, text)
			if err != nil {
				return err
			}
			fmt.Fprintf(env.out, "Created sermon %q (%s)\n", doc.Title, doc.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "sermon title")
	cmd.Flags().StringVarP(&file, "file", "f", "", "transcript file to upload")
	cmd.Flags().StringVar(&text, "text", "", "transcript text")
	cmd.MarkFlagsMutuallyExclusive("file", "text")
	return cmd
}

func sermonsShowCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "show <sermon-id>",
		Short: "Print a sermon transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := env.client()
			if err != nil {
				return err
			}
			doc, err := client.GetSermon(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(env.out, "# %s\n\n%s\n", doc.Title, doc.Transcript)
			return nil
		},
	}
}
