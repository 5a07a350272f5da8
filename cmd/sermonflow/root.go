package main

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"sermonflow/internal/apiclient"
)

// cliEnv carries the resolved connection settings and streams for subcommands.
type cliEnv struct {
	apiURL  string
	token   string
	verbose bool

	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer
}

func (e *cliEnv) client() (*apiclient.Client, error) {
	if strings.TrimSpace(e.token) == "" {
		return nil, errors.New("no token: pass --token or set SERMONFLOW_TOKEN")
	}
	return apiclient.New(e.apiURL, e.token)
}

func (e *cliEnv) logger() *slog.Logger {
	level := slog.LevelWarn
	if e.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(e.errOut, &slog.HandlerOptions{Level: level}))
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	env := &cliEnv{in: bufio.NewReader(in), out: out, errOut: errOut}

	rootCmd := &cobra.Command{
		Use:           "sermonflow",
		Short:         "SermonFlow - turn sermons into ready-to-send church content",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetIn(in)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	rootCmd.PersistentFlags().StringVar(&env.apiURL, "api-url", envOr("SERMONFLOW_API_URL", "http://localhost:8080"), "SermonFlow API base URL")
	rootCmd.PersistentFlags().StringVar(&env.token, "token", os.Getenv("SERMONFLOW_TOKEN"), "bearer token issued by the auth provider")
	rootCmd.PersistentFlags().BoolVarP(&env.verbose, "verbose", "v", false, "log polling activity to stderr")

	rootCmd.AddCommand(intakeCmd(env))
	rootCmd.AddCommand(churchCmd(env))
	rootCmd.AddCommand(adminCmd(env))
	rootCmd.AddCommand(sermonsCmd(env))
	rootCmd.AddCommand(assetsCmd(env))

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
