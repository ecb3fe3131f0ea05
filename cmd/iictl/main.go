// Command iictl is a standalone front end for the inverted index engine:
// create a column, feed it updates or a bulk build, and run queries
// against it from the shell, without a surrounding database process.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to ii.Config/ii.Create/ii.Open via dependency injection
//   - No global slog configuration (no slog.SetDefault)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"invidx/internal/logging"
)

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "iictl",
		Short: "Manage and query an inverted index column",
	}
	rootCmd.PersistentFlags().String("path", "", "index file path (required)")
	rootCmd.PersistentFlags().String("verbose", "", "component=level pairs, comma-separated (e.g. ii=debug,query=debug)")
	_ = rootCmd.MarkPersistentFlagRequired("path")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetString("verbose")
		applyVerbosity(filterHandler, verbose)
		return nil
	}

	rootCmd.AddCommand(
		newCreateCmd(logger),
		newUpdateCmd(logger),
		newBuildCmd(logger),
		newSelectCmd(logger),
		newStatsCmd(logger),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
