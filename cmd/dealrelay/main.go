// Command dealrelay mirrors Slack deal channels into the CRM.
//
// Channels whose names carry a deal number ("deal482-kickoff") are linked to
// that deal: PDFs uploaded there become deal files, messages reacted to with
// a note emoji become deal notes, and an archive emoji starts a confirmed
// channel archive.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "dealrelay <command>",
	Short: "Slack to CRM deal relay",
	Long: `dealrelay watches Slack channels named after CRM deals and relays their
files, reacted messages and archive requests into the CRM.

Configuration comes from environment variables, optionally loaded from a
dotenv file (--env-file). Variables already set in the environment win.`,
	SilenceUsage: true,
}

func init() {
	if v := os.Getenv("VERSION"); v != "" {
		version = v
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load (missing file is ignored)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
