package main

import (
	"fmt"
	"io"

	"dealrelay/service/internal/bridge"
	"dealrelay/service/internal/config"

	"github.com/spf13/cobra"
)

var resolveJSON bool

// resolution is what the relay would do for one channel name.
type resolution struct {
	Channel  string `json:"channel"`
	DealID   string `json:"deal_id,omitempty"`
	Found    bool   `json:"found"`
	FileName string `json:"file_name,omitempty"`
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <channel-name>...",
	Short: "Show the deal id and upload name derived from channel names",
	Long: `Show the deal id and upload file name the relay would derive from each
channel name. Useful when a channel is not being synced.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnvFile(envFile); err != nil {
			return err
		}
		label := config.Parse().FileNameLabel
		results := resolveChannels(label, args)
		if resolveJSON {
			return printJSON(cmd.OutOrStdout(), results)
		}
		printResolutions(cmd.OutOrStdout(), results)
		return nil
	},
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveJSON, "json", false, "output as JSON")
}

func resolveChannels(label string, names []string) []resolution {
	out := make([]resolution, 0, len(names))
	for _, name := range names {
		r := resolution{Channel: name}
		if id, ok := bridge.ParseDealID(name); ok {
			r.DealID = id
			r.Found = true
			r.FileName = bridge.ScopeFileName(label, name)
		}
		out = append(out, r)
	}
	return out
}

func printResolutions(w io.Writer, results []resolution) {
	for _, r := range results {
		if !r.Found {
			fmt.Fprintf(w, "%s\tno deal id\n", r.Channel)
			continue
		}
		fmt.Fprintf(w, "%s\tdeal %s\t%s\n", r.Channel, r.DealID, r.FileName)
	}
}
