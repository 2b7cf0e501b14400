package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/scribe/config"
	"node.town/scribe/transcript"
	"node.town/scribe/webhook"
)

var endCmd = &cobra.Command{
	Use:   "end <meeting>",
	Short: "Tell the backend a meeting's transcription has ended",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnd,
}

var statsCmd = &cobra.Command{
	Use:   "stats <meeting>",
	Short: "Show the backend's transcription statistics for a meeting",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

func init() {
	endCmd.Flags().Int64("user", 0, "ID of the user ending the meeting")
}

func backendClient() (*webhook.Client, func() error, error) {
	cfg := config.Load(viper.GetViper())
	logs, err := createLoggers()
	if err != nil {
		return nil, nil, err
	}
	return webhook.New(
		cfg.BackendURL,
		cfg.BackendAPIKey,
		logs.hook,
		webhook.WithTimeout(cfg.WebhookTimeout),
		webhook.WithEndTimeout(cfg.WebhookEndTimeout),
	), logs.closeFn, nil
}

func runEnd(cmd *cobra.Command, args []string) error {
	client, closeLogs, err := backendClient()
	if err != nil {
		return err
	}
	defer closeLogs()

	userID, _ := cmd.Flags().GetInt64("user")
	meetingID := transcript.MeetingID(args[0])

	payload, ok := client.NotifySessionEnded(cmd.Context(), meetingID, userID)
	if !ok {
		return fmt.Errorf("backend did not accept the end of meeting %s", meetingID)
	}
	renderObject(os.Stdout, payload)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	client, closeLogs, err := backendClient()
	if err != nil {
		return err
	}
	defer closeLogs()

	meetingID := transcript.MeetingID(args[0])
	stats, err := client.TranscriptionStats(cmd.Context(), meetingID)
	if err != nil {
		return fmt.Errorf("fetch stats for %s: %w", meetingID, err)
	}
	renderObject(os.Stdout, stats)
	return nil
}

// renderObject prints a flat JSON object as a key/value table with keys in
// sorted order.
func renderObject(w io.Writer, obj map[string]any) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Field", "Value"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for _, k := range keys {
		table.Append([]string{k, fmt.Sprint(obj[k])})
	}
	table.Render()
}
