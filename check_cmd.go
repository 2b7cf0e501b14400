package main

import (
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/scribe/config"
)

const minDeepgramKeyLen = 20

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration before running the agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load(viper.GetViper())
		if !checkConfig(os.Stdout, cfg) {
			return fmt.Errorf("configuration check failed")
		}
		return nil
	},
}

// checkConfig prints every required setting with its value masked and
// reports whether the configuration is usable.
func checkConfig(w io.Writer, cfg config.Config) bool {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Setting", "Variable", "Value"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	for _, s := range cfg.Required() {
		value := "NOT SET"
		if s.Value != "" {
			value = config.Mask(s.Value)
		}
		table.Append([]string{s.Description, s.Env, value})
	}
	table.Append([]string{"Backend URL", "BACKEND_URL", cfg.BackendURL})
	table.Render()

	ok := true
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(w, "\n%s\n", err)
		ok = false
	}
	if cfg.DeepgramAPIKey != "" && len(cfg.DeepgramAPIKey) < minDeepgramKeyLen {
		fmt.Fprintln(w, "\nDeepgram API key seems too short")
		ok = false
	}

	if ok {
		fmt.Fprintln(w, "\nAll required settings are present.")
	}
	return ok
}
