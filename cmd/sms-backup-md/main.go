package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/thephm/sms-backup-md/internal/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// app holds the persistent flags shared by every command.
type app struct {
	jsonOutput bool
	configPath string
	debug      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "sms-backup-md",
		Short: "Convert SMS Backup & Restore exports into normalized messages",
		Long: `sms-backup-md reads the XML written by SMS Backup & Restore,
resolves phone numbers to the people in your config, extracts MMS
attachments and keeps one message per id across overlapping exports.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&a.jsonOutput, "json", "j", false, "Output as JSON")
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file (default: config dir/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Log rejected records and parts")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"version": version,
					"commit":  commit,
					"date":    buildDate,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sms-backup-md %s (%s, %s)\n", version, commit, buildDate)
			return nil
		},
	})

	rootCmd.AddCommand(newImportCmd(a))
	rootCmd.AddCommand(newSyncCmd(a))
	rootCmd.AddCommand(newPeopleCmd(a))
	rootCmd.AddCommand(newMessagesCmd(a))

	return rootCmd
}

// loadConfig reads the config, letting --debug override the file.
func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	if a.debug {
		cfg.Debug = true
		cfg.Log.Debug = true
	}
	return cfg, nil
}

// fail reports err in the requested output format and returns it so the
// process exits non-zero.
func (a *app) fail(cmd *cobra.Command, err error) error {
	if a.jsonOutput {
		type Result struct {
			OK      bool   `json:"ok"`
			Message string `json:"message"`
		}
		printJSON(cmd.OutOrStdout(), Result{Message: err.Error()})
	} else {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err)
	}
	return err
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
