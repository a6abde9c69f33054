package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thephm/sms-backup-md/internal/attachment"
	"github.com/thephm/sms-backup-md/internal/config"
	"github.com/thephm/sms-backup-md/internal/importer"
	"github.com/thephm/sms-backup-md/internal/logging"
	"github.com/thephm/sms-backup-md/internal/message"
	"github.com/thephm/sms-backup-md/internal/mime"
	"github.com/thephm/sms-backup-md/internal/store"
	"github.com/thephm/sms-backup-md/internal/sync"
)

func newImportCmd(a *app) *cobra.Command {
	var (
		noSave bool
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import an SMS Backup & Restore XML export",
		Long: `Parses the export, writes MMS attachments under the attachments
folder and saves accepted messages to the message store. A relative
file name is looked up in source_folder when it is not found as given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			type Result struct {
				OK                 bool   `json:"ok"`
				Message            string `json:"message,omitempty"`
				Path               string `json:"path"`
				AttachmentsDir     string `json:"attachments_dir"`
				Records            int    `json:"records"`
				SMS                int    `json:"sms"`
				MMS                int    `json:"mms"`
				Accepted           int    `json:"accepted"`
				Rejected           int    `json:"rejected"`
				Replaced           int    `json:"replaced"`
				Messages           int    `json:"messages"`
				AttachmentsWritten int    `json:"attachments_written"`
				PartsFailed        int    `json:"parts_failed"`
				AddressesSkipped   int    `json:"addresses_skipped"`
				RunID              string `json:"run_id,omitempty"`
				StorePath          string `json:"store_path,omitempty"`
				Created            int    `json:"created"`
				Updated            int    `json:"updated"`
			}

			cfg, err := a.loadConfig()
			if err != nil {
				return a.fail(cmd, err)
			}

			logger, err := logging.New(cfg.Log)
			if err != nil {
				return a.fail(cmd, err)
			}
			defer logger.Sync()

			im, err := newImporter(cfg, logger)
			if err != nil {
				return a.fail(cmd, err)
			}
			attachDir := cfg.AttachmentsDir()

			path := sourcePath(cfg, args[0])
			msgs := message.NewCollection()
			res, err := im.Load(path, msgs)
			if err != nil {
				return a.fail(cmd, err)
			}

			result := Result{
				OK:                 true,
				Path:               path,
				AttachmentsDir:     attachDir,
				Records:            res.RecordsSeen,
				SMS:                res.SMSSeen,
				MMS:                res.MMSSeen,
				Accepted:           res.Accepted,
				Rejected:           res.Rejected,
				Replaced:           res.Replaced,
				Messages:           msgs.Len(),
				AttachmentsWritten: res.AttachmentsWritten,
				PartsFailed:        res.PartsFailed,
				AddressesSkipped:   res.AddressesSkipped,
			}

			if !noSave {
				if dbPath == "" {
					if dbPath, err = cfg.StorePath(); err != nil {
						return a.fail(cmd, err)
					}
				}
				st, err := store.Open(cfg.Store.Driver, dbPath)
				if err != nil {
					return a.fail(cmd, err)
				}
				defer st.Close()

				run := store.NewRun(path)
				run.StartedAt = run.StartedAt.Add(-res.Duration)
				run.Records = res.RecordsSeen
				run.Accepted = res.Accepted
				run.Rejected = res.Rejected
				run.Replaced = res.Replaced

				saved, err := st.SaveRun(cmd.Context(), run, msgs.Messages())
				if err != nil {
					return a.fail(cmd, err)
				}
				logger.Info("messages saved",
					zap.String("run_id", run.ID),
					zap.String("store", dbPath),
					zap.Int("created", saved.Created),
					zap.Int("updated", saved.Updated),
				)
				result.RunID = run.ID
				result.StorePath = dbPath
				result.Created = saved.Created
				result.Updated = saved.Updated
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return printJSON(out, result)
			}
			fmt.Fprintf(out, "Imported %d of %d records from %s\n", result.Accepted, result.Records, path)
			fmt.Fprintf(out, "  sms: %d  mms: %d  rejected: %d  replaced: %d\n",
				result.SMS, result.MMS, result.Rejected, result.Replaced)
			fmt.Fprintf(out, "  attachments written: %d  failed parts: %d  unknown addresses: %d\n",
				result.AttachmentsWritten, result.PartsFailed, result.AddressesSkipped)
			if result.StorePath != "" {
				fmt.Fprintf(out, "  saved to %s (%d new, %d updated)\n", result.StorePath, result.Created, result.Updated)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noSave, "no-save", false, "Do not write messages to the store")
	cmd.Flags().StringVar(&dbPath, "db", "", "Message store path (default: data dir/messages.db)")
	return cmd
}

// newImporter wires the identity directory, classifier and extractor
// described by cfg, creating the attachments folder if needed.
func newImporter(cfg *config.Config, logger *zap.Logger) (*importer.Importer, error) {
	dir, err := cfg.Directory()
	if err != nil {
		return nil, fmt.Errorf("invalid identities: %w", err)
	}

	attachDir := cfg.AttachmentsDir()
	if err := os.MkdirAll(attachDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create attachments folder: %w", err)
	}
	ex, err := attachment.NewExtractor(attachDir)
	if err != nil {
		return nil, err
	}

	return importer.New(importer.Options{
		Directory:         dir,
		Classifier:        mime.NewClassifier(cfg.MIMETypes),
		Extractor:         ex,
		Logger:            logger,
		WriteBeforeAccept: cfg.Attachments.WriteBeforeAccept,
	})
}

// sourcePath resolves a relative export name against source_folder when it
// does not exist as given.
func sourcePath(cfg *config.Config, name string) string {
	if filepath.IsAbs(name) || cfg.SourceFolder == "" {
		return name
	}
	if _, err := os.Stat(name); err == nil {
		return name
	}
	return filepath.Join(cfg.SourceFolder, name)
}

func newSyncCmd(a *app) *cobra.Command {
	var (
		noSave bool
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Import every export in source_folder",
		Long: `Imports each *.xml file in source_folder in name order into one
collection, so later exports replace messages from earlier ones, then
saves the result. A file that cannot be parsed is reported and skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return a.fail(cmd, err)
			}
			if cfg.SourceFolder == "" {
				return a.fail(cmd, fmt.Errorf("source_folder is not configured"))
			}

			logger, err := logging.New(cfg.Log)
			if err != nil {
				return a.fail(cmd, err)
			}
			defer logger.Sync()

			im, err := newImporter(cfg, logger)
			if err != nil {
				return a.fail(cmd, err)
			}

			var st *store.Store
			if !noSave {
				if dbPath == "" {
					if dbPath, err = cfg.StorePath(); err != nil {
						return a.fail(cmd, err)
					}
				}
				if st, err = store.Open(cfg.Store.Driver, dbPath); err != nil {
					return a.fail(cmd, err)
				}
				defer st.Close()
			}

			result := sync.SyncAll(cmd.Context(), im, st, cfg.SourceFolder)

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				if err := printJSON(out, result); err != nil {
					return err
				}
			} else {
				if result.Message != "" {
					fmt.Fprintln(out, result.Message)
				}
				for _, f := range result.Files {
					if !f.Success {
						fmt.Fprintf(out, "  %s: failed: %s\n", f.Path, f.Error)
						continue
					}
					fmt.Fprintf(out, "  %s: %d of %d accepted, %d replaced (%s)\n",
						f.Path, f.Accepted, f.Records, f.Replaced, f.Duration)
				}
				if result.RunID != "" {
					fmt.Fprintf(out, "Saved %d messages to %s (%d new, %d updated)\n",
						result.Messages, dbPath, result.Created, result.Updated)
				}
			}
			if !result.OK {
				return fmt.Errorf("sync finished with errors")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noSave, "no-save", false, "Do not write messages to the store")
	cmd.Flags().StringVar(&dbPath, "db", "", "Message store path (default: data dir/messages.db)")
	return cmd
}

func newPeopleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "people",
		Short: "List the configured identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return a.fail(cmd, err)
			}
			dir, err := cfg.Directory()
			if err != nil {
				return a.fail(cmd, err)
			}

			people := dir.People()
			if a.jsonOutput {
				return printJSON(cmd.OutOrStdout(), people)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SLUG\tMOBILE\tNAME")
			for _, p := range people {
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.Slug, p.Mobile, p.DisplayName)
			}
			return w.Flush()
		},
	}
}

func newMessagesCmd(a *app) *cobra.Command {
	var (
		dbPath string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "messages",
		Short: "List messages saved in the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return a.fail(cmd, err)
			}
			if dbPath == "" {
				if dbPath, err = cfg.StorePath(); err != nil {
					return a.fail(cmd, err)
				}
			}
			if _, err := os.Stat(dbPath); err != nil {
				return a.fail(cmd, fmt.Errorf("no message store at %s: run import first", dbPath))
			}

			st, err := store.Open(cfg.Store.Driver, dbPath)
			if err != nil {
				return a.fail(cmd, err)
			}
			defer st.Close()

			msgs, err := st.Messages(cmd.Context())
			if err != nil {
				return a.fail(cmd, err)
			}
			if limit > 0 && len(msgs) > limit {
				msgs = msgs[len(msgs)-limit:]
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				if msgs == nil {
					msgs = []*message.Message{}
				}
				return printJSON(out, msgs)
			}
			for _, m := range msgs {
				fmt.Fprintf(out, "%s  %s -> %s", m.Time().Format("2006-01-02 15:04"), m.FromSlug, strings.Join(m.ToSlugs, ","))
				if m.GroupSlug != "" {
					fmt.Fprintf(out, " [%s]", m.GroupSlug)
				}
				fmt.Fprintf(out, ": %s", m.Body)
				if n := len(m.Attachments); n > 0 {
					fmt.Fprintf(out, " (%d attachments)", n)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Message store path (default: data dir/messages.db)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show only the most recent N messages")
	return cmd
}
