package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/thephm/sms-backup-md/internal/importer"
	"github.com/thephm/sms-backup-md/internal/message"
	"github.com/thephm/sms-backup-md/internal/store"
)

// FileResult contains the result of importing a single export
type FileResult struct {
	Path               string `json:"path"`
	Success            bool   `json:"success"`
	Error              string `json:"error,omitempty"`
	Records            int    `json:"records"`
	Accepted           int    `json:"accepted"`
	Rejected           int    `json:"rejected"`
	Replaced           int    `json:"replaced"`
	AttachmentsWritten int    `json:"attachments_written"`
	Duration           string `json:"duration"`
}

// SyncResult contains the results of importing a whole folder
type SyncResult struct {
	OK       bool         `json:"ok"`
	Message  string       `json:"message,omitempty"`
	Files    []FileResult `json:"files,omitempty"`
	Messages int          `json:"messages"`
	RunID    string       `json:"run_id,omitempty"`
	Created  int          `json:"created"`
	Updated  int          `json:"updated"`
}

// Exports lists the XML exports directly inside dir, oldest name first.
// SMS Backup & Restore names files sms-<timestamp>.xml so name order is
// export order.
func Exports(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read source folder: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".xml") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// SyncAll imports every export in dir into one collection, so later exports
// replace messages from earlier ones, and then saves the collection to st
// when st is non-nil.
func SyncAll(ctx context.Context, im *importer.Importer, st *store.Store, dir string) SyncResult {
	result := SyncResult{OK: true}

	paths, err := Exports(dir)
	if err != nil {
		result.OK = false
		result.Message = err.Error()
		return result
	}
	if len(paths) == 0 {
		result.Message = "No exports found in " + dir
		return result
	}

	run := store.NewRun(dir)
	msgs := message.NewCollection()
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			result.OK = false
			result.Message = err.Error()
			return result
		}

		fileResult := syncFile(im, path, msgs)
		result.Files = append(result.Files, fileResult)

		if !fileResult.Success {
			// One export failing doesn't stop others, but overall sync is not OK
			result.OK = false
			continue
		}
		run.Records += fileResult.Records
		run.Accepted += fileResult.Accepted
		run.Rejected += fileResult.Rejected
		run.Replaced += fileResult.Replaced
	}
	result.Messages = msgs.Len()

	if st == nil {
		return result
	}

	saved, err := st.SaveRun(ctx, run, msgs.Messages())
	if err != nil {
		result.OK = false
		result.Message = fmt.Sprintf("Failed to save messages: %v", err)
		return result
	}
	result.RunID = run.ID
	result.Created = saved.Created
	result.Updated = saved.Updated
	return result
}

// syncFile imports a single export into msgs and returns its result
func syncFile(im *importer.Importer, path string, msgs *message.Collection) FileResult {
	result := FileResult{Path: path}
	start := time.Now()

	res, err := im.Load(path, msgs)
	result.Duration = time.Since(start).String()
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Success = true
	result.Records = res.RecordsSeen
	result.Accepted = res.Accepted
	result.Rejected = res.Rejected
	result.Replaced = res.Replaced
	result.AttachmentsWritten = res.AttachmentsWritten
	return result
}
