// File: internal/escalation/monitor.go
package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/lukerm/parallellm-qa/internal/agent"
)

// UploadResult summarizes one error folder's escalation outcome. Success
// means at least one file reached the object store, not that every file did.
type UploadResult struct {
	RunID             string
	Date              string
	S3Path            string
	FilesUploaded     int
	Success           bool
	HealthDescription string
}

// Monitor sweeps the error-folder namespace, uploading staged failure
// artefacts to the object store, notifying the downstream channel, and
// cleaning up folders whose upload succeeded. It is safe to run on a
// periodic tick alongside new staging: folders with zero successful uploads
// are simply left for the next scan.
type Monitor struct {
	logger   *zap.Logger
	uploader Uploader
	notifier Notifier
	errorDir string
	bucket   string
	prefix   string
	retain   bool
}

// NewMonitor builds a monitor. A nil notifier degrades escalation to
// upload-only, which is logged once as a warning.
func NewMonitor(logger *zap.Logger, uploader Uploader, notifier Notifier, errorDir, bucket, prefix string, retain bool) *Monitor {
	log := logger.Named("monitor")
	if notifier == nil {
		log.Warn("No notification channel configured, escalation degrades to upload-only")
	}
	return &Monitor{
		logger:   log,
		uploader: uploader,
		notifier: notifier,
		errorDir: errorDir,
		bucket:   bucket,
		prefix:   prefix,
		retain:   retain,
	}
}

// ScanFolders lists the staged error folders, oldest first, so that
// long-stuck failures escalate before fresh ones. A missing error directory
// is an empty scan, not an error.
func (m *Monitor) ScanFolders() ([]string, error) {
	entries, err := os.ReadDir(m.errorDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read error directory %s: %w", m.errorDir, err)
	}

	type folder struct {
		path    string
		modTime time.Time
	}
	var folders []folder
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			m.logger.Warn("Failed to stat error folder", zap.String("folder", entry.Name()), zap.Error(err))
			continue
		}
		folders = append(folders, folder{
			path:    filepath.Join(m.errorDir, entry.Name()),
			modTime: info.ModTime(),
		})
	}
	sort.Slice(folders, func(i, j int) bool {
		return folders[i].modTime.Before(folders[j].modTime)
	})

	paths := make([]string, 0, len(folders))
	for _, f := range folders {
		paths = append(paths, f.path)
	}
	return paths, nil
}

// UploadFolder pushes one error folder's trace and capture files to the
// object store, file by file. Partial success is allowed: a folder with N
// files where M upload is reported with FilesUploaded=M and Success=(M>0).
func (m *Monitor) UploadFolder(ctx context.Context, folder string) UploadResult {
	runID := filepath.Base(folder)
	result := UploadResult{
		RunID: runID,
		Date:  m.folderDate(folder),
	}

	keyPrefix := path.Join(m.prefix, result.Date, runID)
	result.S3Path = fmt.Sprintf("s3://%s/%s/", m.bucket, keyPrefix)

	files := []string{filepath.Join(folder, agent.TraceFileName)}
	if captures, err := filepath.Glob(filepath.Join(folder, "*.png")); err == nil {
		files = append(files, captures...)
	}

	for _, file := range files {
		if err := m.uploadFile(ctx, file, path.Join(keyPrefix, filepath.Base(file))); err != nil {
			m.logger.Warn("Failed to upload file",
				zap.String("run_id", runID), zap.String("file", file), zap.Error(err))
			continue
		}
		result.FilesUploaded++
	}
	result.Success = result.FilesUploaded > 0
	result.HealthDescription = m.healthDescription(folder)

	m.logger.Info("Uploaded error folder",
		zap.String("run_id", runID),
		zap.String("s3_path", result.S3Path),
		zap.Int("files_uploaded", result.FilesUploaded),
		zap.Bool("success", result.Success))
	return result
}

func (m *Monitor) uploadFile(ctx context.Context, file, key string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	return m.uploader.Upload(ctx, key, f)
}

// folderDate derives the remote key's date segment from the folder's
// modification time, so retried folders land under the same key.
func (m *Monitor) folderDate(folder string) string {
	info, err := os.Stat(folder)
	if err != nil {
		return time.Now().UTC().Format("2006-01-02")
	}
	return info.ModTime().UTC().Format("2006-01-02")
}

// healthDescription extracts the human-readable failure summary from the
// staged trace, tolerating a missing or unreadable trace.
func (m *Monitor) healthDescription(folder string) string {
	data, err := os.ReadFile(filepath.Join(folder, agent.TraceFileName))
	if err != nil {
		return ""
	}
	var trace struct {
		FinalHealthDescription string `json:"final_health_description"`
	}
	if err := json.Unmarshal(data, &trace); err != nil {
		return ""
	}
	return trace.FinalHealthDescription
}

// notify publishes the escalation notification. Failures are logged only:
// they never affect the upload outcome or cleanup decision.
func (m *Monitor) notify(ctx context.Context, result UploadResult) {
	if m.notifier == nil {
		return
	}

	preview := result.RunID
	if len(preview) > 20 {
		preview = preview[:20] + "..."
	}

	note := Notification{
		Subject: fmt.Sprintf("QA Error Detected: %s", preview),
		Body: fmt.Sprintf(
			"Run ID: %s\nDate: %s\nCreated: %s\nFiles Uploaded: %d\nFinal Health Description: %s\nS3 Location: %s\n",
			result.RunID, result.Date, time.Now().UTC().Format(time.RFC3339),
			result.FilesUploaded, result.HealthDescription, result.S3Path),
		Attributes: map[string]string{
			"run_id":  result.RunID,
			"date":    result.Date,
			"s3_path": result.S3Path,
		},
	}

	messageID, err := m.notifier.Publish(ctx, note)
	if err != nil {
		m.logger.Error("Failed to publish notification",
			zap.String("run_id", result.RunID), zap.Error(err))
		return
	}
	m.logger.Info("Notification published",
		zap.String("run_id", result.RunID), zap.String("message_id", messageID))
}

// deleteFolder removes a fully escalated folder unless the retain policy is
// set, in which case deletion is a no-op that still counts as processed.
func (m *Monitor) deleteFolder(folder string) {
	if m.retain {
		m.logger.Info("Retain policy set, keeping error folder", zap.String("folder", folder))
		return
	}
	if err := os.RemoveAll(folder); err != nil {
		m.logger.Error("Failed to delete error folder", zap.String("folder", folder), zap.Error(err))
		return
	}
	m.logger.Info("Deleted error folder", zap.String("folder", folder))
}

// ProcessFolders escalates each folder in turn. One folder's failure never
// aborts the rest of the scan; folders with zero successful uploads are left
// in place for the next scan. Returns the number of folders whose upload
// succeeded.
func (m *Monitor) ProcessFolders(ctx context.Context, folders []string) int {
	processed := 0
	for _, folder := range folders {
		if ctx.Err() != nil {
			m.logger.Warn("Scan interrupted", zap.Error(ctx.Err()))
			break
		}

		result := m.UploadFolder(ctx, folder)
		if !result.Success {
			m.logger.Warn("No files uploaded, leaving folder for next scan",
				zap.String("folder", folder))
			continue
		}

		m.notify(ctx, result)
		m.deleteFolder(folder)
		processed++
	}
	return processed
}

// Run performs one full scan-and-escalate sweep.
func (m *Monitor) Run(ctx context.Context) (int, error) {
	folders, err := m.ScanFolders()
	if err != nil {
		return 0, err
	}
	if len(folders) == 0 {
		m.logger.Info("No error folders found")
		return 0, nil
	}
	m.logger.Info("Found error folders", zap.Int("count", len(folders)))
	return m.ProcessFolders(ctx, folders), nil
}
