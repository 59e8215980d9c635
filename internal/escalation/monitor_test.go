// File: internal/escalation/monitor_test.go
package escalation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lukerm/parallellm-qa/internal/agent"
)

// fakeUploader records uploads in memory and fails keys matched by failOn.
type fakeUploader struct {
	mu      sync.Mutex
	objects map[string]string
	failOn  func(key string) bool
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{objects: map[string]string{}}
}

func (u *fakeUploader) Upload(ctx context.Context, key string, body io.Reader) error {
	if u.failOn != nil && u.failOn(key) {
		return errors.New("injected upload failure")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.objects[key] = string(data)
	return nil
}

// fakeNotifier records published notifications.
type fakeNotifier struct {
	notes []Notification
	err   error
}

func (n *fakeNotifier) Publish(ctx context.Context, note Notification) (string, error) {
	if n.err != nil {
		return "", n.err
	}
	n.notes = append(n.notes, note)
	return fmt.Sprintf("msg-%d", len(n.notes)), nil
}

// stageFolder creates one error folder with a trace and capture files.
func stageFolder(t *testing.T, errorDir, runID string, captures ...string) string {
	t.Helper()
	folder := filepath.Join(errorDir, runID)
	require.NoError(t, os.MkdirAll(folder, 0o755))
	trace := `{"run_id": "` + runID + `", "final_health_description": "empty responses"}`
	require.NoError(t, os.WriteFile(filepath.Join(folder, agent.TraceFileName), []byte(trace), 0o644))
	for _, name := range captures {
		require.NoError(t, os.WriteFile(filepath.Join(folder, name), []byte("png-bytes"), 0o644))
	}
	return folder
}

func newTestMonitor(t *testing.T, uploader Uploader, notifier Notifier, errorDir string, retain bool) *Monitor {
	t.Helper()
	return NewMonitor(zaptest.NewLogger(t), uploader, notifier, errorDir, "qa-bucket", "qa-monitoring", retain)
}

func TestUploadFolderFullSuccess(t *testing.T) {
	errorDir := t.TempDir()
	folder := stageFolder(t, errorDir, "runid123", "initial.png", "final.png")
	uploader := newFakeUploader()
	notifier := &fakeNotifier{}
	m := newTestMonitor(t, uploader, notifier, errorDir, false)

	processed := m.ProcessFolders(context.Background(), []string{folder})
	assert.Equal(t, 1, processed)

	// All three files land under prefix/date/run-id.
	date := time.Now().UTC().Format("2006-01-02")
	for _, name := range []string{agent.TraceFileName, "initial.png", "final.png"} {
		key := fmt.Sprintf("qa-monitoring/%s/runid123/%s", date, name)
		_, ok := uploader.objects[key]
		assert.True(t, ok, "missing object %s", key)
	}

	// The notification references the remote path and carries attributes.
	require.Len(t, notifier.notes, 1)
	note := notifier.notes[0]
	assert.Contains(t, note.Subject, "QA Error Detected")
	assert.Contains(t, note.Body, "runid123")
	assert.Contains(t, note.Body, "empty responses")
	assert.Contains(t, note.Body, "Files Uploaded: 3")
	assert.Equal(t, "runid123", note.Attributes["run_id"])
	// The location ends with a slash, naming the folder rather than a file.
	assert.Equal(t, fmt.Sprintf("s3://qa-bucket/qa-monitoring/%s/runid123/", date), note.Attributes["s3_path"])

	// The local folder is gone after full escalation.
	_, err := os.Stat(folder)
	assert.True(t, os.IsNotExist(err))
}

func TestUploadFolderPartialSuccess(t *testing.T) {
	errorDir := t.TempDir()
	folder := stageFolder(t, errorDir, "runid123", "initial.png", "final.png")
	uploader := newFakeUploader()
	// The trace upload fails; both images succeed.
	uploader.failOn = func(key string) bool {
		return strings.HasSuffix(key, agent.TraceFileName)
	}
	notifier := &fakeNotifier{}
	m := newTestMonitor(t, uploader, notifier, errorDir, false)

	result := m.UploadFolder(context.Background(), folder)
	assert.Equal(t, 2, result.FilesUploaded)
	assert.True(t, result.Success)
	assert.Equal(t, "runid123", result.RunID)
	assert.Equal(t, "empty responses", result.HealthDescription)

	// Partial success still notifies and deletes.
	processed := m.ProcessFolders(context.Background(), []string{folder})
	assert.Equal(t, 1, processed)
	require.Len(t, notifier.notes, 1)
	_, err := os.Stat(folder)
	assert.True(t, os.IsNotExist(err))
}

func TestUploadFolderZeroSuccessLeavesFolder(t *testing.T) {
	errorDir := t.TempDir()
	folder := stageFolder(t, errorDir, "runid123", "initial.png")
	uploader := newFakeUploader()
	uploader.failOn = func(string) bool { return true }
	notifier := &fakeNotifier{}
	m := newTestMonitor(t, uploader, notifier, errorDir, false)

	processed := m.ProcessFolders(context.Background(), []string{folder})
	assert.Equal(t, 0, processed)
	assert.Empty(t, notifier.notes)

	// The folder survives unchanged for the next scan.
	folders, err := m.ScanFolders()
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, folder, folders[0])
	assert.FileExists(t, filepath.Join(folder, agent.TraceFileName))
	assert.FileExists(t, filepath.Join(folder, "initial.png"))
}

func TestRetainKeepsFolderButCountsProcessed(t *testing.T) {
	errorDir := t.TempDir()
	folder := stageFolder(t, errorDir, "runid123")
	uploader := newFakeUploader()
	notifier := &fakeNotifier{}
	m := newTestMonitor(t, uploader, notifier, errorDir, true)

	processed := m.ProcessFolders(context.Background(), []string{folder})
	assert.Equal(t, 1, processed)
	assert.Len(t, notifier.notes, 1)
	assert.DirExists(t, folder)
}

func TestNotificationFailureDoesNotAffectCleanup(t *testing.T) {
	errorDir := t.TempDir()
	folder := stageFolder(t, errorDir, "runid123")
	uploader := newFakeUploader()
	notifier := &fakeNotifier{err: errors.New("topic unavailable")}
	m := newTestMonitor(t, uploader, notifier, errorDir, false)

	processed := m.ProcessFolders(context.Background(), []string{folder})
	assert.Equal(t, 1, processed)
	_, err := os.Stat(folder)
	assert.True(t, os.IsNotExist(err))
}

func TestNilNotifierDegradesToUploadOnly(t *testing.T) {
	errorDir := t.TempDir()
	folder := stageFolder(t, errorDir, "runid123")
	uploader := newFakeUploader()
	m := newTestMonitor(t, uploader, nil, errorDir, false)

	processed := m.ProcessFolders(context.Background(), []string{folder})
	assert.Equal(t, 1, processed)
	assert.NotEmpty(t, uploader.objects)
}

func TestScanFoldersOldestFirst(t *testing.T) {
	errorDir := t.TempDir()
	older := stageFolder(t, errorDir, "run-old")
	newer := stageFolder(t, errorDir, "run-new")

	// Force distinct modification times regardless of filesystem resolution.
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	m := newTestMonitor(t, newFakeUploader(), nil, errorDir, false)
	folders, err := m.ScanFolders()
	require.NoError(t, err)
	require.Len(t, folders, 2)
	assert.Equal(t, older, folders[0])
	assert.Equal(t, newer, folders[1])
}

func TestScanFoldersMissingDirIsEmpty(t *testing.T) {
	m := newTestMonitor(t, newFakeUploader(), nil, filepath.Join(t.TempDir(), "absent"), false)
	folders, err := m.ScanFolders()
	require.NoError(t, err)
	assert.Empty(t, folders)
}

func TestScanFoldersIgnoresPlainFiles(t *testing.T) {
	errorDir := t.TempDir()
	stageFolder(t, errorDir, "runid123")
	require.NoError(t, os.WriteFile(filepath.Join(errorDir, "stray.log"), []byte("x"), 0o644))

	m := newTestMonitor(t, newFakeUploader(), nil, errorDir, false)
	folders, err := m.ScanFolders()
	require.NoError(t, err)
	require.Len(t, folders, 1)
}

func TestProcessFoldersContinueOnError(t *testing.T) {
	errorDir := t.TempDir()
	bad := stageFolder(t, errorDir, "run-bad")
	good := stageFolder(t, errorDir, "run-good")
	uploader := newFakeUploader()
	uploader.failOn = func(key string) bool {
		return strings.Contains(key, "run-bad")
	}
	m := newTestMonitor(t, uploader, nil, errorDir, false)

	processed := m.ProcessFolders(context.Background(), []string{bad, good})
	assert.Equal(t, 1, processed)
	assert.DirExists(t, bad)
	_, err := os.Stat(good)
	assert.True(t, os.IsNotExist(err))
}

func TestUploadFolderMissingTrace(t *testing.T) {
	errorDir := t.TempDir()
	folder := filepath.Join(errorDir, "runid123")
	require.NoError(t, os.MkdirAll(folder, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "only.png"), []byte("png"), 0o644))

	m := newTestMonitor(t, newFakeUploader(), nil, errorDir, false)

	// The absent trace is a file-level failure, not a folder-level crash.
	result := m.UploadFolder(context.Background(), folder)
	assert.Equal(t, 1, result.FilesUploaded)
	assert.True(t, result.Success)
	assert.Empty(t, result.HealthDescription)
}

func TestRunSweep(t *testing.T) {
	errorDir := t.TempDir()
	stageFolder(t, errorDir, "run-1")
	stageFolder(t, errorDir, "run-2")
	m := newTestMonitor(t, newFakeUploader(), &fakeNotifier{}, errorDir, false)

	processed, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	remaining, err := m.ScanFolders()
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
