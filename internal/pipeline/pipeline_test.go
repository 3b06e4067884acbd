package pipeline_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nace/triagedisk/internal/pipeline"
	"github.com/nace/triagedisk/internal/ui"
	"github.com/nace/triagedisk/internal/volume/volumetest"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"
)

const (
	triageRoot = "/triage"
	imagePath  = "/out/triage.vhdx"
)

type privileges bool

func (p privileges) HasElevatedPrivilege() bool { return bool(p) }

type logSink struct {
	bytes.Buffer
}

func (s *logSink) Close() error { return nil }

type harness struct {
	fs       afero.Fs
	provider *volumetest.Provider
	sink     *logSink
	console  *bytes.Buffer
	pipeline *pipeline.Pipeline
}

func newHarness(t *testing.T, elevated bool) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	h := &harness{
		fs:       fs,
		provider: volumetest.New(fs),
		sink:     &logSink{},
		console:  &bytes.Buffer{},
	}
	logger := ui.NewLoggerWithWriter(h.console, false, false, true)
	logger.AttachSink(h.sink)
	h.pipeline = pipeline.New(fs, h.provider, privileges(elevated), logger)
	return h
}

func (h *harness) write(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, h.fs.MkdirAll(filepath.Dir(name), 0o755))
	require.NoError(t, afero.WriteFile(h.fs, name, []byte(content), 0o644))
}

func (h *harness) read(t *testing.T, name string) string {
	t.Helper()
	data, err := afero.ReadFile(h.fs, name)
	require.NoError(t, err)
	return string(data)
}

// collection writes a minimal triage collection
func (h *harness) collection(t *testing.T) {
	t.Helper()
	h.write(t, "/triage/auto/C%3A/Windows/System32/config/SAM", "sam")
	h.write(t, "/triage/auto/C%3A/Users/alice/NTUSER.DAT", "old hive")
	h.write(t, "/triage/auto/%5C%5C.%5CC%3A/Users/alice/NTUSER.DAT", "locked hive")
	h.write(t, "/triage/auto/%5C%5C.%5CC%3A/pagefile.sys", "pages")
	h.write(t, "/triage/ntfs/%5C%5C.%5CC%3A/$MFT", "mft")
	h.write(t, "/triage/ntfs/%5C%5C.%5CC%3A/$Secure%3A$SDS", "sds")
	h.write(t, "/triage/ntfs/%5C%5C.%5CC%3A/$Extend/$UsnJrnl%3A$J", "journal")
}

func options() pipeline.Options {
	return pipeline.Options{
		TriageRoot:    triageRoot,
		ImagePath:     imagePath,
		SizeBytes:     8 << 30,
		SettleDelay:   time.Second,
		Retries:       1,
		RetryInterval: time.Millisecond,
		Sleep:         func(time.Duration) {},
	}
}

func requireClass(t *testing.T, err error, want pipeline.Class) {
	t.Helper()
	require.Error(t, err)
	class, ok := pipeline.ClassOf(err)
	require.True(t, ok, "not a pipeline error: %v", err)
	assert.Equal(t, want, class)
}

func TestRunBuildsImage(t *testing.T) {
	h := newHarness(t, true)
	h.collection(t)

	result, err := h.pipeline.Run(context.Background(), options())
	require.NoError(t, err)

	assert.Equal(t, imagePath, result.ImagePath)
	assert.Equal(t, "/mnt/E", result.Mount)
	assert.True(t, result.Detached)
	assert.Equal(t, 7, result.Stats.Files)
	assert.Zero(t, result.Stats.Failed)

	assert.Equal(t, "sam", h.read(t, "/mnt/E/C/Windows/System32/config/SAM"))
	assert.Equal(t, "locked hive", h.read(t, "/mnt/E/C/Users/alice/NTUSER.DAT"))
	assert.Equal(t, "pages", h.read(t, "/mnt/E/C/pagefile.sys"))
	assert.Equal(t, "mft", h.read(t, "/mnt/E/C/$MFT"))
	assert.Equal(t, "sds", h.read(t, "/mnt/E/C/$Secure_$SDS"))
	assert.Equal(t, "journal", h.read(t, "/mnt/E/C/$Extend/$J"))

	assert.Equal(t, []string{
		"CheckAvailable",
		"CreateImage",
		"Attach",
		"QueryPartitionState",
		"InitializeDisk",
		"CreateMaximalPartition",
		"FormatNTFS",
		"Detach",
	}, h.provider.Calls())
	assert.Equal(t, pipeline.VolumeLabel, h.provider.Label())
	assert.False(t, h.provider.IsAttached(imagePath))
	assert.Contains(t, h.sink.String(), "[SUCCESS] Image created: /out/triage.vhdx")
}

func TestRunWithoutSecondaryTree(t *testing.T) {
	h := newHarness(t, true)
	h.write(t, "/triage/auto/C%3A/Windows/System32/config/SAM", "sam")
	h.write(t, "/triage/ntfs/%5C%5C.%5CC%3A/$Secure%3A$SDS", "sds")

	result, err := h.pipeline.Run(context.Background(), options())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Stats.Files)
	assert.Equal(t, "sam", h.read(t, "/mnt/E/C/Windows/System32/config/SAM"))
	assert.Equal(t, "sds", h.read(t, "/mnt/E/C/$Secure_$SDS"))
	assert.Contains(t, h.sink.String(), "[WARNING] No %5C%5C.%5CC%3A tree")
}

func TestRunRefusesExistingImage(t *testing.T) {
	h := newHarness(t, true)
	h.collection(t)
	h.write(t, imagePath, "previous image")

	result, err := h.pipeline.Run(context.Background(), options())
	requireClass(t, err, pipeline.ClassPrecondition)
	assert.Nil(t, result)

	assert.Zero(t, h.provider.Count("CreateImage"))
	assert.Zero(t, h.provider.Count("Attach"))
	assert.Zero(t, h.provider.Count("Detach"))
	assert.Equal(t, "previous image", h.read(t, imagePath))
	assert.Contains(t, h.sink.String(), "[ERROR] Build failed: precondition")
	assert.Contains(t, h.sink.String(), "image already exists")
	assert.Contains(t, h.console.String(), "[ERROR] Build failed")
}

func TestRunOverwritesExistingImage(t *testing.T) {
	h := newHarness(t, true)
	h.collection(t)
	h.write(t, imagePath, "previous image")

	opts := options()
	opts.Overwrite = true
	_, err := h.pipeline.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, 1, h.provider.Count("CreateImage"))
	assert.Empty(t, h.read(t, imagePath))
}

func TestRunRequiresMetadataTree(t *testing.T) {
	h := newHarness(t, true)
	h.write(t, "/triage/auto/C%3A/Windows/System32/config/SAM", "sam")

	_, err := h.pipeline.Run(context.Background(), options())
	requireClass(t, err, pipeline.ClassPrecondition)
	assert.ErrorContains(t, err, "NTFS metadata tree")
	assert.Zero(t, h.provider.Count("CreateImage"))
}

func TestRunRequiresPrimaryTree(t *testing.T) {
	h := newHarness(t, true)
	h.write(t, "/triage/ntfs/%5C%5C.%5CC%3A/$MFT", "mft")

	_, err := h.pipeline.Run(context.Background(), options())
	requireClass(t, err, pipeline.ClassPrecondition)
	assert.Zero(t, h.provider.Count("CreateImage"))
}

func TestRunRequiresElevation(t *testing.T) {
	h := newHarness(t, false)
	h.collection(t)

	_, err := h.pipeline.Run(context.Background(), options())
	requireClass(t, err, pipeline.ClassPrecondition)
	assert.Empty(t, h.provider.Calls())
}

func TestRunRequiresProvider(t *testing.T) {
	h := newHarness(t, true)
	h.collection(t)
	h.provider.Errors["CheckAvailable"] = errors.New("Hyper-V module missing")

	_, err := h.pipeline.Run(context.Background(), options())
	requireClass(t, err, pipeline.ClassPrecondition)
	assert.Equal(t, []string{"CheckAvailable"}, h.provider.Calls())
}

func TestRunRejectsBadExcludePattern(t *testing.T) {
	h := newHarness(t, true)
	h.collection(t)

	opts := options()
	opts.Exclude = []string{"[unterminated"}
	_, err := h.pipeline.Run(context.Background(), opts)
	requireClass(t, err, pipeline.ClassPrecondition)
	assert.Zero(t, h.provider.Count("CreateImage"))
}

func TestRunDetachesAfterLifecycleFailure(t *testing.T) {
	h := newHarness(t, true)
	h.collection(t)
	h.provider.Errors["FormatNTFS"] = errors.New("format failed")

	_, err := h.pipeline.Run(context.Background(), options())
	requireClass(t, err, pipeline.ClassLifecycle)
	assert.ErrorContains(t, err, "format failed")

	assert.Equal(t, 1, h.provider.Count("Detach"))
	assert.False(t, h.provider.IsAttached(imagePath))
}

func TestRunSkipsDetachBeforeAttach(t *testing.T) {
	h := newHarness(t, true)
	h.collection(t)
	h.provider.Errors["CreateImage"] = errors.New("disk full")

	_, err := h.pipeline.Run(context.Background(), options())
	requireClass(t, err, pipeline.ClassLifecycle)
	assert.Zero(t, h.provider.Count("Detach"))
}

func TestRunDetachFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, true)
	h.collection(t)
	h.provider.Errors["Detach"] = errors.New("volume in use")

	result, err := h.pipeline.Run(context.Background(), options())
	require.NoError(t, err)
	assert.False(t, result.Detached)
	assert.Contains(t, h.sink.String(), "Failed to detach image")
	assert.Contains(t, h.sink.String(), "triagedisk detach /out/triage.vhdx")
}

func TestRunInterrupted(t *testing.T) {
	h := newHarness(t, true)
	h.collection(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.pipeline.Run(ctx, options())
	requireClass(t, err, pipeline.ClassUnexpected)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, h.provider.Count("Detach"))
}

func TestRunRecoversPanic(t *testing.T) {
	h := newHarness(t, true)
	h.collection(t)

	opts := options()
	opts.Sleep = func(time.Duration) { panic("settle exploded") }

	result, err := h.pipeline.Run(context.Background(), opts)
	requireClass(t, err, pipeline.ClassUnexpected)
	assert.Nil(t, result)
	assert.ErrorContains(t, err, "settle exploded")
	assert.Equal(t, 1, h.provider.Count("Detach"))
}
