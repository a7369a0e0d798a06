package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	testifymock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/heapshot-analysis/internal/mock"
	"github.com/heapshot-analysis/internal/parser/mlog"
	"github.com/heapshot-analysis/internal/storage"
	"github.com/heapshot-analysis/internal/testutil"
	"github.com/heapshot-analysis/pkg/compression"
	"github.com/heapshot-analysis/pkg/config"
	apperrors "github.com/heapshot-analysis/pkg/errors"
	"github.com/heapshot-analysis/pkg/model"
)

const (
	typeString = 0x10400
	typeBuffer = 0x10500
)

// captureBytes emits one heap walk, or two with a compaction in between: the
// string at 0x8000 moves to 0x9000, a new string takes its old address and
// is held only by the finalizer, and a new buffer appears at 0x8100.
func captureBytes(secondWalk bool) []byte {
	w := testutil.NewLogWriter(14, 8).StreamHeader()
	b := w.NewBuffer(1000, 0x10000, 0x1000, 0x5000)
	b.ClassLoad(1, typeString, 0x10100, "System.String")
	b.ClassLoad(1, typeBuffer, 0x10100, "System.Byte[]")
	b.Alloc(1, typeString, 0x8000, 24)
	b.Alloc(1, typeBuffer, 0x8008, 40)

	b.HeapBegin(10)
	b.HeapObject(1, 0x8000, typeString, 24)
	b.HeapObject(1, 0x8008, typeBuffer, 40, testutil.Ref{Offset: 16, Object: 0x8000})
	b.HeapRoots(1, testutil.Root{Object: 0x8008, Attributes: uint64(mlog.RootStack)})
	b.HeapEnd(1)

	if secondWalk {
		b.GCMove(10, [2]int64{0x8000, 0x9000})
		b.Alloc(1, typeString, 0x8000, 24)
		b.Alloc(1, typeBuffer, 0x8100, 100)

		b.HeapBegin(10)
		b.HeapObject(1, 0x8000, typeString, 24)
		b.HeapObject(1, 0x8008, typeBuffer, 40, testutil.Ref{Offset: 16, Object: 0x9000})
		b.HeapObject(1, 0x8100, typeBuffer, 100)
		b.HeapObject(1, 0x9000, typeString, 24)
		b.HeapRoots(1,
			testutil.Root{Object: 0x8008, Attributes: uint64(mlog.RootStack)},
			testutil.Root{Object: 0x8100, Attributes: uint64(mlog.RootStack)},
			testutil.Root{Object: 0x8000, Attributes: uint64(mlog.RootFinalizer)},
		)
		b.HeapEnd(1)
	}
	b.SyncPoint(1, 0)
	return w.Buffer(b).Bytes()
}

type env struct {
	dir     string
	config  string
	storage string
	capture string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	e := &env{
		dir:     dir,
		config:  filepath.Join(dir, "heapshot.yaml"),
		storage: filepath.Join(dir, "store"),
		capture: filepath.Join(dir, "app.mlpd"),
	}
	cfg := fmt.Sprintf(`processor:
  live_interval: 20ms
heapshot:
  data_dir: %s
database:
  path: %s
storage:
  type: local
  local_path: %s
log:
  level: error
`, filepath.Join(dir, "shots"), filepath.Join(dir, "reports.db"), e.storage)
	require.NoError(t, os.WriteFile(e.config, []byte(cfg), 0644))
	require.NoError(t, os.WriteFile(e.capture, captureBytes(true), 0644))
	return e
}

func (e *env) run(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	if a == nil {
		a = &app{newStorage: storage.NewStorage, openReports: openReportDB}
	}
	var out bytes.Buffer
	root := newRootCommand(a)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append(args, "--config", e.config))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func decode[T any](t *testing.T, s string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestAnalyze(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, nil, "analyze", "-i", e.capture)
	require.NoError(t, err)
	assert.Contains(t, out, "Heapshot 1")
	assert.Contains(t, out, "Heapshot 2")
	assert.Contains(t, out, "System.Byte[]")
	assert.Contains(t, out, "pid 4242")
}

func TestAnalyze_JSON(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, nil, "analyze", "-i", e.capture, "--json")
	require.NoError(t, err)

	report := decode[model.AnalysisReport](t, out)
	assert.Equal(t, int32(4242), report.Capture.ProcessID)
	assert.Equal(t, "x86_64", report.Capture.Architecture)
	assert.Equal(t, 8, report.Capture.PointerSize)
	assert.False(t, report.Process.Canceled)
	require.Len(t, report.Heapshots, 2)

	first, second := report.Heapshots[0], report.Heapshots[1]
	assert.Equal(t, int64(2), first.ObjectCount)
	assert.Equal(t, int64(64), first.TotalSize)
	assert.Equal(t, int64(4), second.ObjectCount)
	assert.Equal(t, int64(188), second.TotalSize)

	require.Len(t, second.Types, 2)
	assert.Equal(t, "System.Byte[]", second.Types[0].TypeName)
	assert.Equal(t, "primitive", second.Types[0].Category)
	assert.Equal(t, int64(140), second.Types[0].Size)
	assert.Equal(t, "System.String", second.Types[1].TypeName)
	assert.Equal(t, int64(1), second.Types[1].FinalizableCount)
}

func TestAnalyze_Inputs(t *testing.T) {
	e := newEnv(t)
	raw := captureBytes(true)

	var gz bytes.Buffer
	zw, err := compression.NewWriter(&gz, compression.TypeGzip, compression.LevelDefault)
	require.NoError(t, err)
	_, err = zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	gzPath := filepath.Join(e.dir, "app.mlpd.gz")
	require.NoError(t, os.WriteFile(gzPath, gz.Bytes(), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(e.storage, "captures"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(e.storage, "captures", "app.mlpd"), raw, 0644))

	tests := []struct {
		name  string
		input string
	}{
		{"gzip file", gzPath},
		{"storage key", "captures/app.mlpd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.run(t, nil, "analyze", "-i", tt.input, "--json")
			require.NoError(t, err)
			report := decode[model.AnalysisReport](t, out)
			assert.Len(t, report.Heapshots, 2)
		})
	}

	t.Run("missing", func(t *testing.T) {
		_, err := e.run(t, nil, "analyze", "-i", "captures/none.mlpd")
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("live compressed", func(t *testing.T) {
		_, err := e.run(t, nil, "analyze", "-i", gzPath, "--live")
		assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetErrorCode(err))
	})
}

func TestTypeFilter(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, nil, "analyze", "-i", e.capture, "--app-only", "--json")
	require.NoError(t, err)
	report := decode[model.AnalysisReport](t, out)
	require.Len(t, report.Heapshots, 2)
	assert.Empty(t, report.Heapshots[1].Types)

	out, err = e.run(t, nil, "analyze", "-i", e.capture, "--app-only", "--app-prefix", "System.Byte", "--json")
	require.NoError(t, err)
	report = decode[model.AnalysisReport](t, out)
	require.Len(t, report.Heapshots[1].Types, 1)
	assert.Equal(t, "application", report.Heapshots[1].Types[0].Category)

	out, err = e.run(t, nil, "diff", "-i", e.capture, "--app-only", "--app-prefix", "System.Byte", "--json")
	require.NoError(t, err)
	diffReport := decode[model.DiffReport](t, out)
	require.Len(t, diffReport.Rows, 1)
	assert.Equal(t, uint64(typeBuffer), diffReport.Rows[0].TypeID)
	assert.Equal(t, int64(100), diffReport.Totals.Growth())
}

func TestAnalyze_Live(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, nil, "analyze", "-i", e.capture, "--live", "--for", "200ms", "--json")
	require.NoError(t, err)

	report := decode[model.AnalysisReport](t, out)
	assert.True(t, report.Process.Canceled)
	assert.Len(t, report.Heapshots, 2)
}

func TestAnalyze_OutputFile(t *testing.T) {
	e := newEnv(t)
	path := filepath.Join(e.dir, "analysis.json.zst")

	_, err := e.run(t, nil, "analyze", "-i", e.capture, "-o", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, compression.TypeZstd, compression.Detect(data))
}

func TestDiff_SingleCapture(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, nil, "diff", "-i", e.capture, "--json")
	require.NoError(t, err)

	report := decode[model.DiffReport](t, out)
	assert.Equal(t, 1, report.OldHeapshot)
	assert.Equal(t, 2, report.NewHeapshot)
	require.NotNil(t, report.Capture)
	require.Len(t, report.Rows, 2)

	buffers, strs := report.Rows[0], report.Rows[1]
	assert.Equal(t, "System.Byte[]", buffers.TypeName)
	assert.Equal(t, int64(1), buffers.NewCount)
	assert.Equal(t, int64(100), buffers.NewSize)
	assert.Zero(t, buffers.DeadCount)

	assert.Equal(t, "System.String", strs.TypeName)
	assert.Zero(t, strs.NewCount)
	assert.Equal(t, int64(1), strs.NewFinalizableCount)
	assert.Zero(t, strs.DeadCount, "the moved string is the same object")

	assert.Equal(t, int64(124), report.Totals.Growth())
}

func TestDiff_TwoCaptures(t *testing.T) {
	e := newEnv(t)
	oldPath := filepath.Join(e.dir, "before.mlpd")
	require.NoError(t, os.WriteFile(oldPath, captureBytes(false), 0644))

	out, err := e.run(t, nil, "diff", "--old-input", oldPath, "--new-input", e.capture, "--json")
	require.NoError(t, err)

	report := decode[model.DiffReport](t, out)
	assert.Nil(t, report.Capture)
	assert.Equal(t, oldPath, report.OldSource)
	assert.Equal(t, e.capture, report.NewSource)
	// Separate captures share no allocation ids, so every object is new or dead.
	assert.Equal(t, model.DiffTotals{
		NewCount:            3,
		NewSize:             164,
		NewFinalizableCount: 1,
		NewFinalizableSize:  24,
		DeadCount:           2,
		DeadSize:            64,
	}, report.Totals)
	assert.Equal(t, int64(124), report.Totals.Growth())
}

func TestDiff_Text(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, nil, "diff", "-i", e.capture, "--type", "0x10400", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Heapshot 1")
	assert.Contains(t, out, "net +124 B")
	assert.Contains(t, out, "0x10400 new finalizable: 1 objects")
	assert.Contains(t, out, "0x8000")
}

func TestDiff_Errors(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"no input", []string{"diff"}, apperrors.CodeInvalidInput},
		{"same heapshot", []string{"diff", "-i", e.capture, "--old", "2", "--new", "2"}, apperrors.CodeInvalidInput},
		{"unknown heapshot", []string{"diff", "-i", e.capture, "--old", "7"}, apperrors.CodeNotFound},
		{"bad type", []string{"diff", "-i", e.capture, "--type", "string"}, apperrors.CodeInvalidInput},
		{"bad sort", []string{"diff", "-i", e.capture, "--type", "0x10400", "--sort", "name"}, apperrors.CodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.run(t, nil, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.GetErrorCode(err))
		})
	}
}

func TestDiff_SaveAndReports(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, nil, "diff", "-i", e.capture, "--save")
	require.NoError(t, err)
	assert.Contains(t, out, "saved as report 1")

	out, err = e.run(t, nil, "reports", "list")
	require.NoError(t, err)
	assert.Contains(t, out, e.capture+"#1")

	out, err = e.run(t, nil, "reports", "show", "1", "--json")
	require.NoError(t, err)
	report := decode[model.DiffReport](t, out)
	assert.Equal(t, int64(1), report.ID)
	assert.Len(t, report.Rows, 2)

	out, err = e.run(t, nil, "reports", "delete", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted report 1")

	_, err = e.run(t, nil, "reports", "show", "1")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = e.run(t, nil, "reports", "show", "abc")
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetErrorCode(err))
}

type mockReports struct {
	*mock.MockReportRepository
}

func (mockReports) Close() error { return nil }

func TestDiff_SaveAndExportWithMocks(t *testing.T) {
	e := newEnv(t)

	repo := &mock.MockReportRepository{}
	repo.ExpectSave(42, nil)
	store := &mock.MockStorage{}
	store.ExpectUpload("reports/latest.json.gz", nil)
	store.On("URL", "reports/latest.json.gz").Return("cos://reports/latest.json.gz")

	a := &app{
		newStorage: func(*config.StorageConfig) (storage.Storage, error) { return store, nil },
		openReports: func(context.Context, *config.DatabaseConfig) (reportStore, error) {
			return mockReports{repo}, nil
		},
	}

	out, err := e.run(t, a, "diff", "-i", e.capture, "--save", "--export", "reports/latest.json.gz")
	require.NoError(t, err)
	assert.Contains(t, out, "saved as report 42")

	repo.AssertExpectations(t)
	store.AssertExpectations(t)
	uploaded := store.Calls[0].Arguments.Get(2).([]byte)
	assert.Equal(t, compression.TypeGzip, compression.Detect(uploaded))
}

func TestDiff_SaveFailure(t *testing.T) {
	e := newEnv(t)

	repo := &mock.MockReportRepository{}
	repo.On("Save", testifymock.Anything, testifymock.Anything).
		Return(int64(0), apperrors.New(apperrors.CodeDatabaseError, "locked"))
	a := &app{
		newStorage: storage.NewStorage,
		openReports: func(context.Context, *config.DatabaseConfig) (reportStore, error) {
			return mockReports{repo}, nil
		},
	}

	_, err := e.run(t, a, "diff", "-i", e.capture, "--save")
	assert.True(t, apperrors.IsDatabaseError(err))
}

func TestTrace(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, nil, "trace", "-i", e.capture, "--address", "0x9000", "--json")
	require.NoError(t, err)

	report := decode[model.RootPathReport](t, out)
	assert.Equal(t, 2, report.Heapshot)
	assert.Equal(t, uint64(0x9000), report.Target)
	assert.Equal(t, 1, report.Depth)
	require.Len(t, report.Steps, 2)
	assert.Equal(t, uint64(0x8008), report.Steps[0].Address)
	assert.Equal(t, "root", report.Steps[0].RootKind)
	assert.Equal(t, uint64(16), report.Steps[1].Offset)
	assert.Equal(t, int64(0x8000), report.Steps[1].AllocID)
	assert.Equal(t, "System.String", report.Steps[1].TypeName)

	out, err = e.run(t, nil, "trace", "-i", e.capture, "-a", "0x9000")
	require.NoError(t, err)
	assert.Contains(t, out, "0x9000 is 1 references from a root")

	_, err = e.run(t, nil, "trace", "-i", e.capture, "-a", "0xdead")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = e.run(t, nil, "trace", "-i", e.capture, "-a", "nowhere")
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetErrorCode(err))
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "version dev")
}

func TestCaptureHeapshotSelection(t *testing.T) {
	e := newEnv(t)
	a := &app{newStorage: storage.NewStorage, openReports: openReportDB}
	_, err := e.run(t, a, "analyze", "-i", e.capture, "--json")
	require.NoError(t, err)

	c, err := a.load(context.Background(), e.capture, loadOptions{})
	require.NoError(t, err)
	defer c.Close()

	tests := []struct {
		id      int
		want    int
		wantErr bool
	}{
		{0, 2, false},
		{-1, 1, false},
		{1, 1, false},
		{2, 2, false},
		{-2, 0, true},
		{3, 0, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.id), func(t *testing.T) {
			h, err := c.heapshot(tt.id)
			if tt.wantErr {
				assert.True(t, apperrors.IsNotFound(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, h.ID())
		})
	}
}
