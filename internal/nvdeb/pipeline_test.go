package nvdeb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withTestDirs points the whole path layout at a temp cache for one test.
func withTestDirs(t *testing.T) {
	t.Helper()
	oldCache, oldSources, oldStaging := CacheDir, SourcesDir, StagingDir
	oldWork, oldOutput, oldPackages, oldLog := WorkDir, OutputDir, PackagesDir, LogDir
	t.Cleanup(func() {
		CacheDir, SourcesDir, StagingDir = oldCache, oldSources, oldStaging
		WorkDir, OutputDir, PackagesDir, LogDir = oldWork, oldOutput, oldPackages, oldLog
	})
	initConfig(&Config{Values: map[string]string{"NVDEB_CACHE": t.TempDir()}})
}

func TestStageError(t *testing.T) {
	underlying := errors.New("boom")
	err := &stageError{Stage: "build", Err: underlying}

	assert.Equal(t, "stage build: boom", err.Error())
	assert.True(t, errors.Is(err, underlying))
}

func TestStageErrorPreservesTaxonomy(t *testing.T) {
	// The stage wrapper must stay transparent to the failure sentinels.
	wrapped := &stageError{Stage: "verify", Err: errArchMismatch}
	assert.True(t, errors.Is(wrapped, errArchMismatch))
	assert.False(t, errors.Is(wrapped, errBuildFailed))
}

func TestRunPipelineRejectsUnknownSelector(t *testing.T) {
	withTestDirs(t)

	res := runPipeline(context.Background(), "riscv64", "stable",
		&Config{Values: map[string]string{}}, pipelineOptions{Quiet: true, LogOnly: true})

	require.Error(t, res.Err)
	assert.True(t, errors.Is(res.Err, errUnsupportedArch))
	assert.Nil(t, res.Desc)
	assert.Nil(t, res.Release)

	var se *stageError
	require.True(t, errors.As(res.Err, &se))
	assert.Equal(t, "resolve", se.Stage)

	// Resolution failure happens before any build work: nothing staged.
	matches, err := filepath.Glob(filepath.Join(StagingDir, "*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRunPipelineHonorsCancelledContext(t *testing.T) {
	withTestDirs(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := runPipeline(ctx, SelectorCross, "stable",
		&Config{Values: map[string]string{}}, pipelineOptions{Quiet: true, LogOnly: true})
	require.Error(t, res.Err)
	assert.Nil(t, res.Desc)
}
