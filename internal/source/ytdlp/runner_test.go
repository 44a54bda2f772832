package ytdlp

import (
	"context"
	"testing"
	"time"

	"go-media-download/internal/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunnerTimeoutKillsProcess(t *testing.T) {
	r := &ExecRunner{Timeout: 150 * time.Millisecond}

	start := time.Now()
	err := r.Run(context.Background(), "sleep", []string{"10"}, nil)
	elapsed := time.Since(start)

	require.NotNil(t, err)
	assert.Equal(t, KindUnknown, err.Kind)
	assert.Less(t, elapsed, 3*time.Second, "timeout must not wait for the child's natural exit")
}

func TestExecRunnerClassifiesStderr(t *testing.T) {
	r := &ExecRunner{}
	err := r.Run(context.Background(), "sh", []string{"-c", "echo 'Video unavailable' >&2; exit 1"}, nil)

	require.NotNil(t, err)
	assert.Equal(t, KindVideoUnavailable, err.Kind)
	assert.Contains(t, err.Stderr, "Video unavailable")
}

func TestExecRunnerParsesProgressLines(t *testing.T) {
	r := &ExecRunner{}
	progress := make(chan source.Progress, 16)

	script := `printf '[download]   5.0%% of 10.00MiB at 500.00KiB/s ETA 00:10\n[download] 100%% of 10.00MiB\n'`
	err := r.Run(context.Background(), "sh", []string{"-c", script}, progress)
	require.Nil(t, err)

	var snaps []source.Progress
	for {
		select {
		case snap := <-progress:
			snaps = append(snaps, snap)
			continue
		default:
		}
		break
	}
	require.NotEmpty(t, snaps)
	assert.InDelta(t, 100, snaps[len(snaps)-1].Percent, 0.01)
}

func TestExecRunnerSpawnFailure(t *testing.T) {
	r := &ExecRunner{}
	err := r.Run(context.Background(), "/nonexistent/binary", nil, nil)
	require.NotNil(t, err)
	assert.Equal(t, KindUnknown, err.Kind)
}

func TestCaptureReturnsStdout(t *testing.T) {
	r := &ExecRunner{}
	out, err := r.Capture(context.Background(), "sh", []string{"-c", "echo probe-line"})
	require.Nil(t, err)
	assert.Contains(t, out, "probe-line")
}
