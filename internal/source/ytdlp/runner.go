package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go-media-download/internal/source"

	log "github.com/sirupsen/logrus"
)

// stderrTailLines bounds how much diagnostic output is kept for
// classification; yt-dlp can emit megabytes of fragment retry noise.
const stderrTailLines = 200

// progressStep is the minimum percent advance between emitted snapshots.
const progressStep = 1.0

// Runner executes one tool invocation. Run streams progress and returns nil
// on success or a classified error. Capture runs a short probe invocation
// and returns its stdout.
type Runner interface {
	Run(ctx context.Context, bin string, args []string, progress chan<- source.Progress) *RunError
	Capture(ctx context.Context, bin string, args []string) (string, *RunError)
}

// ExecRunner runs the real subprocess with a hard wall-clock timeout. On
// timeout the child is killed and reaped before Run returns.
type ExecRunner struct {
	Timeout time.Duration
}

func (r *ExecRunner) Run(ctx context.Context, bin string, args []string, progress chan<- source.Progress) *RunError {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.Command(bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &RunError{Kind: KindUnknown, Stderr: fmt.Sprintf("failed to open stdout pipe: %v", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &RunError{Kind: KindUnknown, Stderr: fmt.Sprintf("failed to open stderr pipe: %v", err)}
	}

	if err := cmd.Start(); err != nil {
		return &RunError{Kind: KindUnknown, Stderr: fmt.Sprintf("failed to spawn %s: %v", bin, err)}
	}

	tail := newTailBuffer(stderrTailLines)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		lastEmitted := -progressStep
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			p, ok := ParseProgress(scanner.Text())
			if !ok {
				continue
			}
			if p.Percent >= lastEmitted+progressStep || p.Percent >= 100 {
				lastEmitted = p.Percent
				source.Notify(progress, p)
			}
		}
	}()

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			tail.Add(scanner.Text())
		}
	}()

	done := make(chan error, 1)
	go func() {
		wg.Wait()
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		text := tail.String()
		kind := Classify(text)
		log.WithField("kind", kind.String()).Debugf("%s exited with error: %v", bin, err)
		if text == "" {
			text = err.Error()
		}
		return &RunError{Kind: kind, Stderr: text}
	case <-ctx.Done():
		log.Warnf("Killing %s: %v", bin, ctx.Err())
		_ = cmd.Process.Kill()
		<-done // reap, never leave a zombie
		return &RunError{
			Kind:   KindUnknown,
			Stderr: fmt.Sprintf("%s killed: %v", bin, ctx.Err()),
		}
	}
}

// Capture runs a short probe (e.g. --print) and returns trimmed stdout.
func (r *ExecRunner) Capture(ctx context.Context, bin string, args []string) (string, *RunError) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		text := stderr.String()
		if text == "" {
			text = err.Error()
		}
		return "", &RunError{Kind: Classify(text), Stderr: text}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// tailBuffer keeps the last n lines written to it.
type tailBuffer struct {
	mu    sync.Mutex
	lines []string
	limit int
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if len(b.lines) > b.limit {
		b.lines = b.lines[len(b.lines)-b.limit:]
	}
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "\n")
}
