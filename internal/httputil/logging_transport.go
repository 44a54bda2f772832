// Package httputil provides HTTP client plumbing shared by the direct
// download backend.
package httputil

import (
	"bufio"
	"fmt"
	"net/http"
	"net/http/httputil"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// LoggingTransport wraps an http.RoundTripper and appends request/response
// headers to a trace file. Bodies are never logged; direct downloads are
// binary media.
type LoggingTransport struct {
	Transport http.RoundTripper
	logFile   *os.File
	mu        sync.Mutex
	writer    *bufio.Writer
}

// NewLoggingTransport opens logFilePath for appending and returns a
// transport that traces through it.
func NewLoggingTransport(transport http.RoundTripper, logFilePath string) (*LoggingTransport, error) {
	f, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open HTTP trace file %s: %w", logFilePath, err)
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &LoggingTransport{
		Transport: transport,
		logFile:   f,
		writer:    bufio.NewWriter(f),
	}, nil
}

// RoundTrip executes a single HTTP transaction, tracing headers and timing.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := time.Now()
	if reqDump, err := httputil.DumpRequestOut(req, false); err != nil {
		log.WithError(err).Error("Failed to dump request for tracing")
	} else {
		t.writeLog(fmt.Sprintf("--- Request (%s) ---\n%s\n", start.Format(time.RFC3339), string(reqDump)))
	}

	resp, err := t.Transport.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		t.writeLog(fmt.Sprintf("--- Response Error (Duration: %v) ---\n%s\n", duration, err.Error()))
	} else if respDump, dumpErr := httputil.DumpResponse(resp, false); dumpErr != nil {
		log.WithError(dumpErr).Error("Failed to dump response headers for tracing")
		t.writeLog(fmt.Sprintf("--- Response (Duration: %v) ---\nStatus: %s\n(Failed to dump headers)\n", duration, resp.Status))
	} else {
		t.writeLog(fmt.Sprintf("--- Response (Duration: %v) ---\n%s\n", duration, string(respDump)))
	}

	t.writer.Flush()
	return resp, err
}

func (t *LoggingTransport) writeLog(s string) {
	if _, err := t.writer.WriteString(s + "\n"); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing HTTP trace: %v\n", err)
	}
}

// Close flushes and closes the trace file.
func (t *LoggingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	errFlush := t.writer.Flush()
	errClose := t.logFile.Close()
	if errFlush != nil {
		return fmt.Errorf("failed to flush HTTP trace buffer: %w", errFlush)
	}
	return errClose
}
