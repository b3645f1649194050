// Package progress renders a terminal progress bar for artifact
// downloads. Output is suppressed when stdout is not a terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// IsTerminalFunc is the function used to check whether a file
// descriptor is a terminal. Overridable for tests.
var IsTerminalFunc = term.IsTerminal

// ShouldShow reports whether progress output makes sense: stdout is a
// terminal and NO_COLOR-style suppression via NAH_NO_PROGRESS is not
// requested.
func ShouldShow() bool {
	if os.Getenv("NAH_NO_PROGRESS") != "" {
		return false
	}
	return IsTerminalFunc(int(os.Stdout.Fd()))
}

// Reader wraps an io.Reader and prints transfer progress to output.
type Reader struct {
	reader    io.Reader
	output    io.Writer
	total     int64
	read      int64
	startTime time.Time
	lastPrint time.Time
	mu        sync.Mutex
}

// NewReader creates a progress reader. total <= 0 means unknown size.
func NewReader(r io.Reader, total int64, output io.Writer) *Reader {
	return &Reader{
		reader:    r,
		output:    output,
		total:     total,
		startTime: time.Now(),
	}
}

// Read implements io.Reader and updates the display.
func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.mu.Lock()
		pr.read += int64(n)
		pr.printProgress()
		pr.mu.Unlock()
	}
	if err == io.EOF {
		pr.Finish()
	}
	return n, err
}

// Finish clears the progress line.
func (pr *Reader) Finish() {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	fmt.Fprintf(pr.output, "\r%s\r", strings.Repeat(" ", 78))
}

func (pr *Reader) printProgress() {
	// Rate limit updates to avoid flicker.
	now := time.Now()
	if now.Sub(pr.lastPrint) < 100*time.Millisecond {
		return
	}
	pr.lastPrint = now

	elapsed := now.Sub(pr.startTime).Seconds()
	if elapsed < 0.1 {
		return
	}
	speed := float64(pr.read) / elapsed

	var line string
	if pr.total > 0 {
		percent := float64(pr.read) / float64(pr.total) * 100
		if percent > 100 {
			percent = 100
		}
		barWidth := 30
		filled := int(percent / 100 * float64(barWidth))
		if filled > barWidth {
			filled = barWidth
		}
		bar := strings.Repeat("=", filled)
		if filled < barWidth {
			bar += ">" + strings.Repeat(" ", barWidth-filled-1)
		}
		line = fmt.Sprintf("\r   [%s] %3.0f%% (%s/%s) %s/s",
			bar, percent, formatBytes(pr.read), formatBytes(pr.total), formatBytes(int64(speed)))
	} else {
		line = fmt.Sprintf("\r   Downloaded: %s (%s/s)", formatBytes(pr.read), formatBytes(int64(speed)))
	}
	fmt.Fprint(pr.output, line)
}

// formatBytes renders a byte count in a human-readable unit.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(n)/float64(div), "KMG"[exp])
}
