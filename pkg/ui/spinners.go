package ui

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Spinner holds spinner animation frames.
type Spinner struct {
	Frames   []string
	Interval time.Duration
}

var (
	dotsSpinner = Spinner{
		Frames:   []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		Interval: 80 * time.Millisecond,
	}
	lineSpinner = Spinner{
		Frames:   []string{"-", "\\", "|", "/"},
		Interval: 100 * time.Millisecond,
	}
)

// DefaultSpinner returns a braille spinner on Unicode terminals and an
// ASCII line spinner otherwise.
func DefaultSpinner() Spinner {
	if UnicodeTerminal() {
		return dotsSpinner
	}
	return lineSpinner
}

// StartSpinner animates msg on w until the returned stop function is
// called. stop clears the line and is safe to call more than once. When
// w is not a terminal nothing is drawn.
func StartSpinner(w io.Writer, msg string) (stop func()) {
	if !IsTerminal(w) {
		return func() {}
	}
	return runSpinner(w, DefaultSpinner(), msg)
}

func runSpinner(w io.Writer, s Spinner, msg string) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			fmt.Fprintf(w, "\r%s %s", SpinnerStyle.Render(s.Frames[i%len(s.Frames)]), msg)
			select {
			case <-done:
				fmt.Fprint(w, "\r\033[K")
				return
			case <-ticker.C:
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}
