package logging

import (
	"os"
	"sync"
)

// LogFile describes a file that can be written to by a logger
type LogFile struct {
	mu      sync.Mutex
	closed  bool
	channel chan string
	done    chan struct{}
	file    *os.File
}

// NewLogFile creates a new LogFile instance, truncating any existing file at path.
func NewLogFile(path string) (*LogFile, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}

	lf := &LogFile{
		channel: make(chan string, 100),
		done:    make(chan struct{}),
		file:    file,
	}

	go func() {
		defer close(lf.done)
		defer file.Close()
		for s := range lf.channel {
			lf.file.WriteString(s)
		}
	}()

	return lf, nil
}

// Print writes a string to the log file. Lines printed after Close are discarded.
func (lf *LogFile) Print(s string) {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if lf.closed {
		return
	}
	lf.channel <- s
}

// Close flushes pending lines and closes the file.
func (lf *LogFile) Close() {
	lf.mu.Lock()
	if lf.closed {
		lf.mu.Unlock()
		return
	}
	lf.closed = true
	close(lf.channel)
	lf.mu.Unlock()

	<-lf.done
}
