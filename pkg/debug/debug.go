// Package debug appends frame and protocol traces to debug.log in the
// working directory. Call sites gate on their own debug flags, so the
// file is only created when tracing is switched on.
package debug

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

const logName = "debug.log"

var (
	initOnce sync.Once
	mu       sync.Mutex
	fh       *os.File
)

func open() {
	var err error
	fh, err = os.OpenFile(logName, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("open %s: %v", logName, err)
	}
}

// Log writes one timestamped line tagged with the caller's file and
// line number.
func Log(msg string) {
	logLine(2, msg)
}

func Logf(format string, args ...any) {
	logLine(2, fmt.Sprintf(format, args...))
}

func logLine(depth int, msg string) {
	initOnce.Do(open)
	mu.Lock()
	defer mu.Unlock()
	if fh == nil {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	if _, file, line, ok := runtime.Caller(depth); ok {
		fmt.Fprintf(fh, "%s %s:%d %s\n", ts, filepath.Base(file), line, msg)
		return
	}
	fmt.Fprintf(fh, "%s %s\n", ts, msg)
}

func Close() {
	mu.Lock()
	defer mu.Unlock()
	if fh == nil {
		return
	}
	fh.Sync()
	fh.Close()
	fh = nil
}
