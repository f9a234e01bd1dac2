// Package obs holds the observability plumbing shared by every component:
// one JSON line logger and the Prometheus registry glue.
package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// Log emits one structured JSON line. Fields may be nil.
func Log(level, component, msg string, fields map[string]any) {
	entry := map[string]any{
		"ts":        time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level,
		"component": component,
		"msg":       msg,
	}
	for k, v := range fields {
		entry[k] = v
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}

// Info logs at info level.
func Info(component, msg string, fields map[string]any) { Log("info", component, msg, fields) }

// Warn logs at warn level. Used for security-relevant anomalies such as
// revoked-token replay.
func Warn(component, msg string, fields map[string]any) { Log("warn", component, msg, fields) }

// Error logs at error level.
func Error(component, msg string, fields map[string]any) { Log("error", component, msg, fields) }
