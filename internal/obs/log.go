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

// Logger returns the process-wide line logger. Request logs, audit
// entries and startup messages all go through it so stdout stays one
// JSON object per line.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// RequestLog is the field contract of the per-request line emitted by
// the LoggingJSON middleware.
type RequestLog struct {
	TS         string `json:"ts"`
	Level      string `json:"level"`
	Msg        string `json:"msg"`
	RequestID  string `json:"request_id,omitempty"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	Status     int    `json:"status"`
	DurationMS int64  `json:"duration_ms"`
}

// LogRequest fills entry defaults and writes it as a single JSON line.
func LogRequest(entry RequestLog) {
	if entry.TS == "" {
		entry.TS = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if entry.Level == "" {
		entry.Level = "info"
	}
	if entry.Msg == "" {
		entry.Msg = "http_request"
	}
	data, _ := json.Marshal(entry)
	Logger().Println(string(data))
}
