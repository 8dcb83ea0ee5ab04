package obs

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"time"
)

// Logger writes one JSON object per line. A nil *Logger discards everything,
// so components can be built without one in tests.
type Logger struct {
	l    *log.Logger
	base map[string]interface{}
}

func NewLogger() *Logger {
	return NewLoggerTo(os.Stdout)
}

func NewLoggerTo(w io.Writer) *Logger {
	return &Logger{
		l: log.New(w, "", 0),
	}
}

// With returns a logger that adds fields to every line.
func (lg *Logger) With(fields map[string]interface{}) *Logger {
	if lg == nil {
		return nil
	}
	base := make(map[string]interface{}, len(lg.base)+len(fields))
	for k, v := range lg.base {
		base[k] = v
	}
	for k, v := range fields {
		base[k] = v
	}
	return &Logger{l: lg.l, base: base}
}

func (lg *Logger) Info(fields map[string]interface{}) {
	lg.write("info", fields)
}

func (lg *Logger) Warn(fields map[string]interface{}) {
	lg.write("warn", fields)
}

func (lg *Logger) Error(fields map[string]interface{}) {
	lg.write("error", fields)
}

func (lg *Logger) write(level string, fields map[string]interface{}) {
	if lg == nil {
		return
	}
	out := make(map[string]interface{}, len(lg.base)+len(fields)+2)
	for k, v := range lg.base {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	out["level"] = level
	out["ts"] = time.Now().UTC().Format(time.RFC3339Nano)

	b, _ := json.Marshal(out)
	lg.l.Println(string(b))
}
