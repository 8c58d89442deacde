package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func TestNewLevels(t *testing.T) {
	tests := map[string]struct {
		level   log.Level
		logFunc func(*log.Logger)
		wantLog bool
	}{
		"info at info level": {
			level:   log.InfoLevel,
			logFunc: func(l *log.Logger) { l.Info("test") },
			wantLog: true,
		},
		"debug at info level": {
			level:   log.InfoLevel,
			logFunc: func(l *log.Logger) { l.Debug("test") },
			wantLog: false,
		},
		"debug at debug level": {
			level:   log.DebugLevel,
			logFunc: func(l *log.Logger) { l.Debug("test") },
			wantLog: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			tc.logFunc(New(&buf, tc.level))
			if got := buf.Len() > 0; got != tc.wantLog {
				t.Errorf("logged = %v, want %v (output %q)", got, tc.wantLog, buf.String())
			}
		})
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, log.DebugLevel)

	ctx := WithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Error("FromContext should return the attached logger")
	}

	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext without a logger returned nil")
	}
	FromContext(context.Background()).Error("dropped")
}

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	Progress(New(&buf, log.InfoLevel), time.Now(), "Locked 3 packages")
	if !strings.Contains(buf.String(), "Locked 3 packages (") {
		t.Errorf("output = %q", buf.String())
	}
}
