package console

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestHandlerPlainLines(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, Options{}))

	logger.Debug("modified app.py")
	logger.Info("starting app.py")
	logger.Warn("restarting due to changes detected...")
	logger.Error("terminated process")

	want := "[rerun] modified app.py\n" +
		"[rerun] starting app.py\n" +
		"[rerun] restarting due to changes detected...\n" +
		"[rerun] terminated process\n"
	if got := buf.String(); got != want {
		t.Errorf("output =\n%s\nwant\n%s", got, want)
	}
}

func TestHandlerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, Options{Level: slog.LevelInfo}))

	logger.Debug("hidden")
	logger.Info("shown")

	if got := buf.String(); got != "[rerun] shown\n" {
		t.Errorf("output = %q", got)
	}
}

func TestHandlerAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, Options{})).With("component", "watch")

	logger.WithGroup("fs").Warn("watcher error", "error", "overflow")

	want := "[rerun] watcher error component=watch fs.error=overflow\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestHandlerColorKeepsMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, Options{Color: true}))

	logger.Warn("watching path: .")

	if !strings.Contains(buf.String(), "[rerun] watching path: .") {
		t.Errorf("styled output lost the message: %q", buf.String())
	}
	if strings.Count(buf.String(), "\n") != 1 {
		t.Errorf("expected one line, got %q", buf.String())
	}
}
