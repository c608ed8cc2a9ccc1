// Package console renders log records as single "[rerun] message" lines,
// colored by level.
package console

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Prefix starts every line.
const Prefix = "[rerun]"

// Options configures a Handler.
type Options struct {
	// Level is the minimum level written. Defaults to debug.
	Level slog.Leveler
	// Color enables ANSI styling.
	Color bool
}

// Handler is a slog.Handler for human-facing console output.
type Handler struct {
	opts   Options
	styles map[slog.Level]lipgloss.Style
	// pre holds attrs added with WithAttrs, already rendered.
	pre    string
	groups []string

	mu *sync.Mutex
	w  io.Writer
}

// NewHandler returns a Handler writing to w.
func NewHandler(w io.Writer, opts Options) *Handler {
	if opts.Level == nil {
		opts.Level = slog.LevelDebug
	}

	r := lipgloss.NewRenderer(w)
	styles := map[slog.Level]lipgloss.Style{
		slog.LevelDebug: r.NewStyle().Foreground(lipgloss.Color("6")),
		slog.LevelInfo:  r.NewStyle().Foreground(lipgloss.Color("2")),
		slog.LevelWarn:  r.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
		slog.LevelError: r.NewStyle().Foreground(lipgloss.Color("1")),
	}

	return &Handler{
		opts:   opts,
		styles: styles,
		mu:     &sync.Mutex{},
		w:      w,
	}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(Prefix)
	b.WriteByte(' ')
	b.WriteString(r.Message)

	b.WriteString(h.pre)

	prefix := strings.Join(h.groups, ".")
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, prefix, a)
		return true
	})

	line := b.String()
	if h.opts.Color {
		line = h.style(r.Level).Render(line)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line+"\n")
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.pre)
	prefix := strings.Join(h.groups, ".")
	for _, a := range attrs {
		appendAttr(&b, prefix, a)
	}

	h2 := *h
	h2.pre = b.String()
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.groups = append(append([]string(nil), h.groups...), name)
	return &h2
}

// style picks the style of the nearest standard level at or below level.
func (h *Handler) style(level slog.Level) lipgloss.Style {
	switch {
	case level >= slog.LevelError:
		return h.styles[slog.LevelError]
	case level >= slog.LevelWarn:
		return h.styles[slog.LevelWarn]
	case level >= slog.LevelInfo:
		return h.styles[slog.LevelInfo]
	default:
		return h.styles[slog.LevelDebug]
	}
}

func appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			appendAttr(b, key, ga)
		}
		return
	}

	fmt.Fprintf(b, " %s=%v", key, a.Value.Any())
}
