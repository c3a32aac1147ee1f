package util

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
)

type ColorHandler struct {
	mu       *sync.Mutex
	w        io.Writer
	level    slog.Leveler
	group    string
	preAttrs []slog.Attr
}

func NewColorHandler(w io.Writer, opts *slog.HandlerOptions) *ColorHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &ColorHandler{
		mu:    &sync.Mutex{},
		w:     w,
		level: level,
	}
}

func (h *ColorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newH := *h
	newH.preAttrs = append(append([]slog.Attr{}, h.preAttrs...), h.qualify(attrs)...)
	return &newH
}

func (h *ColorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newH := *h
	if h.group != "" {
		newH.group = h.group + "." + name
	} else {
		newH.group = name
	}
	return &newH
}

func (h *ColorHandler) qualify(attrs []slog.Attr) []slog.Attr {
	if h.group == "" {
		return attrs
	}
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = slog.Attr{Key: h.group + "." + a.Key, Value: a.Value}
	}
	return out
}

func (h *ColorHandler) Handle(_ context.Context, r slog.Record) error {
	var color string
	switch {
	case r.Level >= slog.LevelError:
		color = colorRed
	case r.Level >= slog.LevelWarn:
		color = colorYellow
	case r.Level >= slog.LevelInfo:
		color = colorBlue
	default:
		color = colorGray
	}

	var b strings.Builder
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	fmt.Fprintf(&b, "%s%s%s [%s%s%s] %s",
		colorGray, ts.Format("15:04:05"), colorReset,
		color, r.Level.String(), colorReset,
		r.Message)

	for _, a := range h.preAttrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}

	var attrs []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	for _, a := range h.qualify(attrs) {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func NewLogger(verbose bool) *slog.Logger {
	return NewLoggerTo(os.Stdout, verbose)
}

func NewLoggerTo(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(NewColorHandler(w, &slog.HandlerOptions{Level: level}))
}

// NopLogger discards everything; used where a component is built without one.
func NopLogger() *slog.Logger {
	return slog.New(NewColorHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func LogError(logger *slog.Logger, msg string, err error, attrs ...any) error {
	allAttrs := append([]any{"error", err}, attrs...)
	logger.Error(msg, allAttrs...)
	return fmt.Errorf("%s: %w", msg, err)
}
