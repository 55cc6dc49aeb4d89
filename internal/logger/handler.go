package logger

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
	reset  = "\033[0m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	purple = "\033[35m"
	cyan   = "\033[36m"
	gray   = "\033[37m"
	white  = "\033[97m"
)

// PrettyHandler writes one human-readable line per record:
// time, level, message, then key=value attributes.
type PrettyHandler struct {
	opts    slog.HandlerOptions
	w       io.Writer
	mu      *sync.Mutex
	attrs   []slog.Attr
	group   string
	noColor bool
}

func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &PrettyHandler{
		opts:  *opts,
		w:     w,
		mu:    &sync.Mutex{},
		attrs: []slog.Attr{},
	}
}

// WithoutColor returns a copy that emits no ANSI escapes.
func (h *PrettyHandler) WithoutColor() *PrettyHandler {
	clone := *h
	clone.noColor = true
	return &clone
}

// New builds the process logger. level is a slog level name ("debug",
// "info", "warn", "error"); colours are dropped when noColor is set.
func New(w io.Writer, level string, noColor bool) *slog.Logger {
	h := NewPrettyHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	if noColor {
		h = h.WithoutColor()
	}
	return slog.New(h)
}

// FromEnv reads LOG_LEVEL and NO_COLOR.
func FromEnv(w io.Writer) *slog.Logger {
	_, noColor := os.LookupEnv("NO_COLOR")
	return New(w, os.Getenv("LOG_LEVEL"), noColor)
}

// ParseLevel maps a level name to slog.Level, defaulting to Info.
func ParseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.opts.Level != nil {
		min = h.opts.Level.Level()
	}
	return level >= min
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	fmt.Fprintf(h.w, "%s ", h.paint(gray, r.Time.Format("15:04:05.000")))

	var levelColor string
	switch {
	case r.Level >= slog.LevelError:
		levelColor = red
	case r.Level >= slog.LevelWarn:
		levelColor = yellow
	case r.Level >= slog.LevelInfo:
		levelColor = green
	default:
		levelColor = purple
	}
	fmt.Fprintf(h.w, "%s ", h.paint(levelColor, fmt.Sprintf("%-5s", r.Level.String())))

	fmt.Fprint(h.w, h.paint(white, r.Message))

	for _, a := range h.attrs {
		h.printAttr("", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.printAttr(h.group, a)
		return true
	})

	fmt.Fprintln(h.w)
	return nil
}

func (h *PrettyHandler) paint(color string, s string) string {
	if h.noColor {
		return s
	}
	return color + s + reset
}

func (h *PrettyHandler) printAttr(group string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}

	key := a.Key
	if group != "" {
		key = group + "." + key
	}

	val := a.Value.Resolve().Any()
	switch v := val.(type) {
	case time.Time:
		val = v.Format(time.RFC3339)
	case time.Duration:
		val = v.String()
	case string:
		if strings.ContainsAny(v, " \t\"=") {
			val = fmt.Sprintf("%q", v)
		}
	}

	fmt.Fprintf(h.w, " %s=%v", h.paint(cyan, key), val)
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// Attributes keep the group that was open when they were added.
	newAttrs := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	newAttrs = append(newAttrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		newAttrs = append(newAttrs, a)
	}

	clone := *h
	clone.attrs = newAttrs
	return &clone
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroup := name
	if h.group != "" {
		newGroup = h.group + "." + name
	}

	clone := *h
	clone.group = newGroup
	return &clone
}
