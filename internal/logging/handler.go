// Package logging builds the slog handlers used by the fixture and its tests.
package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorGray   = "\033[90m"
	colorCyan   = "\033[36m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorBold   = "\033[1m"
)

// New returns a logger writing to out in the given format ("json", "text",
// "tint" or "pretty"). Unknown formats fall back to JSON.
func New(format, level string, out io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: lvl}))
	case "tint":
		return slog.New(tint.NewHandler(out, &tint.Options{Level: lvl, TimeFormat: time.TimeOnly}))
	case "pretty":
		return slog.New(NewPrettyHandler(out, lvl))
	default:
		return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl}))
	}
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// PrettyHandler is a slog.Handler that writes colorized,
// human-readable log lines in the format:
//
//	HH:MM:SS LEVEL msg  key=value key=value
type PrettyHandler struct {
	mu    *sync.Mutex
	out   io.Writer
	level slog.Leveler
	attrs []slog.Attr
	group string
}

func NewPrettyHandler(out io.Writer, level slog.Leveler) *PrettyHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &PrettyHandler{mu: &sync.Mutex{}, out: out, level: level}
}

func (h *PrettyHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer

	buf.WriteString(colorGray)
	buf.WriteString(r.Time.Format(time.TimeOnly))
	buf.WriteString(colorReset)
	buf.WriteByte(' ')

	buf.WriteString(levelColor(r.Level))
	buf.WriteString(colorBold)
	fmt.Fprintf(&buf, "%-5s", r.Level.String())
	buf.WriteString(colorReset)
	buf.WriteByte(' ')

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&buf, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, h.group, a)
		return true
	})

	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf.Bytes())
	return err
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if h.group != "" {
		clone.group = h.group + "." + name
	} else {
		clone.group = name
	}
	return &clone
}

func writeAttr(buf *bytes.Buffer, group string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	buf.WriteByte(' ')
	buf.WriteString(colorCyan)
	buf.WriteString(key)
	buf.WriteString(colorReset)
	buf.WriteByte('=')
	buf.WriteString(fmt.Sprintf("%v", a.Value.Resolve().Any()))
}

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return colorRed
	case l >= slog.LevelWarn:
		return colorYellow
	case l >= slog.LevelInfo:
		return colorGreen
	default:
		return colorGray
	}
}
