// based on https://dusted.codes/creating-a-pretty-console-logger-using-gos-slog-package
package prettylog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

const (
	timeFormat = "15:04:05.000"

	// LevelTrace is below debug and printed as TRACE.
	LevelTrace = slog.Level(-8)
)

const (
	reset = "\033[0m"

	darkGray  = 90
	cyan      = 36
	yellow    = 33
	lightRed  = 91
	white     = 97
	lightBlue = 94
)

func colorize(colorCode int, v string) string {
	return fmt.Sprintf("\033[%dm%s%s", colorCode, v, reset)
}

type handler struct {
	level  slog.Leveler
	out    io.Writer
	mu     *sync.Mutex
	attrs  []slog.Attr
	groups []string
}

// NewHandler writes colored records with their attributes as indented JSON.
func NewHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return &handler{
		level: level,
		out:   w,
		mu:    &sync.Mutex{},
	}
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, h.qualify(a))
	}
	return &clone
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

func (h *handler) qualify(a slog.Attr) slog.Attr {
	for i := len(h.groups) - 1; i >= 0; i-- {
		a = slog.Group(h.groups[i], a)
	}
	return a
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any)
	for _, a := range h.attrs {
		addAttr(attrs, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(attrs, h.qualify(a))
		return true
	})

	line := colorize(darkGray, r.Time.Format(timeFormat)) + " " +
		levelString(r.Level) + " " +
		colorize(white, r.Message)
	if len(attrs) > 0 {
		line += " " + colorize(darkGray, attributesToString(attrs))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, line+"\n")
	return err
}

func levelString(level slog.Level) string {
	switch {
	case level < slog.LevelDebug:
		return colorize(lightBlue, "TRACE:")
	case level < slog.LevelInfo:
		return colorize(darkGray, level.String()+":")
	case level < slog.LevelWarn:
		return colorize(cyan, level.String()+":")
	case level < slog.LevelError:
		return colorize(yellow, level.String()+":")
	default:
		return colorize(lightRed, level.String()+":")
	}
}

func addAttr(attrs map[string]any, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		if len(group) == 0 {
			return
		}
		if a.Key == "" {
			for _, ga := range group {
				addAttr(attrs, ga)
			}
			return
		}
		nested, ok := attrs[a.Key].(map[string]any)
		if !ok {
			nested = make(map[string]any)
			attrs[a.Key] = nested
		}
		for _, ga := range group {
			addAttr(nested, ga)
		}
		return
	}
	attrs[a.Key] = convert(a.Value.Any())
}

// attributesToString renders attrs as indented JSON. encoding/json sorts the
// keys.
func attributesToString(attrs map[string]any) string {
	asJSON, err := json.MarshalIndent(attrs, "  ", "  ")
	if err != nil {
		return fmt.Sprintf("%v", attrs)
	}
	return string(asJSON)
}

type Loggable interface {
	ToLog() any
}

func convert(value any) any {
	switch v := value.(type) {
	case nil:
		return "nil"
	case error:
		return v.Error()
	case Loggable:
		return v.ToLog()
	case []byte:
		return fmt.Sprintf("%v", v)
	case fmt.Stringer:
		return v.String()
	}
	if _, err := json.Marshal(value); err != nil {
		return fmt.Sprintf("%v", value)
	}
	return value
}
