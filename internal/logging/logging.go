// Package logging renders log/slog records with zerolog, on a console or as
// JSON lines.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Handler is a slog.Handler writing through a zerolog.Logger.
type Handler struct {
	logger zerolog.Logger
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

// New returns a handler writing to w. The console format is meant for a
// terminal, the json format for collectors.
func New(w io.Writer, format string, level slog.Leveler) (*Handler, error) {
	var out io.Writer
	switch strings.ToLower(format) {
	case "", FormatConsole:
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	case FormatJSON:
		out = w
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{
		logger: zerolog.New(out),
		level:  level,
	}, nil
}

// ParseLevel accepts the slog level names, case insensitive.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	err := l.UnmarshalText([]byte(s))
	return l, err
}

func (h *Handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	event := h.logger.WithLevel(zerologLevel(r.Level))
	if !r.Time.IsZero() {
		event = event.Time(zerolog.TimestampFieldName, r.Time)
	}
	for _, a := range h.attrs {
		event = addAttr(event, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		event = addAttr(event, h.qualify(a))
		return true
	})
	event.Msg(r.Message)
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	h2.attrs = append(h2.attrs, h.attrs...)
	for _, a := range attrs {
		h2.attrs = append(h2.attrs, h.qualify(a))
	}
	return &h2
}

// WithGroup prefixes the keys of later attributes with name and a dot.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

func (h *Handler) qualify(a slog.Attr) slog.Attr {
	if h.prefix != "" && a.Key != "" {
		a.Key = h.prefix + a.Key
	}
	return a
}

func zerologLevel(l slog.Level) zerolog.Level {
	switch {
	case l >= slog.LevelError:
		return zerolog.ErrorLevel
	case l >= slog.LevelWarn:
		return zerolog.WarnLevel
	case l >= slog.LevelInfo:
		return zerolog.InfoLevel
	case l >= slog.LevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// addAttr also fills the dictionaries built for groups. Empty attributes
// are skipped.
func addAttr(event *zerolog.Event, a slog.Attr) *zerolog.Event {
	if a.Equal(slog.Attr{}) {
		return event
	}
	v := a.Value.Resolve()

	switch v.Kind() {
	case slog.KindString:
		return event.Str(a.Key, v.String())
	case slog.KindInt64:
		return event.Int64(a.Key, v.Int64())
	case slog.KindUint64:
		return event.Uint64(a.Key, v.Uint64())
	case slog.KindFloat64:
		return event.Float64(a.Key, v.Float64())
	case slog.KindBool:
		return event.Bool(a.Key, v.Bool())
	case slog.KindDuration:
		return event.Dur(a.Key, v.Duration())
	case slog.KindTime:
		return event.Time(a.Key, v.Time())
	case slog.KindGroup:
		group := v.Group()
		if a.Key == "" {
			for _, ga := range group {
				event = addAttr(event, ga)
			}
			return event
		}
		dict := zerolog.Dict()
		for _, ga := range group {
			dict = addAttr(dict, ga)
		}
		return event.Dict(a.Key, dict)
	default:
		switch x := v.Any().(type) {
		case error:
			return event.AnErr(a.Key, x)
		case fmt.Stringer:
			return event.Stringer(a.Key, x)
		default:
			return event.Interface(a.Key, x)
		}
	}
}
