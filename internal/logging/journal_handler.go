package logging

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

// SyslogIdentifier tags every journal entry written by this process.
const SyslogIdentifier = "stallwatch"

// JournalHandler is a slog.Handler that writes to the systemd journal.
// Attributes become upper-case journal fields, so child output can be
// filtered with e.g. `journalctl -t stallwatch PROCESS_ID=build`.
type JournalHandler struct {
	level  slog.Leveler
	prefix string            // group path, already sanitized and joined with "_"
	fields map[string]string // rendered WithAttrs attributes
	send   func(message string, priority journal.Priority, fields map[string]string) error
}

// NewJournalHandler creates a new journal handler.
func NewJournalHandler(level slog.Leveler) *JournalHandler {
	return &JournalHandler{
		level:  level,
		fields: map[string]string{},
		send:   journal.Send,
	}
}

// IsJournalAvailable checks if systemd journal is available.
func IsJournalAvailable() bool {
	return journal.Enabled()
}

// Enabled reports whether the handler handles records at the given level.
func (h *JournalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle sends the record to the journal.
func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(map[string]string, len(h.fields)+r.NumAttrs()+1)
	maps.Copy(fields, h.fields)
	r.Attrs(func(attr slog.Attr) bool {
		renderAttr(fields, h.prefix, attr)
		return true
	})
	fields["SYSLOG_IDENTIFIER"] = SyslogIdentifier

	if err := h.send(r.Message, journalPriority(r.Level), fields); err != nil {
		return fmt.Errorf("journal send: %w", err)
	}
	return nil
}

// WithAttrs returns a handler that adds attrs to every entry.
func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := h.clone()
	for _, attr := range attrs {
		renderAttr(next.fields, next.prefix, attr)
	}
	return next
}

// WithGroup returns a handler that nests later attributes under name.
func (h *JournalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := h.clone()
	next.prefix = joinKey(h.prefix, name)
	return next
}

func (h *JournalHandler) clone() *JournalHandler {
	return &JournalHandler{
		level:  h.level,
		prefix: h.prefix,
		fields: maps.Clone(h.fields),
		send:   h.send,
	}
}

func journalPriority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

// renderAttr flattens attr into fields under prefix.
func renderAttr(fields map[string]string, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	if attr.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if attr.Key != "" {
			groupPrefix = joinKey(prefix, attr.Key)
		}
		for _, a := range attr.Value.Group() {
			renderAttr(fields, groupPrefix, a)
		}
		return
	}

	key := joinKey(prefix, attr.Key)
	if key == "" {
		return
	}

	v := attr.Value
	switch v.Kind() {
	case slog.KindDuration:
		fields[key] = v.Duration().String()
	case slog.KindTime:
		fields[key] = v.Time().Format(time.RFC3339Nano)
	case slog.KindFloat64:
		fields[key] = strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	default:
		fields[key] = v.String()
	}
}

func joinKey(prefix, key string) string {
	key = journalKey(key)
	switch {
	case key == "":
		return prefix
	case prefix == "":
		return key
	default:
		return prefix + "_" + key
	}
}

// journalKey maps a slog key onto journald's field alphabet: upper-case
// letters, digits and underscores, not starting with an underscore or digit.
func journalKey(key string) string {
	var b strings.Builder
	for _, c := range strings.ToUpper(key) {
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	return strings.TrimLeft(b.String(), "_0123456789")
}
