// Package fastlog is a small fluent line-builder for structured log lines on
// the hot per-packet path, where logrus's field-map allocation is too heavy
// to take on every frame.
package fastlog

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

var (
	mu  sync.Mutex
	out = os.Stdout
)

// SetOutput redirects all fastlog output.
func SetOutput(w *os.File) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// Line accumulates key=value fields for a single log line.
type Line struct {
	b strings.Builder
}

// NewLine starts a line tagged with a module name and a short message.
func NewLine(module string, msg string) *Line {
	l := &Line{}
	l.b.WriteString(module)
	l.b.WriteByte(' ')
	l.b.WriteString(msg)
	return l
}

func (l *Line) field(name, value string) *Line {
	l.b.WriteByte(' ')
	l.b.WriteString(name)
	l.b.WriteByte('=')
	l.b.WriteString(value)
	return l
}

// String adds a string field.
func (l *Line) String(name, value string) *Line { return l.field(name, value) }

// Module adds a module-name field (used when a line spans two components).
func (l *Line) Module(name, value string) *Line { return l.field(name, value) }

// IP adds an IPv4/IPv6 field.
func (l *Line) IP(name string, ip net.IP) *Line { return l.field(name, ip.String()) }

// MAC adds a hardware-address field.
func (l *Line) MAC(name string, mac net.HardwareAddr) *Line { return l.field(name, mac.String()) }

// Bool adds a boolean field.
func (l *Line) Bool(name string, v bool) *Line { return l.field(name, fmt.Sprintf("%t", v)) }

// Uint8 adds a uint8 field.
func (l *Line) Uint8(name string, v uint8) *Line { return l.field(name, fmt.Sprintf("%d", v)) }

// Uint16 adds a uint16 field.
func (l *Line) Uint16(name string, v uint16) *Line { return l.field(name, fmt.Sprintf("%d", v)) }

// Uint32 adds a uint32 field.
func (l *Line) Uint32(name string, v uint32) *Line { return l.field(name, fmt.Sprintf("%d", v)) }

// Int adds an int field.
func (l *Line) Int(name string, v int) *Line { return l.field(name, fmt.Sprintf("%d", v)) }

// Duration adds a time.Duration field.
func (l *Line) Duration(name string, d time.Duration) *Line { return l.field(name, d.String()) }

// Time adds a time.Time field.
func (l *Line) Time(name string, t time.Time) *Line { return l.field(name, t.Format(time.RFC3339)) }

// ByteArray adds a hex-rendered byte-slice field (used for xid, client-id, etc.).
func (l *Line) ByteArray(name string, b []byte) *Line { return l.field(name, fmt.Sprintf("%x", b)) }

// Error adds an error field; a nil error renders as "<nil>".
func (l *Line) Error(err error) *Line {
	if err == nil {
		return l.field("error", "<nil>")
	}
	return l.field("error", err.Error())
}

// Sprintf adds a free-form field using fmt.Sprintf.
func (l *Line) Sprintf(name, format string, args ...interface{}) *Line {
	return l.field(name, fmt.Sprintf(format, args...))
}

// Write flushes the line to the configured output.
func (l *Line) Write() {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintln(out, l.b.String())
}
