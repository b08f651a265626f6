// Package notify implements the notification sink external collaborator:
// components accumulate {severity, context, message} records instead of
// writing directly to a log, so a caller embedding the library can decide
// how to surface them. Records are additionally mirrored to a structured
// logrus logger, the way ugparu-gomedia threads a *logrus.Logger through
// its pipeline stages rather than calling the global logger directly.
package notify

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Severity ranks a Record. Higher is more severe.
type Severity int

const (
	Info Severity = iota
	Warning
	Critical
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Kind classifies what went wrong, when a Record accompanies an error.
type Kind int

const (
	// Io covers failures reading from or writing to the underlying file.
	Io Kind = iota
	// Parse covers malformed element framing (bad VINT, truncated header).
	Parse
	// InvalidData covers structurally valid but semantically wrong data
	// (unknown size on a non-terminal child, a cue pointing outside the
	// segment, an unconverged size-planning fixed point).
	InvalidData
	// NoData covers an element or attribute the caller asked for that
	// simply isn't present; callers typically downgrade this to a Warning
	// and drop the entry rather than failing outright.
	NoData
	// NotImplemented covers a feature this package doesn't support yet
	// (e.g. a container profile outside Matroska's documented feature set).
	NotImplemented
	// Aborted covers cooperative cancellation noticed at a segment or
	// cluster boundary.
	Aborted
)

func (k Kind) String() string {
	switch k {
	case Io:
		return "io"
	case Parse:
		return "parse"
	case InvalidData:
		return "invalid-data"
	case NoData:
		return "no-data"
	case NotImplemented:
		return "not-implemented"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Record is a single notification emitted by a component.
type Record struct {
	Severity Severity
	Context  string
	Message  string
}

// Error wraps a Kind with the message that accompanied the Critical record
// raised alongside it, satisfying the error interface and unwrapping to any
// underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Wrap builds an *Error of the given kind, wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Sink accumulates Records and mirrors them to a logrus logger. The zero
// value is usable; it logs through logrus.StandardLogger().
type Sink struct {
	Records []Record
	Logger  *logrus.Logger
}

// NewSink returns a Sink backed by logger, or the standard logrus logger if
// logger is nil.
func NewSink(logger *logrus.Logger) *Sink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Sink{Logger: logger}
}

// Add records a notification and mirrors it to the logger at a matching
// level.
func (s *Sink) Add(severity Severity, context, message string) {
	s.Records = append(s.Records, Record{Severity: severity, Context: context, Message: message})
	entry := s.logger().WithField("context", context)
	switch severity {
	case Critical:
		entry.Error(message)
	case Warning:
		entry.Warn(message)
	default:
		entry.Info(message)
	}
}

// Addf is Add with printf-style formatting of the message.
func (s *Sink) Addf(severity Severity, context, format string, args ...any) {
	s.Add(severity, context, fmt.Sprintf(format, args...))
}

// Critical raises a Critical record and returns an *Error built from kind,
// message, and cause — the convention every component follows when
// returning a fatal error: a Critical record always accompanies it.
func (s *Sink) Critical(context string, kind Kind, message string, cause error) error {
	s.Add(Critical, context, message)
	return Wrap(kind, message, cause)
}

func (s *Sink) logger() *logrus.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return logrus.StandardLogger()
}

// HasCritical reports whether any accumulated record is Critical.
func (s *Sink) HasCritical() bool {
	for _, r := range s.Records {
		if r.Severity == Critical {
			return true
		}
	}
	return false
}
