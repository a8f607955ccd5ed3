package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can decide whether it aborts the run
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindFileOperation
	KindPackage
	KindGitOperation
	KindVersion
	KindReleaseCarrier
)

// Sentinel errors matched by errors.Is against an *Error of the same kind
var (
	ErrConfiguration  = errors.New("configuration error")
	ErrFileOperation  = errors.New("file operation error")
	ErrPackage        = errors.New("package error")
	ErrGitOperation   = errors.New("git operation error")
	ErrVersion        = errors.New("version error")
	ErrReleaseCarrier = errors.New("release carrier error")
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindFileOperation:
		return "file_operation"
	case KindPackage:
		return "package"
	case KindGitOperation:
		return "git_operation"
	case KindVersion:
		return "version"
	case KindReleaseCarrier:
		return "release_carrier"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindFileOperation:
		return ErrFileOperation
	case KindPackage:
		return ErrPackage
	case KindGitOperation:
		return ErrGitOperation
	case KindVersion:
		return ErrVersion
	case KindReleaseCarrier:
		return ErrReleaseCarrier
	default:
		return nil
	}
}

// Error is a classified failure carrying the unit of work it belongs to
type Error struct {
	Kind Kind
	Op   string
	Org  string
	Repo string
	Tag  string
	Err  error
}

func (e *Error) Error() string {
	b := new(strings.Builder)
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Org != "" || e.Repo != "" {
		b.WriteString(e.Org)
		b.WriteString("/")
		b.WriteString(e.Repo)
		if e.Tag != "" {
			b.WriteString("@")
			b.WriteString(e.Tag)
		}
		b.WriteString(": ")
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(e.Kind.sentinel().Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for this error's kind
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// E builds a classified error
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string
func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithUnit annotates the error with the org/repo[/tag] it concerns
func (e *Error) WithUnit(org, repo, tag string) *Error {
	e.Org, e.Repo, e.Tag = org, repo, tag
	return e
}

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// SkipError marks a failure that only affects one unit of work. The run
// continues with the next unit.
type SkipError struct {
	Reason string
	Err    error
}

func (s *SkipError) Error() string {
	switch {
	case s.Err == nil:
		return s.Reason
	case s.Reason == "":
		return s.Err.Error()
	default:
		return s.Reason + ": " + s.Err.Error()
	}
}

func (s *SkipError) Unwrap() error { return s.Err }

// Skip wraps err as a tolerated per-unit failure
func Skip(err error) error {
	if err == nil {
		return nil
	}
	return &SkipError{Err: err}
}

// Skipf records a skip with a reason and no underlying error
func Skipf(format string, args ...any) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// IsSkip reports whether err should skip the current unit instead of aborting
func IsSkip(err error) bool {
	var s *SkipError
	return errors.As(err, &s)
}
