package lode

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel classes of storage failures. Match with errors.Is.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrDiskFull         = errors.New("no space left on device")
	ErrTimeout          = errors.New("operation timed out")
	ErrThrottled        = errors.New("rate limited")
	ErrAuth             = errors.New("authentication failed")
	ErrAccessDenied     = errors.New("access denied")
	ErrNetwork          = errors.New("network error")
	ErrUnclassified     = errors.New("storage error")
)

// StorageError is a classified archive storage failure.
type StorageError struct {
	// Kind is one of the sentinel classes.
	Kind error
	// Op is "init", "write" or "read".
	Op string
	// Target is the dataset or snapshot involved.
	Target string
	Err    error
}

func (e *StorageError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("archive %s %s: %v: %v", e.Op, e.Target, e.Kind, e.Err)
	}
	return fmt.Sprintf("archive %s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is matches the sentinel class as well as the wrapped chain.
func (e *StorageError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

func wrap(op string, err error, target string) error {
	if err == nil {
		return nil
	}
	return &StorageError{Kind: classifyError(err), Op: op, Target: target, Err: err}
}

// WrapWriteError classifies a write failure. Nil stays nil.
func WrapWriteError(err error, target string) error { return wrap("write", err, target) }

// WrapReadError classifies a read failure. Nil stays nil.
func WrapReadError(err error, target string) error { return wrap("read", err, target) }

// WrapInitError classifies a dataset initialization failure. Nil stays nil.
func WrapInitError(err error, dataset string) error { return wrap("init", err, dataset) }

type pattern struct {
	kind  error
	terms []string
}

// Patterns are checked in order; the first hit wins.
var patterns = []pattern{
	{ErrAccessDenied, []string{"accessdenied", "forbidden", "403"}},
	{ErrPermissionDenied, []string{"permission denied", "eacces"}},
	{ErrNotFound, []string{"no such file", "does not exist", "not found", "enoent", "404", "nosuchkey", "nosuchbucket"}},
	{ErrDiskFull, []string{"no space left", "disk full", "enospc", "quota exceeded"}},
	{ErrTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{ErrThrottled, []string{"slowdown", "rate exceeded", "throttl", "429", "toomanyrequests"}},
	{ErrAuth, []string{"nocredentialproviders", "credentials", "invalidaccesskeyid",
		"signaturedoesnotmatch", "expiredtoken", "401", "unauthorized"}},
	{ErrNetwork, []string{"connection refused", "no route to host", "network unreachable", "dial tcp", "no such host"}},
}

func classifyError(err error) error {
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return ErrTimeout
	}
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		for _, term := range p.terms {
			if strings.Contains(msg, term) {
				return p.kind
			}
		}
	}
	return ErrUnclassified
}
