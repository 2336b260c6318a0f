package lifecycle

import "fmt"

// NotInitializedError is returned by any operation that requires an
// initialized cluster when the tracked state says it is not. It is fatal to
// that call and recoverable by calling Initialize.
type NotInitializedError struct {
	Op string
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("%s: cluster is not initialized", e.Op)
}

// ConfigError reports malformed or inconsistent operator input, such as a
// topology assignment that does not match the host list.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return e.Msg
}

func ConfigErrorf(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// VersionMismatchError reports that the installed software does not belong
// to the version family this controller manages. Bootstrap surfaces it to
// the caller without changing any tracked state.
type VersionMismatchError struct {
	Installed string
	Family    string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("installed version %q is not in the supported family %q", e.Installed, e.Family)
}

// RemoteError reports a remote command or transfer that did not succeed.
// Strict call sites (install, format, start) abort on it; lenient call
// sites (stop, clean) downgrade it to a warning.
type RemoteError struct {
	Op     string
	Host   string
	Detail string
	Err    error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("%s failed", e.Op)
	if e.Host != "" {
		msg += " on " + e.Host
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}
