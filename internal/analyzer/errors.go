package analyzer

import "fmt"

// Reasons reported by ProviderError.
const (
	ReasonMissingCredentials = "missing credentials"
	ReasonClientSetup        = "client setup failed"
	ReasonRequestFailed      = "request failed"
	ReasonMalformedResponse  = "malformed response"
	ReasonLocalEmbed         = "local embedding failed"
)

// ProviderError is a failed remote analysis attempt. It is never fatal to a
// scan: the orchestrator logs it and runs the local pipeline once.
type ProviderError struct {
	Method string
	Reason string
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Method, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Method, e.Reason, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// LocalModelError means the file could not be analyzed locally (unreadable,
// corrupt, or a local model call failed). The caller skips the item.
type LocalModelError struct {
	Path  string
	Stage string
	Err   error
}

func (e *LocalModelError) Error() string {
	return fmt.Sprintf("local %s failed for %s: %v", e.Stage, e.Path, e.Err)
}

func (e *LocalModelError) Unwrap() error { return e.Err }
