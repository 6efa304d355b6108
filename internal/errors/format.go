package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatForCLI formats an error for CLI output in a concise,
// terminal-friendly form.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	ae, ok := err.(*MSRLError)
	if !ok {
		ae = Internal(err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", ae.Message))
	sb.WriteString(fmt.Sprintf("  Kind: %s\n", ae.Kind))
	for k, v := range ae.Details {
		sb.WriteString(fmt.Sprintf("  %s: %s\n", k, v))
	}
	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Kind    string            `json:"kind"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Cause   string            `json:"cause,omitempty"`
}

// FormatJSON returns a JSON representation of the error, suitable for
// machine consumption by the host (CLI --json mode, RPC error payloads).
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	ae, ok := err.(*MSRLError)
	if !ok {
		ae = Internal(err)
	}

	je := jsonError{
		Kind:    ae.Kind,
		Message: ae.Message,
		Details: ae.Details,
	}
	if ae.Cause != nil {
		je.Cause = ae.Cause.Error()
	}

	return json.Marshal(je)
}

// FormatForLog returns key-value pairs suitable for slog attributes.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}

	ae, ok := err.(*MSRLError)
	if !ok {
		return map[string]any{"error": err.Error()}
	}

	result := map[string]any{
		"error_kind": ae.Kind,
		"message":    ae.Message,
	}
	if ae.Cause != nil {
		result["cause"] = ae.Cause.Error()
	}
	for k, v := range ae.Details {
		result["detail_"+k] = v
	}
	return result
}
