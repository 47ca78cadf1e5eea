package ldap

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/go-hclog"
)

// slowOperationThreshold marks operations worth a warning.
const slowOperationThreshold = 5 * time.Second

// LogOperation runs fn and logs its outcome and duration.
func LogOperation(logger hclog.Logger, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	logger.Trace("starting operation", kv(operation, fields)...)

	err := fn()

	duration := time.Since(start)
	args := append(kv(operation, fields), "duration_ms", duration.Milliseconds())

	switch {
	case err != nil:
		LogLDAPError(logger, operation, err, fields)
	case duration > slowOperationThreshold:
		logger.Warn("slow operation detected", args...)
	default:
		logger.Debug("operation completed", args...)
	}

	return err
}

// LogLDAPError logs LDAP-specific error information.
func LogLDAPError(logger hclog.Logger, operation string, err error, fields map[string]any) {
	args := append(kv(operation, fields), "error", err.Error(), "category", string(GetErrorCategory(err)))

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		args = append(args, "ldap_result_code", ldapErr.ResultCode)
		if ldapErr.MatchedDN != "" {
			args = append(args, "ldap_matched_dn", ldapErr.MatchedDN)
		}
	}

	// Rejected binds are expected traffic, not failures of the adapter.
	if IsInvalidCredentials(err) || IsNotFoundError(err) {
		logger.Debug("LDAP operation failed", args...)
		return
	}
	logger.Error("LDAP operation failed", args...)
}

// LogConnectionEvent logs connection-related events.
func LogConnectionEvent(logger hclog.Logger, event string, fields map[string]any) {
	args := append([]any{"event", event}, flatten(SanitizeFields(fields))...)

	switch event {
	case "connection_failed", "authentication_failed", "connection_lost":
		logger.Warn("connection event", args...)
	default:
		logger.Debug("connection event", args...)
	}
}

// SanitizeFields removes sensitive information from log fields.
func SanitizeFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}

	sanitized := maps.Clone(fields)
	for key := range sanitized {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "password") ||
			strings.Contains(lower, "secret") ||
			strings.Contains(lower, "credential") ||
			strings.Contains(lower, "token") {
			sanitized[key] = "[REDACTED]"
		}
	}
	return sanitized
}

func kv(operation string, fields map[string]any) []any {
	return append([]any{"operation", operation}, flatten(SanitizeFields(fields))...)
}

// flatten turns a field map into hclog's alternating key/value arguments,
// in a stable order.
func flatten(fields map[string]any) []any {
	args := make([]any, 0, len(fields)*2)
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		args = append(args, key, fields[key])
	}
	return args
}
