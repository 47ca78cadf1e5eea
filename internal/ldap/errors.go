package ldap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

var (
	// ErrUnreachable is matched by every error that means no directory
	// server could be contacted.
	ErrUnreachable = errors.New("directory unreachable")

	// ErrNoServiceCredentials is returned by operations that need a service
	// bind when none is configured.
	ErrNoServiceCredentials = errors.New("directory service credentials are not configured")

	// ErrEntryNotFound is returned when a lookup matches no entry.
	ErrEntryNotFound = errors.New("directory entry not found")
)

// ErrorCategory represents different categories of LDAP errors.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryConflict       ErrorCategory = "conflict"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// LDAPError provides enhanced error information for LDAP operations.
type LDAPError struct {
	Operation string        // The operation that failed
	Category  ErrorCategory // Error category
	LDAPCode  uint16        // LDAP result code
	Message   string        // Human-readable message
	ServerMsg string        // Server-provided message
	DN        string        // DN involved in the operation (if applicable)
	Retryable bool          // Whether the error is retryable
	Cause     error         // Underlying error
}

func (e *LDAPError) Error() string {
	var parts []string

	if e.LDAPCode > 0 {
		parts = append(parts, fmt.Sprintf("LDAP %s failed (code %d)", e.Operation, e.LDAPCode))
	} else {
		parts = append(parts, fmt.Sprintf("LDAP %s failed", e.Operation))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.ServerMsg != "" && e.ServerMsg != e.Message {
		parts = append(parts, fmt.Sprintf("server: %s", e.ServerMsg))
	}

	if e.DN != "" {
		parts = append(parts, fmt.Sprintf("DN: %s", e.DN))
	}

	return strings.Join(parts, " - ")
}

func (e *LDAPError) IsRetryable() bool {
	return e.Retryable
}

// Unwrap exposes the cause, and ErrUnreachable for connection failures.
func (e *LDAPError) Unwrap() []error {
	errs := []error{e.Cause}
	if e.Category == ErrorCategoryConnection {
		errs = append(errs, ErrUnreachable)
	}
	return errs
}

// NewLDAPError creates a new LDAP error.
func NewLDAPError(operation string, err error) *LDAPError {
	if err == nil {
		return nil
	}

	ldapErr := &LDAPError{
		Operation: operation,
		Cause:     err,
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		ldapErr.LDAPCode = resultErr.ResultCode
		if resultErr.Err != nil {
			ldapErr.ServerMsg = resultErr.Err.Error()
		}
		ldapErr.Category = categorizeError(resultErr.ResultCode)
		ldapErr.Retryable = isLDAPCodeRetryable(resultErr.ResultCode)
		ldapErr.Message = getLDAPCodeMessage(resultErr.ResultCode)
	} else {
		// Non-LDAP error, categorize by error message
		ldapErr.Category = categorizeGenericError(err)
		ldapErr.Retryable = isGenericErrorRetryable(err)
		ldapErr.Message = err.Error()
	}

	return ldapErr
}

// categorizeError categorizes an error based on LDAP result code.
func categorizeError(code uint16) ErrorCategory {
	switch code {
	case ldap.LDAPResultInvalidCredentials,
		ldap.LDAPResultInappropriateAuthentication,
		ldap.LDAPResultStrongAuthRequired:
		return ErrorCategoryAuthentication

	case ldap.LDAPResultInsufficientAccessRights,
		ldap.LDAPResultUnwillingToPerform:
		return ErrorCategoryPermission

	case ldap.LDAPResultNoSuchObject,
		ldap.LDAPResultNoSuchAttribute,
		ldap.LDAPResultUndefinedAttributeType:
		return ErrorCategoryNotFound

	case ldap.LDAPResultEntryAlreadyExists,
		ldap.LDAPResultAttributeOrValueExists,
		ldap.LDAPResultObjectClassViolation:
		return ErrorCategoryConflict

	case ldap.LDAPResultInvalidAttributeSyntax,
		ldap.LDAPResultConstraintViolation,
		ldap.LDAPResultInvalidDNSyntax,
		ldap.LDAPResultFilterError:
		return ErrorCategoryValidation

	case ldap.LDAPResultUnavailable,
		ldap.LDAPResultBusy,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultAdminLimitExceeded:
		return ErrorCategoryServer

	// go-ldap reports dial and transport failures with these client-side codes
	case ldap.LDAPResultServerDown,
		ldap.LDAPResultConnectError,
		ldap.LDAPResultTimeout,
		ldap.ErrorNetwork:
		return ErrorCategoryConnection

	default:
		return ErrorCategoryUnknown
	}
}

// categorizeGenericError categorizes non-LDAP errors.
func categorizeGenericError(err error) ErrorCategory {
	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "no such host") {
		return ErrorCategoryConnection
	}

	if strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "credentials") {
		return ErrorCategoryAuthentication
	}

	if strings.Contains(errStr, "permission") ||
		strings.Contains(errStr, "denied") {
		return ErrorCategoryPermission
	}

	return ErrorCategoryUnknown
}

// isLDAPCodeRetryable determines if an LDAP error code indicates a retryable condition.
func isLDAPCodeRetryable(code uint16) bool {
	switch code {
	case ldap.LDAPResultBusy,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultServerDown,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultConnectError,
		ldap.ErrorNetwork:
		return true
	default:
		return false
	}
}

// isGenericErrorRetryable determines if a generic error is retryable.
func isGenericErrorRetryable(err error) bool {
	errStr := strings.ToLower(err.Error())

	retryablePatterns := []string{
		"connection",
		"timeout",
		"network",
		"broken pipe",
		"temporary failure",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// getLDAPCodeMessage returns a human-readable message for an LDAP result code.
func getLDAPCodeMessage(code uint16) string {
	switch code {
	case ldap.LDAPResultOperationsError:
		return "LDAP operations error"
	case ldap.LDAPResultProtocolError:
		return "LDAP protocol error"
	case ldap.LDAPResultTimeLimitExceeded:
		return "LDAP time limit exceeded"
	case ldap.LDAPResultSizeLimitExceeded:
		return "LDAP size limit exceeded"
	case ldap.LDAPResultStrongAuthRequired:
		return "Strong authentication required"
	case ldap.LDAPResultConfidentialityRequired:
		return "Confidentiality required"
	case ldap.LDAPResultNoSuchAttribute:
		return "Requested attribute does not exist"
	case ldap.LDAPResultUndefinedAttributeType:
		return "Attribute type is not defined"
	case ldap.LDAPResultConstraintViolation:
		return "Constraint violation"
	case ldap.LDAPResultAttributeOrValueExists:
		return "Attribute or value already exists"
	case ldap.LDAPResultInvalidAttributeSyntax:
		return "Invalid attribute syntax"
	case ldap.LDAPResultNoSuchObject:
		return "Requested object does not exist"
	case ldap.LDAPResultInvalidDNSyntax:
		return "Invalid DN syntax"
	case ldap.LDAPResultInappropriateAuthentication:
		return "Inappropriate authentication method"
	case ldap.LDAPResultInvalidCredentials:
		return "Invalid credentials"
	case ldap.LDAPResultInsufficientAccessRights:
		return "Insufficient access rights"
	case ldap.LDAPResultBusy:
		return "Server is busy"
	case ldap.LDAPResultUnavailable:
		return "Server is unavailable"
	case ldap.LDAPResultUnwillingToPerform:
		return "Server is unwilling to perform the operation"
	case ldap.LDAPResultObjectClassViolation:
		return "Object class violation"
	case ldap.LDAPResultEntryAlreadyExists:
		return "Entry already exists"
	case ldap.LDAPResultServerDown:
		return "Server is down"
	case ldap.LDAPResultTimeout:
		return "Operation timed out"
	case ldap.LDAPResultFilterError:
		return "Invalid search filter"
	case ldap.LDAPResultConnectError:
		return "Connection error"
	case ldap.ErrorNetwork:
		return "Network error"
	default:
		return fmt.Sprintf("Unknown LDAP error (code %d)", code)
	}
}

// WrapError wraps an error with operation context.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		if ldapErr.Operation == "" {
			ldapErr.Operation = operation
		}
		return err
	}

	return NewLDAPError(operation, err)
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	// Check for generic retryable conditions
	return isGenericErrorRetryable(err)
}

// GetErrorCategory returns the category of an error.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		return ldapErr.Category
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		return categorizeError(resultErr.ResultCode)
	}

	return categorizeGenericError(err)
}

// IsInvalidCredentials reports a rejected bind.
func IsInvalidCredentials(err error) bool {
	return ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials)
}

// IsUnreachable reports whether err means the directory could not be contacted.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable) || GetErrorCategory(err) == ErrorCategoryConnection
}

// IsNotFoundError checks if an error indicates a "not found" condition.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrEntryNotFound) || GetErrorCategory(err) == ErrorCategoryNotFound
}

// IsAuthenticationError checks if an error indicates an authentication problem.
func IsAuthenticationError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryAuthentication
}

// IsPermissionError checks if an error indicates a permission problem.
func IsPermissionError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryPermission
}
