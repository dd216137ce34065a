package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DisplayError formats an error for user-friendly display
func DisplayError(err error) string {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr.Error()
	}
	return fmt.Sprintf("Error: %v", err)
}

// DisplayErrorSummary provides a brief summary of the error for logs
func DisplayErrorSummary(err error) string {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return fmt.Sprintf("%s-%s: %s", engErr.Category, engErr.Code, engErr.Message)
	}

	errStr := err.Error()
	if len(errStr) > 100 {
		return errStr[:97] + "..."
	}
	return errStr
}

// FormatForCLI formats an error for command-line display with proper spacing
func FormatForCLI(err error) string {
	var engErr *EngineError
	if !errors.As(err, &engErr) {
		return fmt.Sprintf("\nError: %v\n", err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n%s Error [%s-%s]\n", engErr.Category, engErr.Category, engErr.Code))
	sb.WriteString(fmt.Sprintf("  %s\n", engErr.Message))

	if engErr.Operation != "" {
		sb.WriteString(fmt.Sprintf("\nFailed Operation: %s\n", engErr.Operation))
	}

	if len(engErr.Context) > 0 {
		keys := make([]string, 0, len(engErr.Context))
		for key := range engErr.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		sb.WriteString("\nDetails:\n")
		for _, key := range keys {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", key, engErr.Context[key]))
		}
	}

	if len(engErr.Troubleshooting) > 0 {
		sb.WriteString("\nHow to resolve:\n")
		for i, step := range engErr.Troubleshooting {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, step))
		}
	}

	if engErr.OriginalError != nil {
		sb.WriteString(fmt.Sprintf("\nTechnical details: %v\n", engErr.OriginalError))
	}

	return sb.String()
}

// IsUserError determines if an error is due to user input/configuration
func IsUserError(err error) bool {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr.Category == ErrorCategoryValidation ||
			engErr.Category == ErrorCategoryConfiguration
	}
	return false
}

// GetErrorCode extracts the error code for reporting
func GetErrorCode(err error) string {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return fmt.Sprintf("%s-%s", engErr.Category, engErr.Code)
	}
	return "UNKNOWN"
}
