// Package errors provides structured error handling for DriveRAG.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (cache, disk)
//   - 3XX: Network errors (remote fetch, embedding service)
//   - 4XX: Validation errors
//   - 5XX: Internal errors (index, pipeline)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates cache and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates network-related errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort the pass.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but the pass can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeFileNotFound    = "ERR_201_FILE_NOT_FOUND"
	ErrCodeCacheWrite      = "ERR_202_CACHE_WRITE"
	ErrCodeDiskFull        = "ERR_203_DISK_FULL"
	ErrCodeCorruptInput    = "ERR_204_CORRUPT_INPUT"
	ErrCodeCorruptManifest = "ERR_205_CORRUPT_MANIFEST"

	// Network errors (300-399)
	ErrCodeFetchTimeout       = "ERR_301_FETCH_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeRemoteList         = "ERR_303_REMOTE_LIST"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_403_QUERY_EMPTY"

	// Internal errors (500-599)
	ErrCodeInternal         = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed  = "ERR_502_EMBEDDING_FAILED"
	ErrCodeIndexWrite       = "ERR_503_INDEX_WRITE"
	ErrCodeCapacity         = "ERR_504_CAPACITY"
	ErrCodeGenerationFailed = "ERR_505_GENERATION_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeDiskFull, ErrCodeCapacity:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeFetchTimeout, ErrCodeNetworkUnavailable, ErrCodeRemoteList,
		ErrCodeEmbeddingFailed, ErrCodeGenerationFailed:
		return true
	default:
		return false
	}
}
