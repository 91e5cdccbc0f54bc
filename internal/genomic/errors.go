package genomic

import (
	"fmt"

	"genomicore/pkg/domain"
)

// LookupError reports a row that could not be applied because a prerequisite
// record is missing or a value failed coercion. It aborts the current file.
type LookupError struct {
	Code   domain.IncidentCode
	Entity string
	Key    string
	Row    int
	Err    error
}

func (e *LookupError) Error() string {
	msg := fmt.Sprintf("%s %q not found", e.Entity, e.Key)
	if e.Code == domain.IncidentMalformedRow {
		msg = fmt.Sprintf("malformed %s %q", e.Entity, e.Key)
	}
	if e.Row > 0 {
		msg = fmt.Sprintf("row %d: %s", e.Row, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LookupError) Unwrap() error { return e.Err }

// FileValidationError rejects a whole file before any row is applied.
type FileValidationError struct {
	Result domain.RunResult
	Path   string
	Reason string
}

func (e *FileValidationError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Path, e.Reason, e.Result)
}

// IncidentCode maps the validation result to its incident code.
func (e *FileValidationError) IncidentCode() domain.IncidentCode {
	if e.Result == domain.ResultInvalidFileName {
		return domain.IncidentInvalidFileName
	}
	return domain.IncidentInvalidStructure
}
