package domain

// RunResult is the persisted, wire-stable outcome of a job run or file pass.
type RunResult string

const (
	ResultUnset                RunResult = "UNSET"
	ResultSuccess              RunResult = "SUCCESS"
	ResultNoFiles              RunResult = "NO_FILES"
	ResultInvalidFileName      RunResult = "INVALID_FILE_NAME"
	ResultInvalidFileStructure RunResult = "INVALID_FILE_STRUCTURE"
	ResultError                RunResult = "ERROR"
)

// Severity ranks a result: 0 is healthy, 1 is a recoverable validation
// failure, 2 is an error.
func (r RunResult) Severity() int {
	switch r {
	case ResultUnset, ResultSuccess, ResultNoFiles:
		return 0
	case ResultInvalidFileName, ResultInvalidFileStructure:
		return 1
	default:
		return 2
	}
}

// Aggregate folds sub-results into a run result. No sub-results means nothing
// was found to process.
func Aggregate(results []RunResult) RunResult {
	if len(results) == 0 {
		return ResultNoFiles
	}
	for _, r := range results {
		if r != ResultSuccess && r != ResultNoFiles {
			return ResultError
		}
	}
	return ResultSuccess
}

// JobRunStatus tracks a JobRun from creation to completion.
type JobRunStatus string

const (
	JobQueued    JobRunStatus = "QUEUED"
	JobRunning   JobRunStatus = "RUNNING"
	JobCompleted JobRunStatus = "COMPLETED"
	JobAborted   JobRunStatus = "ABORTED"
)

// Terminal reports whether the run has been finalized.
func (s JobRunStatus) Terminal() bool {
	return s == JobCompleted || s == JobAborted
}
