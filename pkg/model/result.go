package model

// ExecutionResult is what an Executor reports back for one execution attempt.
type ExecutionResult struct {
	Success      bool           `json:"success"`
	OutputData   map[string]any `json:"output_data,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ExitCode     *int           `json:"exit_code,omitempty"`

	// Artifacts the executor produced, recorded verbatim by the scheduler.
	Artifacts []TaskArtifact `json:"artifacts,omitempty"`
}

// SuccessResult builds a successful result carrying output data.
func SuccessResult(output map[string]any) *ExecutionResult {
	code := 0
	return &ExecutionResult{Success: true, OutputData: output, ExitCode: &code}
}

// FailureResult builds a failed result carrying an error message.
func FailureResult(errMsg string) *ExecutionResult {
	code := 1
	return &ExecutionResult{Success: false, ErrorMessage: errMsg, ExitCode: &code}
}
