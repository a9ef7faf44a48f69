package model

import "github.com/google/uuid"

// RunRequest executes code once against custom input.
type RunRequest struct {
	Code     string  `json:"code" binding:"required,max=65536"`
	Language string  `json:"language" binding:"required,max=32"`
	Input    *string `json:"input,omitempty" binding:"omitempty,max=65536"`
}

// ExecutionResult is the raw outcome of a single run.
type ExecutionResult struct {
	Stdout            string `json:"stdout"`
	Stderr            string `json:"stderr"`
	CompileOutput     string `json:"compile_output"`
	StatusDescription string `json:"status_description"`
}

// TestRunRequest executes code against a question's visible test cases.
type TestRunRequest struct {
	Code        string      `json:"code" binding:"required,max=65536"`
	Language    string      `json:"language" binding:"required,max=32"`
	QuestionID  uuid.UUID   `json:"question_id" binding:"required"`
	TestCaseIDs []uuid.UUID `json:"test_case_ids"`
}

// TestCaseResult is the outcome of one test case.
type TestCaseResult struct {
	TestCaseID     uuid.UUID `json:"test_case_id"`
	Input          string    `json:"input"`
	ExpectedOutput string    `json:"expected_output"`
	ActualOutput   string    `json:"actual_output"`
	Passed         bool      `json:"passed"`
	IsHidden       bool      `json:"is_hidden"`
}

// TestRunSummary aggregates pass/fail counts.
type TestRunSummary struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// TestRunResult is the outcome of a batch run.
type TestRunResult struct {
	Results []TestCaseResult `json:"results"`
	Summary TestRunSummary   `json:"summary"`
}

// Summarize recomputes the summary from the results.
func (r *TestRunResult) Summarize() {
	r.Summary = TestRunSummary{Total: len(r.Results)}
	for _, res := range r.Results {
		if res.Passed {
			r.Summary.Passed++
		} else {
			r.Summary.Failed++
		}
	}
}

// ExecJob is the message sent to the execution collaborator.
type ExecJob struct {
	JobID       string `json:"job_id"`
	Language    string `json:"language"`
	Code        string `json:"code"`
	Stdin       string `json:"stdin"`
	TimeLimitMs int    `json:"time_limit_ms"`
}

// ExecStatus is reported by the execution collaborator.
type ExecStatus string

const (
	ExecStatusSuccess           ExecStatus = "success"
	ExecStatusCompileError      ExecStatus = "compile_error"
	ExecStatusRuntimeError      ExecStatus = "runtime_error"
	ExecStatusTimeLimitExceeded ExecStatus = "time_limit_exceeded"
	ExecStatusInternalError     ExecStatus = "internal_error"
)

// ExecReply is the execution collaborator's answer to an ExecJob.
type ExecReply struct {
	JobID         string     `json:"job_id"`
	Status        ExecStatus `json:"status"`
	Stdout        string     `json:"stdout"`
	Stderr        string     `json:"stderr"`
	CompileOutput string     `json:"compile_output"`
	ExitCode      int        `json:"exit_code"`
}
