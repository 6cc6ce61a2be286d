package entities

import "math"

// VerificationLevel selects how much of an archive a verification pass
// inspects.
type VerificationLevel string

// Verification levels.
const (
	// LevelQuick checks structure and recorded hashes without
	// decompressing archive contents.
	LevelQuick VerificationLevel = "quick"

	// LevelDeep additionally re-hashes every file's extracted bytes.
	LevelDeep VerificationLevel = "deep"
)

// VerificationResult accumulates the outcome of one verification call.
// A result starts passing; appending any error flips it to failed.
// Warnings never affect the outcome.
type VerificationResult struct {
	Passed          bool              `json:"passed"`
	Level           VerificationLevel `json:"level"`
	Errors          []string          `json:"errors"`
	Warnings        []string          `json:"warnings"`
	ChecksPerformed int               `json:"checks_performed"`
	ChecksPassed    int               `json:"checks_passed"`

	// FilesVerified and BytesVerified are set only by deep verification.
	FilesVerified *int   `json:"files_verified,omitempty"`
	BytesVerified *int64 `json:"bytes_verified,omitempty"`

	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// NewVerificationResult returns a passing result for the given level.
func NewVerificationResult(level VerificationLevel) *VerificationResult {
	return &VerificationResult{
		Passed:   true,
		Level:    level,
		Errors:   []string{},
		Warnings: []string{},
	}
}

// AddError appends an error and marks the result failed.
func (r *VerificationResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Passed = false
}

// AddWarning appends a warning. Warnings never fail a result.
func (r *VerificationResult) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// AddCheck records one check. A failing check with a message also
// registers the message as an error.
func (r *VerificationResult) AddCheck(passed bool, failureMsg string) {
	r.ChecksPerformed++
	if passed {
		r.ChecksPassed++
		return
	}
	if failureMsg != "" {
		r.AddError(failureMsg)
	} else {
		r.Passed = false
	}
}

// SetElapsed records the elapsed time, rounded to two decimal places for
// stable reporting.
func (r *VerificationResult) SetElapsed(seconds float64) {
	r.ElapsedSeconds = math.Round(seconds*100) / 100
}
