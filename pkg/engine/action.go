package engine

import "time"

// ActionResult is the outcome of one remediation attempt.
type ActionResult string

const (
	ResultSuccess         ActionResult = "SUCCESS"
	ResultFailed          ActionResult = "FAILED"
	ResultSkippedConflict ActionResult = "SKIPPED_CONFLICT"
)

// RemediationAction records one fix attempt. It is never modified after creation.
type RemediationAction struct {
	ID             string       `json:"id"`
	ScanID         string       `json:"scan_id"`
	FindingID      string       `json:"finding_id"`
	Pattern        string       `json:"pattern"`
	FilePath       string       `json:"file_path"`
	BackupPath     string       `json:"backup_path,omitempty"`
	BeforeHash     string       `json:"before_hash"`
	AfterHash      string       `json:"after_hash,omitempty"`
	Result         ActionResult `json:"result"`
	Description    string       `json:"description"`
	Diff           string       `json:"diff,omitempty"`
	Error          string       `json:"error,omitempty"`
	ComplianceTags []string     `json:"compliance_tags"`
	Timestamp      time.Time    `json:"timestamp"`
}

// UnresolvedCritical returns the CRITICAL findings that are still open.
func UnresolvedCritical(findings []Finding) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.Severity == SevCritical && (f.Status == StatusOpen || f.Status == StatusSkippedConflict || f.Status == "") {
			out = append(out, f)
		}
	}
	return out
}
