package model

// Score grades a fitted curve from 0 to 100. Every deduction is carried as a
// Signal so a reader can see which inputs produced it.
type Score struct {
	Index      int      `json:"index"`
	Confidence string   `json:"confidence"` // low, medium, high
	Signals    []Signal `json:"signals"`
}

// Signal is one finding about a fit together with the numbers behind it
type Signal struct {
	Type        SignalType     `json:"type"`
	Severity    SignalSeverity `json:"severity"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
}

type SignalType string

const (
	SignalDataCoverage SignalType = "data_coverage" // fitted vs imputed segments
	SignalFitQuality   SignalType = "fit_quality"   // RMSE against the noise floor
	SignalShape        SignalType = "shape"
	SignalSampleDepth  SignalType = "sample_depth" // policies per segment
	SignalOutliers     SignalType = "outliers"
	SignalSkipped      SignalType = "skipped_rows"
)

type SignalSeverity string

const (
	SeverityInfo     SignalSeverity = "info"
	SeverityWarning  SignalSeverity = "warning"
	SeverityCritical SignalSeverity = "critical"
)
