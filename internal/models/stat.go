package models

// TransformationTypeStat holds job counts for a single transformation type.
type TransformationTypeStat struct {
	Type      TransformationType `json:"type" db:"type"`
	Total     int                `json:"total" db:"total"`
	Completed int                `json:"completed" db:"completed"`
	Failed    int                `json:"failed" db:"failed"`
}

// TransformationStat is the aggregated stats over all jobs, plus per-type
// details.
type TransformationStat struct {
	Total          int     `json:"total" db:"total"`
	Pending        int     `json:"pending" db:"pending"`
	Running        int     `json:"running" db:"running"`
	Completed      int     `json:"completed" db:"completed"`
	Failed         int     `json:"failed" db:"failed"`
	Cancelled      int     `json:"cancelled" db:"cancelled"`
	SuccessRate    float64 `json:"success_rate" db:"success_rate"` // completed/terminal
	FilesProcessed int64   `json:"files_processed" db:"files_processed"`
	FilesSucceeded int64   `json:"files_succeeded" db:"files_succeeded"`

	ByType []TransformationTypeStat `json:"by_type" db:"by_type"`
}
