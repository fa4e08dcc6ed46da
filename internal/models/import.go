package models

// ImportRowError points at a rejected line of an uploaded file.
type ImportRowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// ImportReport summarises an approval data import.
type ImportReport struct {
	Kind     string                `json:"kind"`
	Rows     int                   `json:"rows"`
	Applied  int64                 `json:"applied"`
	Skipped  int                   `json:"skipped"`
	Errors   []ImportRowError      `json:"errors,omitempty"`
	Populate *GlobalPopulateReport `json:"populate,omitempty"`
}
