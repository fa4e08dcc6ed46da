package models

import "time"

// PopulatePolicyName identifies an allocation policy.
type PopulatePolicyName string

const (
	PopulatePolicyRnd  PopulatePolicyName = "rnd"
	PopulatePolicyFcfs PopulatePolicyName = "fcfs"
)

// PopulateReport summarises a single engine run.
type PopulateReport struct {
	Policy           PopulatePolicyName `json:"policy"`
	Candidates       int                `json:"candidates"`
	Activated        int                `json:"activated"`
	Restocked        int                `json:"restocked"`
	Rejected         int                `json:"rejected"`
	ParallelSkipped  int                `json:"parallel_skipped"`
	Mutations        int                `json:"mutations"`
	Notifications    int                `json:"notifications"`
	DispatchFailures int                `json:"dispatch_failures"`
	StartedAt        time.Time          `json:"started_at"`
	Duration         time.Duration      `json:"duration"`
}

// GlobalPopulateReport summarises an orchestrated RND + FCFS + waiting list run.
type GlobalPopulateReport struct {
	At                 time.Time       `json:"at"`
	Rnd                *PopulateReport `json:"rnd"`
	Fcfs               *PopulateReport `json:"fcfs"`
	WaitingListChanges int             `json:"waiting_list_changes"`
}
