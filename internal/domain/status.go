package domain

import "fmt"

type ContractStatus string

const (
	ContractActive     ContractStatus = "Active"
	ContractFunded     ContractStatus = "Funded"
	ContractInProgress ContractStatus = "InProgress"
	ContractCompleted  ContractStatus = "Completed"
	ContractDisputed   ContractStatus = "Disputed"
	ContractCancelled  ContractStatus = "Cancelled"
)

func ParseContractStatus(s string) (ContractStatus, error) {
	switch ContractStatus(s) {
	case ContractActive, ContractFunded, ContractInProgress, ContractCompleted, ContractDisputed, ContractCancelled:
		return ContractStatus(s), nil
	}
	return "", fmt.Errorf("unknown contract status %q", s)
}

// Terminal reports whether no further transition is allowed.
func (s ContractStatus) Terminal() bool {
	switch s {
	case ContractCompleted, ContractCancelled:
		return true
	case ContractActive, ContractFunded, ContractInProgress, ContractDisputed:
		return false
	}
	return false
}

type MilestoneStatus string

const (
	MilestonePending           MilestoneStatus = "Pending"
	MilestoneUnderReview       MilestoneStatus = "UnderReview"
	MilestoneRevisionRequested MilestoneStatus = "RevisionRequested"
	MilestoneCompleted         MilestoneStatus = "Completed"
)

func ParseMilestoneStatus(s string) (MilestoneStatus, error) {
	switch MilestoneStatus(s) {
	case MilestonePending, MilestoneUnderReview, MilestoneRevisionRequested, MilestoneCompleted:
		return MilestoneStatus(s), nil
	}
	return "", fmt.Errorf("unknown milestone status %q", s)
}

type DisputeCategory string

const (
	DisputeQuality       DisputeCategory = "Quality"
	DisputeDeadline      DisputeCategory = "Deadline"
	DisputeScope         DisputeCategory = "Scope"
	DisputePayment       DisputeCategory = "Payment"
	DisputeCommunication DisputeCategory = "Communication"
	DisputeOther         DisputeCategory = "Other"
)

func ParseDisputeCategory(s string) (DisputeCategory, error) {
	switch DisputeCategory(s) {
	case DisputeQuality, DisputeDeadline, DisputeScope, DisputePayment, DisputeCommunication, DisputeOther:
		return DisputeCategory(s), nil
	}
	return "", fmt.Errorf("unknown dispute category %q", s)
}

type DisputeStatus string

const (
	DisputeOpen                  DisputeStatus = "Open"
	DisputeUnderReview           DisputeStatus = "UnderReview"
	DisputeResolvedForClient     DisputeStatus = "ResolvedForClient"
	DisputeResolvedForFreelancer DisputeStatus = "ResolvedForFreelancer"
	DisputeCancelled             DisputeStatus = "Cancelled"
)

func ParseDisputeStatus(s string) (DisputeStatus, error) {
	switch DisputeStatus(s) {
	case DisputeOpen, DisputeUnderReview, DisputeResolvedForClient, DisputeResolvedForFreelancer, DisputeCancelled:
		return DisputeStatus(s), nil
	}
	return "", fmt.Errorf("unknown dispute status %q", s)
}

// Active reports whether the dispute still freezes its contract.
func (s DisputeStatus) Active() bool {
	switch s {
	case DisputeOpen, DisputeUnderReview:
		return true
	case DisputeResolvedForClient, DisputeResolvedForFreelancer, DisputeCancelled:
		return false
	}
	return false
}

type JobType string

const (
	JobFullTime  JobType = "FullTime"
	JobPartTime  JobType = "PartTime"
	JobContract  JobType = "Contract"
	JobFreelance JobType = "Freelance"
)

func ParseJobType(s string) (JobType, error) {
	switch JobType(s) {
	case JobFullTime, JobPartTime, JobContract, JobFreelance:
		return JobType(s), nil
	}
	return "", fmt.Errorf("unknown job type %q", s)
}

type JobStatus string

const (
	JobOpen       JobStatus = "Open"
	JobInProgress JobStatus = "InProgress"
	JobCompleted  JobStatus = "Completed"
	JobClosed     JobStatus = "Closed"
	JobCancelled  JobStatus = "Cancelled"
)

func ParseJobStatus(s string) (JobStatus, error) {
	switch JobStatus(s) {
	case JobOpen, JobInProgress, JobCompleted, JobClosed, JobCancelled:
		return JobStatus(s), nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

type ApplicationStatus string

const (
	ApplicationPending   ApplicationStatus = "Pending"
	ApplicationAccepted  ApplicationStatus = "Accepted"
	ApplicationRejected  ApplicationStatus = "Rejected"
	ApplicationWithdrawn ApplicationStatus = "Withdrawn"
)

func ParseApplicationStatus(s string) (ApplicationStatus, error) {
	switch ApplicationStatus(s) {
	case ApplicationPending, ApplicationAccepted, ApplicationRejected, ApplicationWithdrawn:
		return ApplicationStatus(s), nil
	}
	return "", fmt.Errorf("unknown application status %q", s)
}

// Role is a platform-wide grant.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleArbitrator Role = "arbitrator"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleArbitrator:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}
