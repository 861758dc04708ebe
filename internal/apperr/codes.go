package apperr

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown  Code = "UNKNOWN"
	CodeNotFound Code = "NOT_FOUND"

	// Input
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeFieldTooLong      Code = "FIELD_TOO_LONG"
	CodeMilestonesEmpty   Code = "MILESTONES_EMPTY"
	CodeMilestonesTooMany Code = "MILESTONES_TOO_MANY"
	CodeAmountMismatch    Code = "AMOUNT_MISMATCH"
	CodeInvalidAmount     Code = "INVALID_AMOUNT"
	CodeInvalidScore      Code = "INVALID_SCORE"
	CodeInvalidBudget     Code = "INVALID_BUDGET"
	CodeRequiredBadges    Code = "INVALID_REQUIRED_BADGES"
	CodeInvalidIndex      Code = "INVALID_MILESTONE_INDEX"

	// State
	CodeContractExists      Code = "CONTRACT_EXISTS"
	CodeContractStatus      Code = "CONTRACT_STATUS"
	CodeMilestoneStatus     Code = "MILESTONE_STATUS"
	CodeAlreadyFunded       Code = "ALREADY_FUNDED"
	CodeNDAAlreadySigned    Code = "NDA_ALREADY_SIGNED"
	CodeRevisionLimit       Code = "REVISION_LIMIT_REACHED"
	CodeInsufficientFunds   Code = "INSUFFICIENT_FUNDS"
	CodeConcurrentUpdate    Code = "CONCURRENT_MODIFICATION"
	CodeDisputeActive       Code = "DISPUTE_ALREADY_ACTIVE"
	CodeDisputeStatus       Code = "DISPUTE_STATUS"
	CodeNoDispute           Code = "NO_DISPUTE"
	CodeAlreadyStaked       Code = "ALREADY_STAKED"
	CodeArbitratorsAssigned Code = "ARBITRATORS_ALREADY_ASSIGNED"
	CodeInvalidArbitrators  Code = "INVALID_ARBITRATORS"
	CodeAlreadyVoted        Code = "ALREADY_VOTED"
	CodeAlreadyRecorded     Code = "ALREADY_RECORDED"
	CodeNoQualifyingResult  Code = "NO_QUALIFYING_RESULT"
	CodeScoreBelowThreshold Code = "SCORE_BELOW_THRESHOLD"
	CodeBadgeAlreadyMinted  Code = "BADGE_ALREADY_MINTED"
	CodeBadgeRevoked        Code = "BADGE_REVOKED"
	CodeSessionExists       Code = "SESSION_EXISTS"
	CodeSessionClosed       Code = "SESSION_CLOSED"
	CodeCertificateIssued   Code = "CERTIFICATE_ALREADY_ISSUED"
	CodeJobExists           Code = "JOB_EXISTS"
	CodeJobStatus           Code = "JOB_STATUS"
	CodeMissingBadges       Code = "MISSING_REQUIRED_BADGES"
	CodeAlreadyApplied      Code = "ALREADY_APPLIED"
	CodeApplicationStatus   Code = "APPLICATION_STATUS"
	CodeSelfApplication     Code = "SELF_APPLICATION"

	// Authority
	CodeNotClient     Code = "NOT_CLIENT"
	CodeNotFreelancer Code = "NOT_FREELANCER"
	CodeNotParty      Code = "NOT_CONTRACT_PARTY"
	CodeNotInitiator  Code = "NOT_DISPUTE_INITIATOR"
	CodeNotArbitrator Code = "NOT_ARBITRATOR"
	CodeNotAdmin      Code = "ADMIN_REQUIRED"
	CodeNotCandidate  Code = "NOT_CANDIDATE"
	CodeNotEmployer   Code = "NOT_EMPLOYER"
	CodeNotApplicant  Code = "NOT_APPLICANT"

	// Derivation
	CodeAddressCollision Code = "ADDRESS_COLLISION"
)

// Sentinels for errors.Is comparisons.
var (
	ErrAlreadyRecorded = &Error{Kind: KindPrecondition, Code: CodeAlreadyRecorded}
	ErrRevisionLimit   = &Error{Kind: KindPrecondition, Code: CodeRevisionLimit}
	ErrDisputeActive   = &Error{Kind: KindPrecondition, Code: CodeDisputeActive}
	ErrNotFound        = &Error{Kind: KindNotFound, Code: CodeNotFound}
)
