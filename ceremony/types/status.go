package types

// CeremonyState is the lifecycle state of a ceremony. It only moves forward
// along the declared order.
type CeremonyState string

// Ceremony lifecycle states.
const (
	CeremonyScheduled CeremonyState = "SCHEDULED"
	CeremonyOpened    CeremonyState = "OPENED"
	CeremonyClosed    CeremonyState = "CLOSED"
	CeremonyFinalized CeremonyState = "FINALIZED"
)

// CeremonyType distinguishes powers-of-tau runs from circuit-specific
// phase-2 runs. The coordinator orchestrates phase-2 only.
type CeremonyType string

// Ceremony types.
const (
	CeremonyPhase1 CeremonyType = "PHASE1"
	CeremonyPhase2 CeremonyType = "PHASE2"
)

// TimeoutMechanism selects how contribution deadlines are computed.
type TimeoutMechanism string

// Timeout mechanisms.
const (
	TimeoutFixed   TimeoutMechanism = "FIXED"
	TimeoutDynamic TimeoutMechanism = "DYNAMIC"
)

// VerificationMechanism selects where contribution verification runs.
type VerificationMechanism string

// Verification mechanisms.
const (
	VerifyLocal VerificationMechanism = "LOCAL"
	VerifyVM    VerificationMechanism = "VM"
)

// ParticipantStatus is the participant state machine's current state.
type ParticipantStatus string

// Participant statuses.
const (
	StatusWaiting      ParticipantStatus = "WAITING"
	StatusReady        ParticipantStatus = "READY"
	StatusContributing ParticipantStatus = "CONTRIBUTING"
	StatusContributed  ParticipantStatus = "CONTRIBUTED"
	StatusDone         ParticipantStatus = "DONE"
	StatusFinalizing   ParticipantStatus = "FINALIZING"
	StatusFinalized    ParticipantStatus = "FINALIZED"
	StatusTimedout     ParticipantStatus = "TIMEDOUT"
	StatusExhumed      ParticipantStatus = "EXHUMED"
)

// ContributionStep is the position within one contribution attempt. Steps
// only advance one at a time.
type ContributionStep string

// Contribution steps, in order.
const (
	StepDownloading ContributionStep = "DOWNLOADING"
	StepComputing   ContributionStep = "COMPUTING"
	StepUploading   ContributionStep = "UPLOADING"
	StepVerifying   ContributionStep = "VERIFYING"
	StepCompleted   ContributionStep = "COMPLETED"
)

var stepOrder = []ContributionStep{
	StepDownloading,
	StepComputing,
	StepUploading,
	StepVerifying,
	StepCompleted,
}

// NextStep returns the step following s. ok is false when s is already the
// final step or unknown.
func NextStep(s ContributionStep) (next ContributionStep, ok bool) {
	for i, step := range stepOrder {
		if step == s {
			if i == len(stepOrder)-1 {
				return "", false
			}
			return stepOrder[i+1], true
		}
	}
	return "", false
}

// StepIndex returns the zero-based position of s in the step order, or -1
// when unknown.
func StepIndex(s ContributionStep) int {
	for i, step := range stepOrder {
		if step == s {
			return i
		}
	}
	return -1
}

// TimeoutType classifies why a participant was evicted.
type TimeoutType string

// Timeout types.
const (
	TimeoutBlockingContribution TimeoutType = "BLOCKING_CONTRIBUTION"
	TimeoutBlockingVerification TimeoutType = "BLOCKING_VERIFICATION"
)
