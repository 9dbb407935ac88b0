// Package types defines the persisted documents of a phase-2 trusted-setup
// ceremony and the helpers shared by every coordinator component: status and
// step enums, zkey index formatting, and canonical blob storage paths.
//
// Documents reference each other by id only. Timestamps are Unix milliseconds.
// Every document carries a LastUpdated field maintained by the store and used
// as the compare-and-set token for conditional writes.
package types

// Ceremony is the root document of a trusted-setup run. It is created
// externally at setup time; the coordinator only advances its state.
type Ceremony struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Prefix      string        `json:"prefix"`
	State       CeremonyState `json:"state"`
	Type        CeremonyType  `json:"type"`
	StartDate   int64         `json:"startDate"`
	EndDate     int64         `json:"endDate"`
	// TimeoutType selects how contribution deadlines are computed for every
	// circuit of this ceremony.
	TimeoutType TimeoutMechanism `json:"timeoutMechanismType"`
	// Penalty is the cool-down, in minutes, applied to evicted participants.
	Penalty       int64  `json:"penalty"`
	CoordinatorID string `json:"coordinatorId"`
	LastUpdated   int64  `json:"lastUpdated"`
}

// AvgTimings keeps the rolling per-circuit timing means, in milliseconds.
type AvgTimings struct {
	ContributionComputation int64 `json:"contributionComputation"`
	FullContribution        int64 `json:"fullContribution"`
	VerifyContribution      int64 `json:"verifyCloudFunction"`
}

// WaitingQueue is the per-circuit contributor queue embedded in a Circuit.
// The current contributor, when set, is always contributors[0].
type WaitingQueue struct {
	Contributors           []string `json:"contributors"`
	CurrentContributor     string   `json:"currentContributor"`
	CompletedContributions uint64   `json:"completedContributions"`
	FailedContributions    uint64   `json:"failedContributions"`
}

// VMDescriptor identifies the virtual machine dedicated to a circuit whose
// contributions are verified remotely.
type VMDescriptor struct {
	InstanceID string `json:"vmInstanceId"`
}

// Verification describes how contributions to a circuit are verified.
type Verification struct {
	Kind VerificationMechanism `json:"kind"`
	VM   *VMDescriptor         `json:"vm,omitempty"`
}

// CircuitFiles names the fixed artifacts each circuit was set up with. Paths
// are derived from the circuit prefix, see the storage path helpers.
type CircuitFiles struct {
	R1CSFilename        string `json:"r1csFilename"`
	PotFilename         string `json:"potFilename"`
	InitialZkeyFilename string `json:"initialZkeyFilename"`
}

// TimeoutParams carries both deadline models; which one applies is decided by
// the ceremony's timeout mechanism.
type TimeoutParams struct {
	// FixedTimeWindow is the contribution window in minutes (FIXED).
	FixedTimeWindow int64 `json:"fixedTimeWindow"`
	// DynamicThreshold is the tolerated percentage over the average full
	// contribution time (DYNAMIC).
	DynamicThreshold int64 `json:"dynamicThreshold"`
}

// Circuit is a child document of a ceremony, ordered by SequencePosition
// (1..N contiguous). The scheduler and the verifier are the only writers of
// its waiting queue and counters.
type Circuit struct {
	ID               string        `json:"id"`
	CeremonyID       string        `json:"ceremonyId"`
	Name             string        `json:"name"`
	Prefix           string        `json:"prefix"`
	SequencePosition int           `json:"sequencePosition"`
	Timeouts         TimeoutParams `json:"timeouts"`
	Verification     Verification  `json:"verification"`
	AvgTimings       AvgTimings    `json:"avgTimings"`
	WaitingQueue     WaitingQueue  `json:"waitingQueue"`
	Files            CircuitFiles  `json:"files"`
	Constraints      uint64        `json:"constraints,omitempty"`
	ZkeySizeInBytes  uint64        `json:"zKeySizeInBytes,omitempty"`
	LastUpdated      int64         `json:"lastUpdated"`
}

// ContributionRef is one entry of a participant's ordered contribution list.
// Entry i corresponds to the circuit at sequence position i+1. An entry with
// an empty Doc is pending verification; at most one may be pending.
type ContributionRef struct {
	Hash            string `json:"hash,omitempty"`
	ComputationTime int64  `json:"computationTime,omitempty"`
	Doc             string `json:"doc,omitempty"`
}

// Chunk records one uploaded part of a multipart zkey upload.
type Chunk struct {
	ETag       string `json:"eTag"`
	PartNumber int64  `json:"partNumber"`
}

// TempContributionData holds in-flight upload state, cleared once the
// contribution outcome is recorded.
type TempContributionData struct {
	ContributionComputationTime int64   `json:"contributionComputationTime,omitempty"`
	UploadID                    string  `json:"uploadId,omitempty"`
	Chunks                      []Chunk `json:"chunks,omitempty"`
}

// Participant is a child document of a ceremony whose id equals the user id.
type Participant struct {
	UserID     string            `json:"userId"`
	CeremonyID string            `json:"ceremonyId"`
	Status     ParticipantStatus `json:"status"`
	Step       ContributionStep  `json:"contributionStep"`
	// Progress counts circuits fully contributed so far; while READY or
	// CONTRIBUTING it is also the 1-based position of the target circuit.
	Progress              int                  `json:"contributionProgress"`
	ContributionStartedAt int64                `json:"contributionStartedAt"`
	VerificationStartedAt int64                `json:"verificationStartedAt"`
	Contributions         []ContributionRef    `json:"contributions"`
	TempData              TempContributionData `json:"tempContributionData"`
	LastUpdated           int64                `json:"lastUpdated"`
}

// PendingContribution returns the index of the unique contribution entry
// lacking a document reference, or -1 when none is pending.
func (p *Participant) PendingContribution() int {
	for i := range p.Contributions {
		if p.Contributions[i].Doc == "" {
			return i
		}
	}
	return -1
}

// VerificationSoftware identifies the verifier build recorded into each
// contribution document.
type VerificationSoftware struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	CommitHash string `json:"commitHash"`
}

// ContributionFiles carries the blob names, storage paths and Blake2b-512
// hashes of the artifacts tied to one contribution. The verification key and
// verifier contract fields are appended during circuit finalization only.
type ContributionFiles struct {
	LastZkeyFilename    string `json:"lastZkeyFilename"`
	LastZkeyStoragePath string `json:"lastZkeyStoragePath"`
	LastZkeyBlake2bHash string `json:"lastZkeyBlake2bHash"`

	TranscriptFilename    string `json:"transcriptFilename"`
	TranscriptStoragePath string `json:"transcriptStoragePath"`
	TranscriptBlake2bHash string `json:"transcriptBlake2bHash"`

	VerificationKeyFilename    string `json:"verificationKeyFilename,omitempty"`
	VerificationKeyStoragePath string `json:"verificationKeyStoragePath,omitempty"`
	VerificationKeyBlake2bHash string `json:"verificationKeyBlake2bHash,omitempty"`

	VerifierContractFilename    string `json:"verifierContractFilename,omitempty"`
	VerifierContractStoragePath string `json:"verifierContractStoragePath,omitempty"`
	VerifierContractBlake2bHash string `json:"verifierContractBlake2bHash,omitempty"`
}

// Beacon records the public randomness sealing a finalized circuit.
type Beacon struct {
	Value string `json:"value"`
	Hash  string `json:"hash"`
}

// Contribution is a child document of a circuit recording one verified
// contribution, valid or not.
type Contribution struct {
	ID                          string               `json:"id"`
	CeremonyID                  string               `json:"ceremonyId"`
	CircuitID                   string               `json:"circuitId"`
	ParticipantID               string               `json:"participantId"`
	ZkeyIndex                   string               `json:"zkeyIndex"`
	Valid                       bool                 `json:"valid"`
	ContributionComputationTime int64                `json:"contributionComputationTime"`
	FullContributionTime        int64                `json:"fullContributionTime"`
	VerificationComputationTime int64                `json:"verificationComputationTime"`
	Software                    VerificationSoftware `json:"verificationSoftware"`
	Files                       ContributionFiles    `json:"files"`
	Beacon                      *Beacon              `json:"beacon,omitempty"`
	LastUpdated                 int64                `json:"lastUpdated"`
}

// Timeout is a child document of a participant. A participant is in a live
// timeout iff any of their timeout documents has EndDate >= now.
type Timeout struct {
	ID            string      `json:"id"`
	CeremonyID    string      `json:"ceremonyId"`
	ParticipantID string      `json:"participantId"`
	Type          TimeoutType `json:"type"`
	StartDate     int64       `json:"startDate"`
	EndDate       int64       `json:"endDate"`
	LastUpdated   int64       `json:"lastUpdated"`
}
