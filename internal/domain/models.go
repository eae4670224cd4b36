package domain

import "time"

// ParticipantStatus tracks where a participant is in the current round.
type ParticipantStatus string

const (
	StatusWaiting   ParticipantStatus = "waiting"
	StatusTyping    ParticipantStatus = "typing"
	StatusSubmitted ParticipantStatus = "submitted"
)

// RoomPhase is the room-level state for the current phrase.
type RoomPhase string

const (
	// PhaseIdle means no phrase has been assigned yet.
	PhaseIdle RoomPhase = "idle"
	// PhaseCountingDown means a phrase was just assigned and input is locked.
	PhaseCountingDown RoomPhase = "countingDown"
	// PhaseOpen means participants may type and submit.
	PhaseOpen RoomPhase = "open"
)

// AccuracyResult is the word-level diff between a reference phrase and a
// submission. Correct/Missing follow reference word order, Incorrect/Extra
// follow submission word order. A submission word the reference never
// contains appears in both Incorrect and Extra; the overlap is intentional
// because both counts are shown to users.
type AccuracyResult struct {
	Correct        []string `json:"correct"`
	Incorrect      []string `json:"incorrect"`
	Missing        []string `json:"missing"`
	Extra          []string `json:"extra"`
	Accuracy       float64  `json:"accuracy"`
	IsFullyCorrect bool     `json:"isFullyCorrect"`
}

// Attempt is one entry in a participant's session-wide submission log.
type Attempt struct {
	Phrase      string         `json:"phrase"`
	Answer      string         `json:"answer"`
	Result      AccuracyResult `json:"result"`
	SubmittedAt time.Time      `json:"submittedAt"`
}

// Participant holds one room member's per-phrase state and cumulative stats.
type Participant struct {
	ID       string
	Nickname string
	JoinedAt time.Time

	// Transient, cleared on every phrase assignment.
	Status      ParticipantStatus
	Submission  string
	Accuracy    *AccuracyResult
	SubmittedAt *time.Time

	// Cumulative for the whole session, never reset.
	CorrectCount      int
	TotalAttempts     int
	CompletionTimes   []time.Duration
	AverageTime       time.Duration
	FastestTime       time.Duration
	SubmissionHistory []Attempt
}

// ParticipantView is the snapshot-friendly form of a participant.
type ParticipantView struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	IsHost   bool   `json:"isHost"`
	// Status is the derived display status: correct/incorrect once submitted,
	// otherwise the raw waiting/typing value.
	Status        string          `json:"status"`
	Submission    string          `json:"submission,omitempty"`
	Accuracy      *AccuracyResult `json:"accuracy,omitempty"`
	SubmittedAt   *time.Time      `json:"submittedAt,omitempty"`
	CorrectCount  int             `json:"correctCount"`
	TotalAttempts int             `json:"totalAttempts"`
	AverageTimeMs int64           `json:"averageTimeMs"`
	FastestTimeMs int64           `json:"fastestTimeMs"`
}

// RoomStats is derived on every snapshot, never stored.
type RoomStats struct {
	WaitingCount   int `json:"waitingCount"`
	TypingCount    int `json:"typingCount"`
	SubmittedCount int `json:"submittedCount"`
	// CompletionPct is submitted / non-host participants, 0..100.
	CompletionPct float64 `json:"completionPct"`
	// CorrectRate is fully-correct / submitted, 0..100.
	CorrectRate float64 `json:"correctRate"`
}

// RoomSnapshot is the full room state delivered to every subscriber.
type RoomSnapshot struct {
	RoomID             string            `json:"roomId"`
	HostID             string            `json:"hostId"`
	IsActive           bool              `json:"isActive"`
	Phase              RoomPhase         `json:"phase"`
	TargetPhrase       string            `json:"targetPhrase,omitempty"`
	CurrentPhraseIndex int               `json:"currentPhraseIndex"`
	ShowPhrase         bool              `json:"showPhrase"`
	CountdownStartedAt *time.Time        `json:"countdownStartedAt,omitempty"`
	RoundStartTime     *time.Time        `json:"roundStartTime,omitempty"`
	Participants       []ParticipantView `json:"participants"`
	Stats              RoomStats         `json:"stats"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

// SubmissionResult is returned to the submitting participant.
type SubmissionResult struct {
	Result           AccuracyResult `json:"result"`
	TotalAttempts    int            `json:"totalAttempts"`
	CorrectCount     int            `json:"correctCount"`
	CompletionTimeMs int64          `json:"completionTimeMs,omitempty"`
}

// Phrase is one dictation item; the audio reference is optional.
type Phrase struct {
	Text     string `json:"text"`
	AudioURL string `json:"audioUrl,omitempty"`
}

// PhraseSet is an ordered list of phrases a room cycles through.
type PhraseSet struct {
	ID      string   `json:"id"`
	Phrases []Phrase `json:"phrases"`
}
