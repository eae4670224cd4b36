package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"

	"wfd-room-service/internal/domain"
	"wfd-room-service/internal/score"
)

// DefaultCountdown is the input-locked window after a phrase assignment.
const DefaultCountdown = 3 * time.Second

// RoomRepository abstracts how room sessions are stored (in-memory, Redis, etc).
type RoomRepository interface {
	Put(session *RoomSession)
	Get(roomID string) (*RoomSession, bool)
	Delete(roomID string)
}

// PhraseRepository loads phrase-set content (from cache/backing store).
type PhraseRepository interface {
	GetPhraseSet(ctx context.Context, setID string) (domain.PhraseSet, error)
}

// RoomService contains the practice-room use cases.
type RoomService struct {
	rooms     RoomRepository
	phrases   PhraseRepository
	countdown time.Duration
	now       func() time.Time
}

// NewRoomService builds the service; a zero countdown selects the default
// 3-second window.
func NewRoomService(rooms RoomRepository, phrases PhraseRepository, countdown time.Duration) *RoomService {
	if countdown <= 0 {
		countdown = DefaultCountdown
	}
	return &RoomService{
		rooms:     rooms,
		phrases:   phrases,
		countdown: countdown,
		now:       time.Now,
	}
}

// NewRoomServiceWithTiming is test-only for deterministic countdowns and timestamps.
func NewRoomServiceWithTiming(rooms RoomRepository, phrases PhraseRepository, countdown time.Duration, now func() time.Time) *RoomService {
	return &RoomService{rooms: rooms, phrases: phrases, countdown: countdown, now: now}
}

// CreateRoom registers a new room with the caller as host and sole participant.
func (s *RoomService) CreateRoom(_ context.Context, hostID, hostNickname, phraseSetID string) (domain.RoomSnapshot, error) {
	roomID, err := s.newRoomCode()
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	session := newRoomSession(roomID, hostID, phraseSetID, s.now)
	session.mu.Lock()
	session.addParticipantLocked(hostID, hostNickname)
	snap := session.snapshotLocked()
	session.mu.Unlock()
	s.rooms.Put(session)
	return snap, nil
}

// Join adds a participant to an active room. A rejoin under the same identity
// refreshes the nickname and resets the transient status but keeps the
// cumulative counters and submission history.
func (s *RoomService) Join(_ context.Context, roomID, userID, nickname string) (domain.RoomSnapshot, error) {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if !session.isActive {
		return domain.RoomSnapshot{}, domain.ErrRoomInactive
	}
	session.addParticipantLocked(userID, nickname)
	return session.broadcastLocked(), nil
}

// AssignPhrase sets the target phrase, locks input for the countdown window,
// and resets every participant's per-phrase state. Host only.
func (s *RoomService) AssignPhrase(_ context.Context, roomID, callerID, phrase string, index int) (domain.RoomSnapshot, error) {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if err := session.requireHostLocked(callerID); err != nil {
		return domain.RoomSnapshot{}, err
	}

	now := s.now()
	session.targetPhrase = phrase
	session.currentPhraseIndex = index
	session.phase = domain.PhaseCountingDown
	session.countdownStartedAt = &now
	session.roundStartTime = nil
	session.generation++
	for _, p := range session.participants {
		p.Status = domain.StatusWaiting
		p.Submission = ""
		p.Accuracy = nil
		p.SubmittedAt = nil
	}

	// The pending transition is keyed by generation so a newer assignment
	// invalidates it; a stale timer must never reopen input.
	gen := session.generation
	time.AfterFunc(s.countdown, func() {
		s.completeCountdown(session, gen)
	})

	return session.broadcastLocked(), nil
}

// NextPhrase advances through the room's phrase set, wrapping at the end,
// then behaves exactly like AssignPhrase. Host only.
func (s *RoomService) NextPhrase(ctx context.Context, roomID, callerID string) (domain.RoomSnapshot, error) {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}

	session.mu.RLock()
	setID := session.phraseSetID
	current := session.currentPhraseIndex
	hasPhrase := session.targetPhrase != ""
	session.mu.RUnlock()

	set, err := s.phrases.GetPhraseSet(ctx, setID)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	if len(set.Phrases) == 0 {
		return domain.RoomSnapshot{}, domain.ErrEmptyPhraseList
	}

	next := 0
	if hasPhrase {
		next = (current + 1) % len(set.Phrases)
	}
	return s.AssignPhrase(ctx, roomID, callerID, set.Phrases[next].Text, next)
}

// completeCountdown opens the round if the assignment that scheduled it is
// still the latest one.
func (s *RoomService) completeCountdown(session *RoomSession, gen uint64) {
	session.mu.Lock()
	defer session.mu.Unlock()
	if !session.isActive || session.generation != gen || session.phase != domain.PhaseCountingDown {
		return
	}
	now := s.now()
	session.phase = domain.PhaseOpen
	session.roundStartTime = &now
	session.broadcastLocked()
}

// Submit scores an answer against the current phrase and updates the
// participant's record atomically.
func (s *RoomService) Submit(_ context.Context, roomID, participantID, answer string) (domain.SubmissionResult, domain.RoomSnapshot, error) {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.SubmissionResult{}, domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if !session.isActive {
		return domain.SubmissionResult{}, domain.RoomSnapshot{}, domain.ErrRoomInactive
	}
	participant, ok := session.participants[participantID]
	if !ok {
		return domain.SubmissionResult{}, domain.RoomSnapshot{}, domain.ErrParticipantNotFound
	}
	if session.targetPhrase == "" {
		return domain.SubmissionResult{}, domain.RoomSnapshot{}, domain.ErrNoPhrase
	}
	if session.phase == domain.PhaseCountingDown {
		return domain.SubmissionResult{}, domain.RoomSnapshot{}, domain.ErrInputLocked
	}

	now := s.now()
	result := score.Score(session.targetPhrase, answer)

	participant.Status = domain.StatusSubmitted
	participant.Submission = answer
	participant.Accuracy = &result
	participant.SubmittedAt = &now
	participant.TotalAttempts++
	if result.IsFullyCorrect {
		participant.CorrectCount++
	}
	participant.SubmissionHistory = append(participant.SubmissionHistory, domain.Attempt{
		Phrase:      session.targetPhrase,
		Answer:      answer,
		Result:      result,
		SubmittedAt: now,
	})

	var completionTime time.Duration
	if result.IsFullyCorrect && session.roundStartTime != nil {
		completionTime = now.Sub(*session.roundStartTime)
		participant.CompletionTimes = append(participant.CompletionTimes, completionTime)
		var total time.Duration
		fastest := participant.CompletionTimes[0]
		for _, ct := range participant.CompletionTimes {
			total += ct
			if ct < fastest {
				fastest = ct
			}
		}
		participant.AverageTime = total / time.Duration(len(participant.CompletionTimes))
		participant.FastestTime = fastest
	}

	submission := domain.SubmissionResult{
		Result:           result,
		TotalAttempts:    participant.TotalAttempts,
		CorrectCount:     participant.CorrectCount,
		CompletionTimeMs: completionTime.Milliseconds(),
	}
	return submission, session.broadcastLocked(), nil
}

// UpdateTyping flips a participant between typing and waiting. Submission is
// terminal for the current phrase, so it is a no-op once submitted.
func (s *RoomService) UpdateTyping(_ context.Context, roomID, participantID string, isTyping bool) (domain.RoomSnapshot, error) {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	participant, ok := session.participants[participantID]
	if !ok {
		return domain.RoomSnapshot{}, domain.ErrParticipantNotFound
	}
	if participant.Status == domain.StatusSubmitted || session.phase == domain.PhaseCountingDown {
		return session.snapshotLocked(), nil
	}
	if isTyping {
		participant.Status = domain.StatusTyping
	} else {
		participant.Status = domain.StatusWaiting
	}
	return session.broadcastLocked(), nil
}

// ToggleVisibility flips whether participants see the reference text. Host only.
func (s *RoomService) ToggleVisibility(_ context.Context, roomID, callerID string, show bool) (domain.RoomSnapshot, error) {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if err := session.requireHostLocked(callerID); err != nil {
		return domain.RoomSnapshot{}, err
	}
	session.showPhrase = show
	return session.broadcastLocked(), nil
}

// RemoveParticipant deletes a participant's record entirely. Host only; the
// host cannot remove themselves.
func (s *RoomService) RemoveParticipant(_ context.Context, roomID, callerID, targetID string) (domain.RoomSnapshot, error) {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if err := session.requireHostLocked(callerID); err != nil {
		return domain.RoomSnapshot{}, err
	}
	if targetID == session.hostID {
		return domain.RoomSnapshot{}, domain.ErrForbidden
	}
	if _, ok := session.participants[targetID]; !ok {
		return domain.RoomSnapshot{}, domain.ErrParticipantNotFound
	}
	delete(session.participants, targetID)
	return session.broadcastLocked(), nil
}

// Leave removes a participant. When the host leaves the room is deactivated
// for everyone and dropped from the store; an emptied room is dropped too.
func (s *RoomService) Leave(_ context.Context, roomID, participantID string) {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return
	}

	session.mu.Lock()
	if participantID == session.hostID {
		session.isActive = false
		session.broadcastLocked()
		session.closeSubscribersLocked()
		session.mu.Unlock()
		s.rooms.Delete(roomID)
		return
	}
	delete(session.participants, participantID)
	session.broadcastLocked()
	empty := len(session.participants) == 0
	if empty {
		session.closeSubscribersLocked()
	}
	session.mu.Unlock()

	if empty {
		s.rooms.Delete(roomID)
	}
}

// Subscribe returns a channel that receives room snapshots, starting with the
// current state. The caller must invoke cancel to avoid leaks.
func (s *RoomService) Subscribe(_ context.Context, roomID string) (<-chan domain.RoomSnapshot, func(), error) {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return nil, nil, domain.ErrRoomNotFound
	}
	ch, cancel := session.subscribe()
	return ch, cancel, nil
}

// Snapshot returns the current room state without subscribing.
func (s *RoomService) Snapshot(_ context.Context, roomID string) (domain.RoomSnapshot, error) {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}
	session.mu.RLock()
	defer session.mu.RUnlock()
	return session.snapshotLocked(), nil
}

const roomCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// newRoomCode generates a short join code, retrying on the unlikely collision.
func (s *RoomService) newRoomCode() (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		buf := make([]byte, 6)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		for i, b := range buf {
			buf[i] = roomCodeAlphabet[int(b)%len(roomCodeAlphabet)]
		}
		code := string(buf)
		if _, exists := s.rooms.Get(code); !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("generate room code: exhausted attempts")
}

// RoomSession is the in-memory representation of one practice room.
type RoomSession struct {
	id          string
	hostID      string
	phraseSetID string
	createdAt   time.Time
	now         func() time.Time

	mu                 sync.RWMutex
	isActive           bool
	phase              domain.RoomPhase
	targetPhrase       string
	currentPhraseIndex int
	showPhrase         bool
	countdownStartedAt *time.Time
	roundStartTime     *time.Time
	generation         uint64
	participants       map[string]*domain.Participant
	subscribers        map[chan domain.RoomSnapshot]struct{}
}

// NewRoomSession is exported for infrastructure layers that need to seed sessions.
func NewRoomSession(id, hostID, phraseSetID string) *RoomSession {
	return newRoomSession(id, hostID, phraseSetID, time.Now)
}

func newRoomSession(id, hostID, phraseSetID string, now func() time.Time) *RoomSession {
	return &RoomSession{
		id:           id,
		hostID:       hostID,
		phraseSetID:  phraseSetID,
		createdAt:    now(),
		now:          now,
		isActive:     true,
		phase:        domain.PhaseIdle,
		participants: make(map[string]*domain.Participant),
		subscribers:  make(map[chan domain.RoomSnapshot]struct{}),
	}
}

// ID returns the room's join code.
func (r *RoomSession) ID() string {
	return r.id
}

// IsEmpty reports whether the session has no participants.
func (r *RoomSession) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants) == 0
}

func (r *RoomSession) requireHostLocked(callerID string) error {
	if !r.isActive {
		return domain.ErrRoomInactive
	}
	if callerID != r.hostID {
		return domain.ErrForbidden
	}
	return nil
}

func (r *RoomSession) addParticipantLocked(userID, nickname string) {
	if existing, ok := r.participants[userID]; ok {
		existing.Nickname = nickname
		existing.Status = domain.StatusWaiting
		existing.Submission = ""
		existing.Accuracy = nil
		existing.SubmittedAt = nil
		return
	}
	r.participants[userID] = &domain.Participant{
		ID:       userID,
		Nickname: nickname,
		JoinedAt: r.now(),
		Status:   domain.StatusWaiting,
	}
}

func (r *RoomSession) subscribe() (<-chan domain.RoomSnapshot, func()) {
	ch := make(chan domain.RoomSnapshot, 8)

	r.mu.Lock()
	r.subscribers[ch] = struct{}{}
	initial := r.snapshotLocked()
	r.mu.Unlock()

	ch <- initial

	cancel := func() {
		r.mu.Lock()
		if _, ok := r.subscribers[ch]; ok {
			delete(r.subscribers, ch)
			close(ch)
		}
		r.mu.Unlock()
	}
	return ch, cancel
}

func (r *RoomSession) closeSubscribersLocked() {
	for ch := range r.subscribers {
		delete(r.subscribers, ch)
		close(ch)
	}
}

func (r *RoomSession) broadcastLocked() domain.RoomSnapshot {
	snap := r.snapshotLocked()
	for ch := range r.subscribers {
		select {
		case ch <- snap:
		default:
			// Drop the oldest queued snapshot so a slow client never blocks
			// the broadcast; only the latest state matters to observers.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
	return snap
}

func (r *RoomSession) snapshotLocked() domain.RoomSnapshot {
	views := make([]domain.ParticipantView, 0, len(r.participants))
	stats := domain.RoomStats{}
	fullyCorrect := 0
	nonHostSubmitted := 0
	for _, p := range r.participants {
		switch p.Status {
		case domain.StatusWaiting:
			stats.WaitingCount++
		case domain.StatusTyping:
			stats.TypingCount++
		case domain.StatusSubmitted:
			stats.SubmittedCount++
			if p.Accuracy != nil && p.Accuracy.IsFullyCorrect {
				fullyCorrect++
			}
			if p.ID != r.hostID {
				nonHostSubmitted++
			}
		}
		views = append(views, domain.ParticipantView{
			ID:            p.ID,
			Nickname:      p.Nickname,
			IsHost:        p.ID == r.hostID,
			Status:        displayStatus(p),
			Submission:    p.Submission,
			Accuracy:      p.Accuracy,
			SubmittedAt:   p.SubmittedAt,
			CorrectCount:  p.CorrectCount,
			TotalAttempts: p.TotalAttempts,
			AverageTimeMs: p.AverageTime.Milliseconds(),
			FastestTimeMs: p.FastestTime.Milliseconds(),
		})
	}

	if nonHost := len(r.participants) - 1; nonHost > 0 {
		stats.CompletionPct = 100 * float64(nonHostSubmitted) / float64(nonHost)
	}
	if stats.SubmittedCount > 0 {
		stats.CorrectRate = 100 * float64(fullyCorrect) / float64(stats.SubmittedCount)
	}

	// Host first, then join order, then nickname for identical timestamps.
	sort.Slice(views, func(i, j int) bool {
		if views[i].IsHost != views[j].IsHost {
			return views[i].IsHost
		}
		pi := r.participants[views[i].ID]
		pj := r.participants[views[j].ID]
		if !pi.JoinedAt.Equal(pj.JoinedAt) {
			return pi.JoinedAt.Before(pj.JoinedAt)
		}
		return views[i].Nickname < views[j].Nickname
	})

	snap := domain.RoomSnapshot{
		RoomID:             r.id,
		HostID:             r.hostID,
		IsActive:           r.isActive,
		Phase:              r.phase,
		TargetPhrase:       r.targetPhrase,
		CurrentPhraseIndex: r.currentPhraseIndex,
		ShowPhrase:         r.showPhrase,
		CountdownStartedAt: r.countdownStartedAt,
		RoundStartTime:     r.roundStartTime,
		Participants:       views,
		Stats:              stats,
		UpdatedAt:          r.now(),
	}
	return snap
}

func displayStatus(p *domain.Participant) string {
	if p.Status == domain.StatusSubmitted && p.Accuracy != nil {
		if p.Accuracy.IsFullyCorrect {
			return "correct"
		}
		return "incorrect"
	}
	return string(p.Status)
}
