package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"wfd-room-service/internal/app"
	"wfd-room-service/internal/domain"
	"wfd-room-service/internal/infra/memory"
)

const testCountdown = 40 * time.Millisecond

func newTestService(countdown time.Duration) *app.RoomService {
	store := memory.NewRoomStore()
	phrases := memory.NewPhraseRepository(memory.NewStaticPhraseLoader(map[string]domain.PhraseSet{
		"set-1": {
			ID: "set-1",
			Phrases: []domain.Phrase{
				{Text: "The quick brown fox"},
				{Text: "She sells sea shells"},
				{Text: "A stitch in time saves nine"},
			},
		},
		"empty-set": {ID: "empty-set"},
	}), 5*time.Minute)
	return app.NewRoomServiceWithTiming(store, phrases, countdown, time.Now)
}

func createRoom(t *testing.T, service *app.RoomService) string {
	t.Helper()
	snap, err := service.CreateRoom(context.Background(), "host-1", "Host", "set-1")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return snap.RoomID
}

// assignAndOpen assigns a phrase and waits for the countdown to expire.
func assignAndOpen(t *testing.T, service *app.RoomService, roomID, phrase string) {
	t.Helper()
	if _, err := service.AssignPhrase(context.Background(), roomID, "host-1", phrase, 0); err != nil {
		t.Fatalf("assign phrase: %v", err)
	}
	waitForPhase(t, service, roomID, domain.PhaseOpen)
}

func waitForPhase(t *testing.T, service *app.RoomService, roomID string, phase domain.RoomPhase) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := service.Snapshot(context.Background(), roomID)
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if snap.Phase == phase {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room never reached phase %s", phase)
}

func findParticipant(t *testing.T, snap domain.RoomSnapshot, id string) domain.ParticipantView {
	t.Helper()
	for _, p := range snap.Participants {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("participant %s not in snapshot %+v", id, snap.Participants)
	return domain.ParticipantView{}
}

func TestCreateRoomRegistersHost(t *testing.T) {
	service := newTestService(testCountdown)
	snap, err := service.CreateRoom(context.Background(), "host-1", "Hannah", "set-1")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	if len(snap.RoomID) != 6 {
		t.Fatalf("expected 6-char room code, got %q", snap.RoomID)
	}
	if snap.Phase != domain.PhaseIdle {
		t.Fatalf("expected idle phase, got %s", snap.Phase)
	}
	if !snap.IsActive {
		t.Fatalf("expected active room")
	}
	host := findParticipant(t, snap, "host-1")
	if !host.IsHost || host.Nickname != "Hannah" || host.Status != "waiting" {
		t.Fatalf("unexpected host view: %+v", host)
	}
	if host.TotalAttempts != 0 || host.CorrectCount != 0 {
		t.Fatalf("expected zero counters, got %+v", host)
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	service := newTestService(testCountdown)
	if _, err := service.Join(context.Background(), "NOROOM", "u1", "Alice"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestRejoinKeepsCumulativeHistory(t *testing.T) {
	ctx := context.Background()
	service := newTestService(testCountdown)
	roomID := createRoom(t, service)

	if _, err := service.Join(ctx, roomID, "u1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	assignAndOpen(t, service, roomID, "The quick brown fox")
	if _, _, err := service.Submit(ctx, roomID, "u1", "the quick brown fox"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	snap, err := service.Join(ctx, roomID, "u1", "Alicia")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	p := findParticipant(t, snap, "u1")
	if p.Nickname != "Alicia" {
		t.Fatalf("expected refreshed nickname, got %q", p.Nickname)
	}
	if p.TotalAttempts != 1 || p.CorrectCount != 1 {
		t.Fatalf("expected cumulative counters preserved, got %+v", p)
	}
	if p.Status != "waiting" || p.Submission != "" {
		t.Fatalf("expected transient state reset on rejoin, got %+v", p)
	}
}

func TestAssignPhraseRequiresHost(t *testing.T) {
	ctx := context.Background()
	service := newTestService(testCountdown)
	roomID := createRoom(t, service)
	if _, err := service.Join(ctx, roomID, "u1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}

	if _, err := service.AssignPhrase(ctx, roomID, "u1", "anything", 0); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := service.ToggleVisibility(ctx, roomID, "u1", true); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := service.RemoveParticipant(ctx, roomID, "u1", "host-1"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCountdownLocksInputThenOpens(t *testing.T) {
	ctx := context.Background()
	service := newTestService(testCountdown)
	roomID := createRoom(t, service)
	if _, err := service.Join(ctx, roomID, "u1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}

	snap, err := service.AssignPhrase(ctx, roomID, "host-1", "The quick brown fox", 0)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if snap.Phase != domain.PhaseCountingDown || snap.CountdownStartedAt == nil {
		t.Fatalf("expected counting down, got %+v", snap)
	}
	if snap.RoundStartTime != nil {
		t.Fatalf("round start must be unset during countdown")
	}

	// Bypassing client-side gating must not work while locked.
	if _, _, err := service.Submit(ctx, roomID, "u1", "the quick brown fox"); !errors.Is(err, domain.ErrInputLocked) {
		t.Fatalf("expected ErrInputLocked, got %v", err)
	}

	waitForPhase(t, service, roomID, domain.PhaseOpen)
	opened, err := service.Snapshot(ctx, roomID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if opened.RoundStartTime == nil {
		t.Fatalf("expected round start stamped on open")
	}
	if _, _, err := service.Submit(ctx, roomID, "u1", "the quick brown fox"); err != nil {
		t.Fatalf("submit after unlock: %v", err)
	}
}

func TestNewAssignmentInvalidatesStaleCountdown(t *testing.T) {
	ctx := context.Background()
	service := newTestService(100 * time.Millisecond)
	roomID := createRoom(t, service)

	if _, err := service.AssignPhrase(ctx, roomID, "host-1", "first phrase", 0); err != nil {
		t.Fatalf("assign first: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := service.AssignPhrase(ctx, roomID, "host-1", "second phrase", 1); err != nil {
		t.Fatalf("assign second: %v", err)
	}

	// The first assignment's timer fires around t=100ms; the second round is
	// still counting down until t=150ms and must stay locked.
	time.Sleep(70 * time.Millisecond)
	snap, err := service.Snapshot(ctx, roomID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Phase != domain.PhaseCountingDown {
		t.Fatalf("stale timer reopened the room: phase=%s", snap.Phase)
	}

	waitForPhase(t, service, roomID, domain.PhaseOpen)
}

func TestSubmitWithoutPhrase(t *testing.T) {
	ctx := context.Background()
	service := newTestService(testCountdown)
	roomID := createRoom(t, service)
	if _, err := service.Join(ctx, roomID, "u1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}

	if _, _, err := service.Submit(ctx, roomID, "u1", "anything"); !errors.Is(err, domain.ErrNoPhrase) {
		t.Fatalf("expected ErrNoPhrase, got %v", err)
	}
	if _, _, err := service.Submit(ctx, roomID, "ghost", "anything"); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected ErrParticipantNotFound, got %v", err)
	}
}

func TestSubmitUpdatesCountersAndHistory(t *testing.T) {
	ctx := context.Background()
	service := newTestService(testCountdown)
	roomID := createRoom(t, service)
	if _, err := service.Join(ctx, roomID, "u1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	assignAndOpen(t, service, roomID, "The quick brown fox")

	result, snap, err := service.Submit(ctx, roomID, "u1", "the quick fox")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Result.IsFullyCorrect {
		t.Fatalf("expected partial result, got %+v", result)
	}
	if result.TotalAttempts != 1 || result.CorrectCount != 0 {
		t.Fatalf("unexpected counters: %+v", result)
	}
	p := findParticipant(t, snap, "u1")
	if p.Status != "incorrect" {
		t.Fatalf("expected derived incorrect status, got %q", p.Status)
	}

	// Resubmission against the same open phrase is an independent attempt.
	time.Sleep(2 * time.Millisecond)
	result, snap, err = service.Submit(ctx, roomID, "u1", "the quick brown fox")
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if !result.Result.IsFullyCorrect {
		t.Fatalf("expected fully correct, got %+v", result.Result)
	}
	if result.TotalAttempts != 2 || result.CorrectCount != 1 {
		t.Fatalf("unexpected counters after resubmit: %+v", result)
	}
	if result.CompletionTimeMs <= 0 {
		t.Fatalf("expected positive completion time, got %d", result.CompletionTimeMs)
	}
	p = findParticipant(t, snap, "u1")
	if p.Status != "correct" {
		t.Fatalf("expected derived correct status, got %q", p.Status)
	}
	if p.FastestTimeMs <= 0 || p.AverageTimeMs <= 0 {
		t.Fatalf("expected completion stats, got %+v", p)
	}
}

func TestRepeatedCorrectSubmissionsCountEachTime(t *testing.T) {
	ctx := context.Background()
	service := newTestService(testCountdown)
	roomID := createRoom(t, service)
	if _, err := service.Join(ctx, roomID, "u1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	assignAndOpen(t, service, roomID, "hello world")

	time.Sleep(2 * time.Millisecond)
	first, _, err := service.Submit(ctx, roomID, "u1", "hello world")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, _, err := service.Submit(ctx, roomID, "u1", "hello world")
	if err != nil {
		t.Fatalf("submit again: %v", err)
	}
	if second.TotalAttempts != 2 || second.CorrectCount != 2 {
		t.Fatalf("expected both attempts counted, got %+v", second)
	}
	if first.CompletionTimeMs <= 0 || second.CompletionTimeMs <= 0 {
		t.Fatalf("expected a completion time recorded per correct attempt")
	}
}

func TestAssignPhraseResetsTransientFieldsOnly(t *testing.T) {
	ctx := context.Background()
	service := newTestService(testCountdown)
	roomID := createRoom(t, service)
	if _, err := service.Join(ctx, roomID, "u1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	assignAndOpen(t, service, roomID, "The quick brown fox")
	if _, _, err := service.Submit(ctx, roomID, "u1", "wrong words entirely"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	snap, err := service.AssignPhrase(ctx, roomID, "host-1", "She sells sea shells", 1)
	if err != nil {
		t.Fatalf("assign next: %v", err)
	}
	p := findParticipant(t, snap, "u1")
	if p.Status != "waiting" || p.Submission != "" || p.Accuracy != nil || p.SubmittedAt != nil {
		t.Fatalf("expected transient fields cleared, got %+v", p)
	}
	if p.TotalAttempts != 1 {
		t.Fatalf("cumulative counters must survive phrase transition, got %+v", p)
	}
	if snap.TargetPhrase != "She sells sea shells" || snap.CurrentPhraseIndex != 1 {
		t.Fatalf("unexpected room state: %+v", snap)
	}
}

func TestTypingStatusTransitions(t *testing.T) {
	ctx := context.Background()
	service := newTestService(testCountdown)
	roomID := createRoom(t, service)
	if _, err := service.Join(ctx, roomID, "u1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	assignAndOpen(t, service, roomID, "hello world")

	snap, err := service.UpdateTyping(ctx, roomID, "u1", true)
	if err != nil {
		t.Fatalf("typing: %v", err)
	}
	if findParticipant(t, snap, "u1").Status != "typing" {
		t.Fatalf("expected typing status")
	}

	snap, err = service.UpdateTyping(ctx, roomID, "u1", false)
	if err != nil {
		t.Fatalf("typing off: %v", err)
	}
	if findParticipant(t, snap, "u1").Status != "waiting" {
		t.Fatalf("expected waiting status")
	}

	if _, _, err := service.Submit(ctx, roomID, "u1", "hello world"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// Submission is terminal for the current phrase.
	snap, err = service.UpdateTyping(ctx, roomID, "u1", true)
	if err != nil {
		t.Fatalf("typing after submit: %v", err)
	}
	if findParticipant(t, snap, "u1").Status != "correct" {
		t.Fatalf("typing after submit must be a no-op, got %q", findParticipant(t, snap, "u1").Status)
	}
}

func TestToggleVisibility(t *testing.T) {
	ctx := context.Background()
	service := newTestService(testCountdown)
	roomID := createRoom(t, service)

	snap, err := service.ToggleVisibility(ctx, roomID, "host-1", true)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !snap.ShowPhrase {
		t.Fatalf("expected phrase visible")
	}
	snap, err = service.ToggleVisibility(ctx, roomID, "host-1", false)
	if err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if snap.ShowPhrase {
		t.Fatalf("expected phrase hidden")
	}
}

func TestRemoveParticipant(t *testing.T) {
	ctx := context.Background()
	service := newTestService(testCountdown)
	roomID := createRoom(t, service)
	if _, err := service.Join(ctx, roomID, "u1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}

	if _, err := service.RemoveParticipant(ctx, roomID, "host-1", "host-1"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("host self-removal must be forbidden, got %v", err)
	}
	if _, err := service.RemoveParticipant(ctx, roomID, "host-1", "ghost"); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected ErrParticipantNotFound, got %v", err)
	}

	snap, err := service.RemoveParticipant(ctx, roomID, "host-1", "u1")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(snap.Participants) != 1 {
		t.Fatalf("expected only host left, got %+v", snap.Participants)
	}
}

func TestHostLeaveEndsRoomForEveryone(t *testing.T) {
	ctx := context.Background()
	service := newTestService(testCountdown)
	roomID := createRoom(t, service)
	if _, err := service.Join(ctx, roomID, "u1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}

	updates, cancel, err := service.Subscribe(ctx, roomID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	<-updates // initial snapshot

	service.Leave(ctx, roomID, "host-1")

	// Subscribers observe the terminal state before their channels close.
	final, ok := <-updates
	if !ok {
		t.Fatalf("expected terminal snapshot before close")
	}
	if final.IsActive {
		t.Fatalf("expected inactive room in terminal snapshot")
	}
	if _, ok := <-updates; ok {
		t.Fatalf("expected channel closed after terminal snapshot")
	}

	if _, err := service.Join(ctx, roomID, "u2", "Bob"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected room gone after host leave, got %v", err)
	}
}

func TestNonHostLeaveKeepsRoom(t *testing.T) {
	ctx := context.Background()
	service := newTestService(testCountdown)
	roomID := createRoom(t, service)
	if _, err := service.Join(ctx, roomID, "u1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}

	service.Leave(ctx, roomID, "u1")

	snap, err := service.Snapshot(ctx, roomID)
	if err != nil {
		t.Fatalf("room must survive non-host leave: %v", err)
	}
	if len(snap.Participants) != 1 || !snap.IsActive {
		t.Fatalf("unexpected state after leave: %+v", snap)
	}
}

func TestNextPhraseCyclesAndWraps(t *testing.T) {
	ctx := context.Background()
	service := newTestService(testCountdown)
	roomID := createRoom(t, service)

	want := []struct {
		index  int
		phrase string
	}{
		{0, "The quick brown fox"},
		{1, "She sells sea shells"},
		{2, "A stitch in time saves nine"},
		{0, "The quick brown fox"},
	}
	for _, step := range want {
		snap, err := service.NextPhrase(ctx, roomID, "host-1")
		if err != nil {
			t.Fatalf("next phrase: %v", err)
		}
		if snap.CurrentPhraseIndex != step.index || snap.TargetPhrase != step.phrase {
			t.Fatalf("expected %d/%q, got %d/%q", step.index, step.phrase, snap.CurrentPhraseIndex, snap.TargetPhrase)
		}
	}
}

func TestNextPhraseEmptyList(t *testing.T) {
	ctx := context.Background()
	service := newTestService(testCountdown)
	snap, err := service.CreateRoom(ctx, "host-1", "Host", "empty-set")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := service.NextPhrase(ctx, snap.RoomID, "host-1"); !errors.Is(err, domain.ErrEmptyPhraseList) {
		t.Fatalf("expected ErrEmptyPhraseList, got %v", err)
	}
}

func TestAggregateStats(t *testing.T) {
	ctx := context.Background()
	service := newTestService(testCountdown)
	roomID := createRoom(t, service)
	if _, err := service.Join(ctx, roomID, "u1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := service.Join(ctx, roomID, "u2", "Bob"); err != nil {
		t.Fatalf("join: %v", err)
	}
	assignAndOpen(t, service, roomID, "The quick brown fox")

	if _, _, err := service.Submit(ctx, roomID, "u1", "the quick brown fox"); err != nil {
		t.Fatalf("submit u1: %v", err)
	}
	_, snap, err := service.Submit(ctx, roomID, "u2", "completely different words")
	if err != nil {
		t.Fatalf("submit u2: %v", err)
	}

	if snap.Stats.SubmittedCount != 2 {
		t.Fatalf("expected 2 submitted, got %d", snap.Stats.SubmittedCount)
	}
	if snap.Stats.CorrectRate != 50 {
		t.Fatalf("expected 50%% correct rate, got %v", snap.Stats.CorrectRate)
	}
	if snap.Stats.CompletionPct != 100 {
		t.Fatalf("expected 100%% completion excluding host, got %v", snap.Stats.CompletionPct)
	}
	if snap.Stats.WaitingCount != 1 {
		t.Fatalf("expected host still waiting, got %+v", snap.Stats)
	}
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	ctx := context.Background()
	service := newTestService(testCountdown)
	roomID := createRoom(t, service)

	updates, cancel, err := service.Subscribe(ctx, roomID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	initial := <-updates
	if initial.RoomID != roomID {
		t.Fatalf("unexpected initial snapshot: %+v", initial)
	}

	if _, err := service.Join(ctx, roomID, "u1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	update := <-updates
	if len(update.Participants) != 2 {
		t.Fatalf("expected join broadcast with 2 participants, got %+v", update.Participants)
	}
}
