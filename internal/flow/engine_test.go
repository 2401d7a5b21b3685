package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/FlowDeckHQ/FlowDeck/internal/genai"
	"github.com/FlowDeckHQ/FlowDeck/internal/models"
	"github.com/FlowDeckHQ/FlowDeck/internal/store"
)

// fakeAIProvider returns a canned result or error for every call.
type fakeAIProvider struct {
	result *models.AIResult
	err    error
	calls  int
}

func (f *fakeAIProvider) Generate(ctx context.Context, req genai.Request) (*models.AIResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newTestFlow(t *testing.T, st store.Store, steps []models.Step) {
	t.Helper()
	if err := st.SaveFlow(models.Flow{ID: "f1", Name: "onboarding", Active: true}); err != nil {
		t.Fatalf("SaveFlow: %v", err)
	}
	for i := range steps {
		steps[i].FlowID = "f1"
		steps[i].Order = i
	}
	if err := st.SaveSteps("f1", steps); err != nil {
		t.Fatalf("SaveSteps: %v", err)
	}
}

func TestStartCoalescesUntilSuspend(t *testing.T) {
	st := store.NewInMemoryStore()
	newTestFlow(t, st, []models.Step{
		{Kind: models.StepKindText, Body: "Bem-vindo!"},
		{Kind: models.StepKindText, Body: "Vamos começar.", DelayMs: 800},
		{Kind: models.StepKindButtons, Body: "Pronto?", Choices: []models.Choice{{Label: "Sim", Value: "yes"}}},
	})
	engine := NewEngine(st)

	result, err := engine.Start(context.Background(), models.FlowStartRequest{FlowID: "f1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(result.Updates) != 3 {
		t.Fatalf("got %d updates, want 3", len(result.Updates))
	}
	if result.Updates[0].Suspended || result.Updates[1].Suspended {
		t.Error("text updates must not be suspended")
	}
	if result.Updates[1].DelayMs != 800 {
		t.Errorf("DelayMs not forwarded: got %d", result.Updates[1].DelayMs)
	}
	if !result.Updates[2].Suspended {
		t.Error("button step must suspend")
	}
	if result.Session.Cursor != 2 {
		t.Errorf("cursor = %d, want 2", result.Session.Cursor)
	}
	if result.Session.Status != models.SessionStatusRunning {
		t.Errorf("status = %q, want running", result.Session.Status)
	}
	if result.Session.TimeoutJobID == "" {
		t.Error("suspension must schedule a timeout job")
	}

	// Both text steps are recorded; the unanswered button step is not.
	interactions, err := st.GetInteractions("s1")
	if err != nil {
		t.Fatalf("GetInteractions: %v", err)
	}
	if len(interactions) != 2 {
		t.Fatalf("got %d interactions, want 2", len(interactions))
	}
	for i, in := range interactions {
		if in.StepKind != models.StepKindText {
			t.Errorf("interaction %d kind = %q, want text", i, in.StepKind)
		}
	}
}

func TestStartIdempotent(t *testing.T) {
	st := store.NewInMemoryStore()
	newTestFlow(t, st, []models.Step{
		{Kind: models.StepKindButtons, Body: "Pronto?", Choices: []models.Choice{{Label: "Sim", Value: "yes"}}},
	})
	engine := NewEngine(st)

	first, err := engine.Start(context.Background(), models.FlowStartRequest{FlowID: "f1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	second, err := engine.Start(context.Background(), models.FlowStartRequest{FlowID: "f1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("duplicate Start: %v", err)
	}
	if len(second.Updates) != 0 {
		t.Errorf("duplicate start produced %d updates, want 0", len(second.Updates))
	}
	if second.Session.Cursor != first.Session.Cursor {
		t.Errorf("duplicate start moved cursor: %d != %d", second.Session.Cursor, first.Session.Cursor)
	}
}

func TestStartFlowGates(t *testing.T) {
	st := store.NewInMemoryStore()
	engine := NewEngine(st)

	_, err := engine.Start(context.Background(), models.FlowStartRequest{FlowID: "missing", SessionID: "s1"})
	if !errors.Is(err, models.ErrFlowNotFound) {
		t.Errorf("unknown flow: got %v, want ErrFlowNotFound", err)
	}

	if err := st.SaveFlow(models.Flow{ID: "f2", Active: false}); err != nil {
		t.Fatalf("SaveFlow: %v", err)
	}
	_, err = engine.Start(context.Background(), models.FlowStartRequest{FlowID: "f2", SessionID: "s2"})
	if !errors.Is(err, models.ErrFlowInactive) {
		t.Errorf("inactive flow: got %v, want ErrFlowInactive", err)
	}
}

func TestHandleEventAdvancesAndCompletes(t *testing.T) {
	st := store.NewInMemoryStore()
	newTestFlow(t, st, []models.Step{
		{Kind: models.StepKindButtons, Body: "Pronto?", VariableName: "ready",
			Choices: []models.Choice{{Label: "Sim", Value: "yes"}}},
		{Kind: models.StepKindText, Body: "Você escolheu {ready}."},
	})
	engine := NewEngine(st)

	if _, err := engine.Start(context.Background(), models.FlowStartRequest{FlowID: "f1", SessionID: "s1"}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	result, err := engine.HandleEvent(context.Background(), models.FlowEventRequest{
		SessionID: "s1", StepIndex: 0, Kind: models.EventKindButton, Payload: "yes",
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if result.Session.Status != models.SessionStatusCompleted {
		t.Errorf("status = %q, want completed", result.Session.Status)
	}
	if result.Session.CompletedAt == nil {
		t.Error("CompletedAt not stamped")
	}
	if len(result.Updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(result.Updates))
	}
	if result.Updates[0].Body != "Você escolheu yes." {
		t.Errorf("variable substitution failed: %q", result.Updates[0].Body)
	}
	if v := result.Session.Context["step-0-button"]; v != "yes" {
		t.Errorf("positional key = %q, want yes", v)
	}
	if v := result.Session.Context["ready"]; v != "yes" {
		t.Errorf("declared variable = %q, want yes", v)
	}

	interactions, err := st.GetInteractions("s1")
	if err != nil {
		t.Fatalf("GetInteractions: %v", err)
	}
	if len(interactions) != 2 {
		t.Fatalf("got %d interactions, want 2", len(interactions))
	}
	if interactions[0].Payload != "yes" {
		t.Errorf("button interaction payload = %q, want yes", interactions[0].Payload)
	}
	if interactions[1].Payload != "Você escolheu yes." {
		t.Errorf("text interaction payload = %q", interactions[1].Payload)
	}
}

func TestStaleEventDiscarded(t *testing.T) {
	st := store.NewInMemoryStore()
	newTestFlow(t, st, []models.Step{
		{Kind: models.StepKindText, Body: "oi"},
		{Kind: models.StepKindButtons, Body: "Pronto?", Choices: []models.Choice{{Label: "Sim", Value: "yes"}}},
	})
	engine := NewEngine(st)

	if _, err := engine.Start(context.Background(), models.FlowStartRequest{FlowID: "f1", SessionID: "s1"}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Event for an already-passed step index.
	result, err := engine.HandleEvent(context.Background(), models.FlowEventRequest{
		SessionID: "s1", StepIndex: 0, Kind: models.EventKindButton, Payload: "yes",
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(result.Updates) != 0 {
		t.Errorf("stale event produced %d updates, want 0", len(result.Updates))
	}
	if result.Session.Cursor != 1 {
		t.Errorf("stale event moved cursor to %d", result.Session.Cursor)
	}

	// Only the initial text step is recorded; the stale event adds nothing.
	interactions, _ := st.GetInteractions("s1")
	if len(interactions) != 1 {
		t.Errorf("got %d interactions, want 1", len(interactions))
	}
}

func TestTimeoutAbandonsSession(t *testing.T) {
	st := store.NewInMemoryStore()
	newTestFlow(t, st, []models.Step{
		{Kind: models.StepKindInput, Body: "Seu nome?", TimeoutSeconds: 60},
	})
	engine := NewEngine(st)

	result, err := engine.Start(context.Background(), models.FlowStartRequest{FlowID: "f1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := engine.ExpireSession(context.Background(), "s1", result.Session.Cursor); err != nil {
		t.Fatalf("ExpireSession: %v", err)
	}
	sess, _ := st.GetSession("s1")
	if sess.Status != models.SessionStatusAbandoned {
		t.Fatalf("status = %q, want abandoned", sess.Status)
	}

	// A late event against the abandoned session is a no-op.
	late, err := engine.HandleEvent(context.Background(), models.FlowEventRequest{
		SessionID: "s1", StepIndex: 0, Kind: models.EventKindInput, Payload: "Ana",
	})
	if err != nil {
		t.Fatalf("HandleEvent after abandon: %v", err)
	}
	if len(late.Updates) != 0 {
		t.Error("late event produced updates after abandonment")
	}
	if late.Session.Status != models.SessionStatusAbandoned {
		t.Errorf("late event changed status to %q", late.Session.Status)
	}
}

func TestExpireSessionIdempotent(t *testing.T) {
	st := store.NewInMemoryStore()
	newTestFlow(t, st, []models.Step{
		{Kind: models.StepKindInput, Body: "Seu nome?"},
		{Kind: models.StepKindText, Body: "Obrigado, {step-0-input}!"},
	})
	engine := NewEngine(st)

	if _, err := engine.Start(context.Background(), models.FlowStartRequest{FlowID: "f1", SessionID: "s1"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	result, err := engine.HandleEvent(context.Background(), models.FlowEventRequest{
		SessionID: "s1", StepIndex: 0, Kind: models.EventKindInput, Payload: "Ana",
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if result.Session.Status != models.SessionStatusCompleted {
		t.Fatalf("status = %q, want completed", result.Session.Status)
	}

	// The timeout fires late, after the session already resumed.
	if err := engine.ExpireSession(context.Background(), "s1", 0); err != nil {
		t.Fatalf("late ExpireSession: %v", err)
	}
	sess, _ := st.GetSession("s1")
	if sess.Status != models.SessionStatusCompleted {
		t.Errorf("late timeout changed status to %q", sess.Status)
	}
}

func TestTimeoutJobFlowsThroughRunner(t *testing.T) {
	st := store.NewInMemoryStore()
	newTestFlow(t, st, []models.Step{
		{Kind: models.StepKindInput, Body: "Seu nome?", TimeoutSeconds: 1},
	})
	engine := NewEngine(st)

	if _, err := engine.Start(context.Background(), models.FlowStartRequest{FlowID: "f1", SessionID: "s1"}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	runner := store.NewJobRunner(st, time.Second)
	RegisterJobHandlers(runner, engine)

	// Drive the runner once after the job's run time.
	time.Sleep(1100 * time.Millisecond)
	runner.Poll(context.Background())

	sess, _ := st.GetSession("s1")
	if sess.Status != models.SessionStatusAbandoned {
		t.Errorf("status = %q, want abandoned after timeout job", sess.Status)
	}
}

func TestContactDataPropagation(t *testing.T) {
	st := store.NewInMemoryStore()
	newTestFlow(t, st, []models.Step{
		{Kind: models.StepKindInput, Body: "Seu email?", VariableName: "email", IsContactData: true},
	})
	engine := NewEngine(st)

	if _, err := engine.Start(context.Background(), models.FlowStartRequest{FlowID: "f1", SessionID: "s1"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	result, err := engine.HandleEvent(context.Background(), models.FlowEventRequest{
		SessionID: "s1", StepIndex: 0, Kind: models.EventKindInput, Payload: "ana@example.com",
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if v := result.Session.ContactData["email"]; v != "ana@example.com" {
		t.Errorf("contact data = %q, want ana@example.com", v)
	}
}

func TestAIStepFallbackOnProviderError(t *testing.T) {
	st := store.NewInMemoryStore()
	newTestFlow(t, st, []models.Step{
		{Kind: models.StepKindAI, AIPrompt: "Cumprimente {name}", AIOutputType: models.AIOutputButtons},
	})
	provider := &fakeAIProvider{err: errors.New("rate limited")}
	engine := NewEngine(st, WithAIProvider(provider))

	result, err := engine.Start(context.Background(), models.FlowStartRequest{FlowID: "f1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(result.Updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(result.Updates))
	}
	update := result.Updates[0]
	if !update.Suspended {
		t.Error("buttons fallback must still suspend")
	}
	if len(update.Choices) != 1 || update.Choices[0].Label != models.FallbackButtonLabel {
		t.Errorf("fallback choices = %+v", update.Choices)
	}
}

func TestAIStepTextAdvances(t *testing.T) {
	st := store.NewInMemoryStore()
	newTestFlow(t, st, []models.Step{
		{Kind: models.StepKindAI, AIPrompt: "Cumprimente", AIOutputType: models.AIOutputText},
		{Kind: models.StepKindText, Body: "fim"},
	})
	provider := &fakeAIProvider{result: &models.AIResult{Type: models.AIOutputText, Content: "Olá!"}}
	engine := NewEngine(st, WithAIProvider(provider))

	result, err := engine.Start(context.Background(), models.FlowStartRequest{FlowID: "f1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(result.Updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(result.Updates))
	}
	if result.Session.Status != models.SessionStatusCompleted {
		t.Errorf("status = %q, want completed", result.Session.Status)
	}
	if v := result.Session.Context["step-0-ai"]; v != "Olá!" {
		t.Errorf("AI positional key = %q, want Olá!", v)
	}
}

func TestResumeCancelsTimeoutJob(t *testing.T) {
	st := store.NewInMemoryStore()
	newTestFlow(t, st, []models.Step{
		{Kind: models.StepKindInput, Body: "Seu nome?"},
	})
	engine := NewEngine(st)

	started, err := engine.Start(context.Background(), models.FlowStartRequest{FlowID: "f1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	jobID := started.Session.TimeoutJobID
	if jobID == "" {
		t.Fatal("no timeout job scheduled")
	}

	if _, err := engine.HandleEvent(context.Background(), models.FlowEventRequest{
		SessionID: "s1", StepIndex: 0, Kind: models.EventKindInput, Payload: "Ana",
	}); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	job, err := st.GetJob(jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != store.JobStatusCanceled {
		t.Errorf("timeout job status = %q, want canceled", job.Status)
	}
}
