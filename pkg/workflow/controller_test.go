package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overcast-dev/research_panel/pkg/model"
)

// fakeGenerator produces a fresh panel per call so regeneration is observable
// through the analyst IDs.
type fakeGenerator struct {
	mu        sync.Mutex
	feedbacks []string
	err       error
}

func (g *fakeGenerator) Generate(_ context.Context, _ string, maxAnalysts int, feedback string) ([]model.Analyst, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.feedbacks = append(g.feedbacks, feedback)
	if g.err != nil {
		return nil, g.err
	}
	gen := len(g.feedbacks)
	analysts := make([]model.Analyst, maxAnalysts)
	for i := range analysts {
		analysts[i] = model.Analyst{
			ID:          uuid.New().String(),
			Name:        fmt.Sprintf("Analyst %d.%d", gen, i+1),
			Role:        fmt.Sprintf("Role %d", i+1),
			Affiliation: "Institute",
			Description: "Focus area.",
		}
	}
	return analysts, nil
}

// fakeEngine returns completed interviews, optionally failing or delaying
// per analyst, and blocks on the run context when told to.
type fakeEngine struct {
	mu         sync.Mutex
	ran        []string
	failFor    map[string]bool
	delayFor   map[string]time.Duration
	started    chan struct{}
	release    chan struct{}
	waitCancel bool
}

func (e *fakeEngine) Run(ctx context.Context, analyst model.Analyst, topic string, maxTurns int) (model.Interview, error) {
	e.mu.Lock()
	e.ran = append(e.ran, analyst.ID)
	fail := e.failFor[analyst.ID]
	delay := e.delayFor[analyst.ID]
	e.mu.Unlock()

	if e.started != nil {
		e.started <- struct{}{}
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if e.release != nil {
		<-e.release
	}
	if e.waitCancel {
		<-ctx.Done()
	}

	iv := model.Interview{
		ID:        uuid.New().String(),
		AnalystID: analyst.ID,
		Topic:     topic,
		TurnCount: maxTurns,
		MaxTurns:  maxTurns,
		Messages: []model.Message{
			{Role: model.RoleAnalyst, Content: "Question?", Sequence: 1},
			{Role: model.RoleExpert, Content: "Answer.", Sequence: 2},
		},
	}
	if fail || ctx.Err() != nil {
		iv.Status = model.InterviewFailed
		if ctx.Err() != nil {
			return iv, ctx.Err()
		}
		return iv, fmt.Errorf("interview with %s failed", analyst.Name)
	}
	iv.Status = model.InterviewCompleted
	return iv, nil
}

func (e *fakeEngine) runCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.ran)
}

// fakeCompiler mirrors the real compiler's ordering and omission rules without
// a language model behind it.
type fakeCompiler struct{}

func (fakeCompiler) Compile(_ context.Context, topic string, analysts []model.Analyst, interviews []model.Interview) (model.Report, error) {
	byAnalyst := make(map[string]model.Interview, len(interviews))
	for _, iv := range interviews {
		byAnalyst[iv.AnalystID] = iv
	}

	rep := model.Report{Topic: topic, CompiledAt: time.Now().UTC()}
	for _, a := range analysts {
		iv, ok := byAnalyst[a.ID]
		if !ok || (iv.Status != model.InterviewCompleted && iv.Status != model.InterviewFailed) {
			return model.Report{}, &model.CompilationError{AnalystID: a.ID, Status: iv.Status}
		}
		if iv.Status == model.InterviewFailed {
			rep.Omissions = append(rep.Omissions, fmt.Sprintf("interview with %s failed and was omitted", a.Name))
			continue
		}
		rep.Sections = append(rep.Sections, model.ReportSection{
			AnalystID: a.ID,
			Heading:   a.Role,
			Body:      "Section body.",
		})
	}
	return rep, nil
}

type recordingObserver struct {
	mu        sync.Mutex
	started   int
	generated int
	completed int
	failed    int
	compiled  int
}

func (o *recordingObserver) RunStarted(string, string) {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *recordingObserver) AnalystsGenerated(string, []model.Analyst) {
	o.mu.Lock()
	o.generated++
	o.mu.Unlock()
}

func (o *recordingObserver) InterviewCompleted(string, model.Interview) {
	o.mu.Lock()
	o.completed++
	o.mu.Unlock()
}

func (o *recordingObserver) InterviewFailed(string, model.Interview, error) {
	o.mu.Lock()
	o.failed++
	o.mu.Unlock()
}

func (o *recordingObserver) ReportCompiled(string, model.Report) {
	o.mu.Lock()
	o.compiled++
	o.mu.Unlock()
}

func newTestController(gen *fakeGenerator, eng *fakeEngine, opts ...Option) (*Controller, *MemoryStore) {
	store := NewMemoryStore()
	return NewController(gen, eng, fakeCompiler{}, store, opts...), store
}

func TestStartRunSuspendsForApproval(t *testing.T) {
	gen := &fakeGenerator{}
	ctrl, store := newTestController(gen, &fakeEngine{})

	st, err := ctrl.StartRun(context.Background(), "AI in healthcare", 3, 2)
	require.NoError(t, err)

	assert.Equal(t, PhaseAwaitingFeedback, st.Phase)
	assert.Len(t, st.Analysts, 3)
	assert.Equal(t, []string{""}, gen.feedbacks)

	stored, err := store.Load(context.Background(), st.RunID)
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingFeedback, stored.Phase)
	assert.Len(t, stored.Analysts, 3)
}

func TestStartRunGenerationFailureLeavesNothing(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("model unavailable")}
	ctrl, _ := newTestController(gen, &fakeEngine{})

	st, err := ctrl.StartRun(context.Background(), "AI in healthcare", 3, 2)
	require.Error(t, err)
	assert.Nil(t, st)
}

func TestSubmitFeedbackRegeneratesWholePanel(t *testing.T) {
	gen := &fakeGenerator{}
	ctrl, _ := newTestController(gen, &fakeEngine{})

	st, err := ctrl.StartRun(context.Background(), "AI in healthcare", 3, 2)
	require.NoError(t, err)
	initial := make(map[string]bool, len(st.Analysts))
	for _, a := range st.Analysts {
		initial[a.ID] = true
	}

	st2, err := ctrl.SubmitFeedback(context.Background(), st.RunID, "add an ethicist")
	require.NoError(t, err)

	assert.Equal(t, PhaseAwaitingFeedback, st2.Phase)
	require.Len(t, st2.Analysts, 3)
	for _, a := range st2.Analysts {
		assert.False(t, initial[a.ID], "feedback must discard the previous panel entirely")
	}
	assert.Equal(t, []string{"", "add an ethicist"}, gen.feedbacks)
}

func TestSubmitBlankFeedbackApproves(t *testing.T) {
	gen := &fakeGenerator{}
	eng := &fakeEngine{}
	ctrl, _ := newTestController(gen, eng)

	st, err := ctrl.StartRun(context.Background(), "AI in healthcare", 3, 2)
	require.NoError(t, err)

	st2, err := ctrl.SubmitFeedback(context.Background(), st.RunID, "   \n\t")
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, st2.Phase)
	require.NotNil(t, st2.Report)
	assert.Len(t, st2.Report.Sections, 3)
	assert.Equal(t, 3, eng.runCount())
	assert.Equal(t, []string{""}, gen.feedbacks, "blank feedback must not regenerate")
}

func TestApproveCompilesSectionsInDispatchOrder(t *testing.T) {
	gen := &fakeGenerator{}
	eng := &fakeEngine{delayFor: map[string]time.Duration{}}
	ctrl, _ := newTestController(gen, eng, WithMaxParallel(3))

	st, err := ctrl.StartRun(context.Background(), "AI in healthcare", 3, 2)
	require.NoError(t, err)

	// First-dispatched analyst finishes last.
	for i, a := range st.Analysts {
		eng.delayFor[a.ID] = time.Duration(len(st.Analysts)-i) * 30 * time.Millisecond
	}

	done, err := ctrl.Approve(context.Background(), st.RunID)
	require.NoError(t, err)

	require.NotNil(t, done.Report)
	require.Len(t, done.Report.Sections, 3)
	for i, a := range st.Analysts {
		assert.Equal(t, a.ID, done.Report.Sections[i].AnalystID)
	}
}

func TestApproveIsIdempotentWhenDone(t *testing.T) {
	gen := &fakeGenerator{}
	eng := &fakeEngine{}
	ctrl, _ := newTestController(gen, eng)

	st, err := ctrl.StartRun(context.Background(), "AI in healthcare", 3, 2)
	require.NoError(t, err)

	first, err := ctrl.Approve(context.Background(), st.RunID)
	require.NoError(t, err)
	runsAfterFirst := eng.runCount()

	second, err := ctrl.Approve(context.Background(), st.RunID)
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, second.Phase)
	assert.True(t, first.Report.CompiledAt.Equal(second.Report.CompiledAt))
	assert.Equal(t, runsAfterFirst, eng.runCount(), "approval of a done run must not repeat work")
}

func TestFailedInterviewDoesNotAbortSiblings(t *testing.T) {
	gen := &fakeGenerator{}
	eng := &fakeEngine{failFor: map[string]bool{}}
	obs := &recordingObserver{}
	ctrl, _ := newTestController(gen, eng, WithObserver(obs))

	st, err := ctrl.StartRun(context.Background(), "AI in healthcare", 3, 2)
	require.NoError(t, err)
	eng.failFor[st.Analysts[1].ID] = true

	done, err := ctrl.Approve(context.Background(), st.RunID)
	require.NoError(t, err)

	require.NotNil(t, done.Report)
	assert.Len(t, done.Report.Sections, 2)
	require.Len(t, done.Report.Omissions, 1)
	assert.Contains(t, done.Report.Omissions[0], st.Analysts[1].Name)
	assert.Equal(t, 2, obs.completed)
	assert.Equal(t, 1, obs.failed)
}

func TestResumeSkipsCompletedInterviews(t *testing.T) {
	gen := &fakeGenerator{}
	eng := &fakeEngine{}
	ctrl, store := newTestController(gen, eng)

	st, err := ctrl.StartRun(context.Background(), "AI in healthcare", 3, 2)
	require.NoError(t, err)

	// Simulate a crash mid-interviewing: one slot already completed, the
	// rest pending, state persisted.
	interviews := make([]model.Interview, len(st.Analysts))
	for i, a := range st.Analysts {
		interviews[i] = model.Interview{
			ID:        uuid.New().String(),
			AnalystID: a.ID,
			Topic:     st.Topic,
			Status:    model.InterviewPending,
			MaxTurns:  st.MaxTurns,
		}
	}
	interviews[0].Status = model.InterviewCompleted
	interviews[0].TurnCount = st.MaxTurns
	st.Interviews = interviews
	st.Phase = PhaseInterviewing
	require.NoError(t, store.Save(context.Background(), st))

	// A fresh controller over the same store stands in for the restarted
	// process.
	ctrl2 := NewController(gen, eng, fakeCompiler{}, store)
	done, err := ctrl2.Approve(context.Background(), st.RunID)
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, done.Phase)
	assert.Len(t, done.Report.Sections, 3)
	assert.Equal(t, 2, eng.runCount(), "the completed interview must not rerun")
	assert.Equal(t, interviews[0].ID, done.Interviews[0].ID, "completed transcript must survive the resume")
}

func TestCancelBeforeApproval(t *testing.T) {
	gen := &fakeGenerator{}
	ctrl, store := newTestController(gen, &fakeEngine{})

	st, err := ctrl.StartRun(context.Background(), "AI in healthcare", 3, 2)
	require.NoError(t, err)

	require.NoError(t, ctrl.Cancel(context.Background(), st.RunID))

	stored, err := store.Load(context.Background(), st.RunID)
	require.NoError(t, err)
	assert.Equal(t, PhaseCancelled, stored.Phase)

	_, err = ctrl.Approve(context.Background(), st.RunID)
	var invErr *InvalidTransitionError
	require.ErrorAs(t, err, &invErr)

	err = ctrl.Cancel(context.Background(), st.RunID)
	require.ErrorAs(t, err, &invErr, "cancel must not apply twice")
}

func TestCancelDuringInterviews(t *testing.T) {
	gen := &fakeGenerator{}
	eng := &fakeEngine{started: make(chan struct{}, 3), waitCancel: true}
	ctrl, store := newTestController(gen, eng, WithMaxParallel(3))

	st, err := ctrl.StartRun(context.Background(), "AI in healthcare", 3, 2)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, aerr := ctrl.Approve(context.Background(), st.RunID)
		errCh <- aerr
	}()

	for i := 0; i < 3; i++ {
		<-eng.started
	}
	require.NoError(t, ctrl.Cancel(context.Background(), st.RunID))

	select {
	case aerr := <-errCh:
		require.ErrorIs(t, aerr, ErrRunCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("approve did not return after cancellation")
	}

	stored, err := store.Load(context.Background(), st.RunID)
	require.NoError(t, err)
	assert.Equal(t, PhaseCancelled, stored.Phase)

	_, err = ctrl.GetReport(context.Background(), st.RunID)
	assert.ErrorIs(t, err, ErrReportNotReady)
}

func TestConcurrentApprovalRejected(t *testing.T) {
	gen := &fakeGenerator{}
	eng := &fakeEngine{started: make(chan struct{}, 3), release: make(chan struct{})}
	ctrl, _ := newTestController(gen, eng, WithMaxParallel(3))

	st, err := ctrl.StartRun(context.Background(), "AI in healthcare", 3, 2)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, aerr := ctrl.Approve(context.Background(), st.RunID)
		errCh <- aerr
	}()
	<-eng.started

	_, err = ctrl.Approve(context.Background(), st.RunID)
	var invErr *InvalidTransitionError
	require.ErrorAs(t, err, &invErr, "a second approval must not dispatch the same interviews")

	close(eng.release)
	select {
	case aerr := <-errCh:
		require.NoError(t, aerr)
	case <-time.After(5 * time.Second):
		t.Fatal("first approval did not finish")
	}

	assert.Equal(t, 3, eng.runCount(), "interviews must run exactly once")
}

func TestFeedbackRejectedOutsideSuspension(t *testing.T) {
	gen := &fakeGenerator{}
	ctrl, _ := newTestController(gen, &fakeEngine{})

	st, err := ctrl.StartRun(context.Background(), "AI in healthcare", 2, 1)
	require.NoError(t, err)
	_, err = ctrl.Approve(context.Background(), st.RunID)
	require.NoError(t, err)

	_, err = ctrl.SubmitFeedback(context.Background(), st.RunID, "too late now")
	var invErr *InvalidTransitionError
	require.ErrorAs(t, err, &invErr)
}

func TestGetReportLifecycle(t *testing.T) {
	gen := &fakeGenerator{}
	ctrl, _ := newTestController(gen, &fakeEngine{})

	_, err := ctrl.GetReport(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, ErrRunNotFound)

	st, err := ctrl.StartRun(context.Background(), "AI in healthcare", 2, 1)
	require.NoError(t, err)

	_, err = ctrl.GetReport(context.Background(), st.RunID)
	assert.ErrorIs(t, err, ErrReportNotReady)

	_, err = ctrl.Approve(context.Background(), st.RunID)
	require.NoError(t, err)

	rep, err := ctrl.GetReport(context.Background(), st.RunID)
	require.NoError(t, err)
	assert.Equal(t, "AI in healthcare", rep.Topic)
	assert.Len(t, rep.Sections, 2)
}

func TestObserverSeesFullLifecycle(t *testing.T) {
	gen := &fakeGenerator{}
	obs := &recordingObserver{}
	ctrl, _ := newTestController(gen, &fakeEngine{}, WithObserver(obs))

	st, err := ctrl.StartRun(context.Background(), "AI in healthcare", 3, 2)
	require.NoError(t, err)
	_, err = ctrl.SubmitFeedback(context.Background(), st.RunID, "more depth")
	require.NoError(t, err)
	_, err = ctrl.Approve(context.Background(), st.RunID)
	require.NoError(t, err)

	assert.Equal(t, 1, obs.started)
	assert.Equal(t, 2, obs.generated)
	assert.Equal(t, 3, obs.completed)
	assert.Equal(t, 0, obs.failed)
	assert.Equal(t, 1, obs.compiled)
}
