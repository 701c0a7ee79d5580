package workflow

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/overcast-dev/research_panel/pkg/logger"
	"github.com/overcast-dev/research_panel/pkg/model"
)

// PersonaGenerator synthesizes an analyst panel for a topic.
type PersonaGenerator interface {
	Generate(ctx context.Context, topic string, maxAnalysts int, feedback string) ([]model.Analyst, error)
}

// InterviewRunner drives one analyst's interview to a terminal state.
type InterviewRunner interface {
	Run(ctx context.Context, analyst model.Analyst, topic string, maxTurns int) (model.Interview, error)
}

// ReportCompiler reduces terminal interviews into one report.
type ReportCompiler interface {
	Compile(ctx context.Context, topic string, analysts []model.Analyst, interviews []model.Interview) (model.Report, error)
}

// Controller is the top-level workflow state machine. It sequences persona
// generation, the human-approval suspension, the interview fan-out and report
// compilation, persisting run state at every step so a process restart can
// resume from the store alone.
type Controller struct {
	generator   PersonaGenerator
	engine      InterviewRunner
	compiler    ReportCompiler
	store       RunStore
	obs         Observer
	maxParallel int

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// Option configures a Controller.
type Option func(*Controller)

// WithObserver installs a lifecycle observer.
func WithObserver(obs Observer) Option {
	return func(c *Controller) { c.obs = obs }
}

// WithMaxParallel bounds concurrent interviews per run. Zero means one
// goroutine per analyst with no cap.
func WithMaxParallel(n int) Option {
	return func(c *Controller) { c.maxParallel = n }
}

// NewController creates a workflow controller.
func NewController(gen PersonaGenerator, eng InterviewRunner, comp ReportCompiler, store RunStore, opts ...Option) *Controller {
	c := &Controller{
		generator: gen,
		engine:    eng,
		compiler:  comp,
		store:     store,
		obs:       NopObserver{},
		active:    make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartRun generates the initial analyst panel and suspends the run at the
// human-approval checkpoint. The returned state is already persisted; the
// caller resumes later via SubmitFeedback or Approve.
func (c *Controller) StartRun(ctx context.Context, topic string, maxAnalysts, maxTurns int) (*RunState, error) {
	st := &RunState{
		RunID:       uuid.New().String(),
		Topic:       topic,
		MaxAnalysts: maxAnalysts,
		MaxTurns:    maxTurns,
		Phase:       PhaseGeneratingPersonas,
		CreatedAt:   time.Now().UTC(),
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}

	logger.Log.Infof("run %s started: topic=%q analysts=%d turns=%d", st.RunID, topic, maxAnalysts, maxTurns)
	c.obs.RunStarted(st.RunID, topic)

	analysts, err := c.generator.Generate(ctx, topic, maxAnalysts, "")
	if err != nil {
		return nil, err
	}
	st.Analysts = analysts

	if err := st.transitionTo(PhaseAwaitingFeedback); err != nil {
		return nil, err
	}
	if err := c.persist(ctx, st); err != nil {
		return nil, err
	}
	c.obs.AnalystsGenerated(st.RunID, analysts)
	return st, nil
}

// SubmitFeedback routes the run based on the human's input. Non-blank
// feedback discards the current panel and regenerates it from scratch,
// re-suspending at the checkpoint. Blank or whitespace-only feedback is
// treated as approval so accidental empty submissions cannot loop forever.
func (c *Controller) SubmitFeedback(ctx context.Context, runID, feedback string) (*RunState, error) {
	if strings.TrimSpace(feedback) == "" {
		return c.Approve(ctx, runID)
	}

	st, err := c.store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if st.Phase != PhaseAwaitingFeedback {
		return nil, &InvalidTransitionError{RunID: runID, Phase: st.Phase, Op: "feedback"}
	}

	if err := st.transitionTo(PhaseGeneratingPersonas); err != nil {
		return nil, err
	}

	logger.Log.Infof("run %s: regenerating panel with feedback", runID)
	analysts, err := c.generator.Generate(ctx, st.Topic, st.MaxAnalysts, feedback)
	if err != nil {
		return nil, err
	}
	st.Analysts = analysts

	if err := st.transitionTo(PhaseAwaitingFeedback); err != nil {
		return nil, err
	}
	if err := c.persist(ctx, st); err != nil {
		return nil, err
	}
	c.obs.AnalystsGenerated(runID, analysts)
	return st, nil
}

// Approve dispatches one interview per approved analyst, waits for all of
// them, then compiles the report. It is idempotent on a done run, and a run
// persisted mid-interviewing (e.g. after a process restart) is re-entered
// without re-running interviews that already completed.
func (c *Controller) Approve(ctx context.Context, runID string) (*RunState, error) {
	st, err := c.store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}

	switch st.Phase {
	case PhaseDone:
		return st, nil
	case PhaseAwaitingFeedback:
		if err := st.transitionTo(PhaseDispatching); err != nil {
			return nil, err
		}
		st.Interviews = dispatchInterviews(st)
		if err := st.transitionTo(PhaseInterviewing); err != nil {
			return nil, err
		}
		if err := c.persist(ctx, st); err != nil {
			return nil, err
		}
	case PhaseDispatching, PhaseInterviewing, PhaseCompiling:
		// Resume path after an interrupted Approve.
		if len(st.Interviews) != len(st.Analysts) {
			st.Interviews = dispatchInterviews(st)
		}
		if st.Phase != PhaseCompiling {
			st.Phase = PhaseInterviewing
		}
	default:
		return nil, &InvalidTransitionError{RunID: runID, Phase: st.Phase, Op: "approve"}
	}

	if st.Phase == PhaseInterviewing {
		if err := c.runInterviews(ctx, st); err != nil {
			return st, err
		}
		if err := st.transitionTo(PhaseCompiling); err != nil {
			return nil, err
		}
		if err := c.persist(ctx, st); err != nil {
			return nil, err
		}
	}

	rep, err := c.compiler.Compile(ctx, st.Topic, st.Analysts, st.Interviews)
	if err != nil {
		return nil, err
	}
	st.Report = &rep

	if err := st.transitionTo(PhaseDone); err != nil {
		return nil, err
	}
	if err := c.persist(ctx, st); err != nil {
		return nil, err
	}
	c.obs.ReportCompiled(runID, rep)
	logger.Log.Infof("run %s done: %d sections, %d omissions", runID, len(rep.Sections), len(rep.Omissions))
	return st, nil
}

// GetReport returns the compiled report, or ErrReportNotReady while the run
// is still in progress.
func (c *Controller) GetReport(ctx context.Context, runID string) (*model.Report, error) {
	st, err := c.store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if st.Phase != PhaseDone || st.Report == nil {
		return nil, ErrReportNotReady
	}
	return st.Report, nil
}

// GetRun returns the current persisted state of a run.
func (c *Controller) GetRun(ctx context.Context, runID string) (*RunState, error) {
	return c.store.Load(ctx, runID)
}

// Cancel marks the run cancelled. In-flight model and search calls are not
// interrupted, but their interviews end failed and the run stops between
// turns.
func (c *Controller) Cancel(ctx context.Context, runID string) error {
	st, err := c.store.Load(ctx, runID)
	if err != nil {
		return err
	}
	if st.Phase.Terminal() {
		return &InvalidTransitionError{RunID: runID, Phase: st.Phase, Op: "cancel"}
	}

	st.Cancelled = true
	if !isRunning(st.Phase) {
		// Nothing in flight; the run terminates immediately.
		if err := st.transitionTo(PhaseCancelled); err != nil {
			return err
		}
	}
	if err := c.persist(ctx, st); err != nil {
		return err
	}

	c.mu.Lock()
	cancel, ok := c.active[runID]
	c.mu.Unlock()
	if ok {
		cancel()
	}
	logger.Log.Infof("run %s cancelled", runID)
	return nil
}

func isRunning(p Phase) bool {
	return p == PhaseDispatching || p == PhaseInterviewing || p == PhaseCompiling
}

// dispatchInterviews creates one pending interview slot per analyst, in
// dispatch order. Slot order is what fixes report section order later.
func dispatchInterviews(st *RunState) []model.Interview {
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
	return interviews
}

// runInterviews fans out one goroutine per analyst and joins on all of them.
// Each goroutine owns its own transcript; results are merged into the state
// slots under the mutex, and the state is persisted after every merge so a
// restart never repeats completed work.
func (c *Controller) runInterviews(ctx context.Context, st *RunState) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// One caller drives a run's fan-out at a time; a concurrent Approve on
	// the same run is rejected rather than duplicating pending interviews.
	c.mu.Lock()
	if _, busy := c.active[st.RunID]; busy {
		c.mu.Unlock()
		return &InvalidTransitionError{RunID: st.RunID, Phase: st.Phase, Op: "approve"}
	}
	c.active[st.RunID] = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.active, st.RunID)
		c.mu.Unlock()
	}()

	sem := make(chan struct{}, parallelism(c.maxParallel, len(st.Analysts)))

	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := range st.Analysts {
		if st.Interviews[i].Status == model.InterviewCompleted {
			logger.Log.Debugf("run %s: interview for analyst %s already completed, skipping", st.RunID, st.Analysts[i].Name)
			continue
		}

		wg.Add(1)
		go func(i int, analyst model.Analyst) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			iv, err := c.engine.Run(runCtx, analyst, st.Topic, st.MaxTurns)
			if err != nil {
				logger.Log.Errorf("run %s: interview with %s failed: %v", st.RunID, analyst.Name, err)
				c.obs.InterviewFailed(st.RunID, iv, err)
			} else {
				c.obs.InterviewCompleted(st.RunID, iv)
			}

			mu.Lock()
			st.Interviews[i] = iv
			if perr := c.persist(ctx, st); perr != nil {
				logger.Log.Errorf("run %s: persist after interview failed: %v", st.RunID, perr)
			}
			mu.Unlock()
		}(i, st.Analysts[i])
	}

	wg.Wait()

	// Pick up a cancellation raised by another caller while we were running.
	if stored, err := c.store.Load(ctx, st.RunID); err == nil && stored.Cancelled {
		st.Cancelled = true
	}
	if st.Cancelled {
		if err := st.transitionTo(PhaseCancelled); err != nil {
			return err
		}
		if err := c.persist(ctx, st); err != nil {
			return err
		}
		return ErrRunCancelled
	}
	return nil
}

// persist stamps and saves the state, preserving a cancellation flag written
// by a concurrent Cancel call.
func (c *Controller) persist(ctx context.Context, st *RunState) error {
	if stored, err := c.store.Load(ctx, st.RunID); err == nil && stored.Cancelled {
		st.Cancelled = true
	}
	st.UpdatedAt = time.Now().UTC()
	return c.store.Save(ctx, st)
}

func parallelism(limit, n int) int {
	if limit <= 0 || limit > n {
		if n < 1 {
			return 1
		}
		return n
	}
	return limit
}
