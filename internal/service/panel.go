package service

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"

	"github.com/overcast-dev/research_panel/pkg/config"
	"github.com/overcast-dev/research_panel/pkg/model"
	"github.com/overcast-dev/research_panel/pkg/workflow"
)

// PanelService exposes the caller-facing run operations over the workflow
// controller, translating workflow failures into transport errors. Requests
// that omit panel size or turn budget fall back to the configured defaults.
type PanelService struct {
	ctrl     *workflow.Controller
	defaults config.RunConfig
	log      *log.Helper
}

// NewPanelService creates the service.
func NewPanelService(ctrl *workflow.Controller, defaults config.RunConfig, logger log.Logger) *PanelService {
	return &PanelService{ctrl: ctrl, defaults: defaults, log: log.NewHelper(logger)}
}

// StartRunRequest starts a new research run.
type StartRunRequest struct {
	Topic       string `json:"topic"`
	MaxAnalysts int    `json:"max_analysts"`
	MaxTurns    int    `json:"max_turns"`
}

// RunReply describes a run suspended at the feedback checkpoint.
type RunReply struct {
	RunID            string          `json:"run_id"`
	Phase            string          `json:"phase"`
	Analysts         []model.Analyst `json:"analysts"`
	AwaitingFeedback bool            `json:"awaiting_feedback"`
}

// FeedbackRequest carries optional human feedback for a suspended run.
type FeedbackRequest struct {
	Feedback string `json:"feedback"`
}

// ReportReply wraps a compiled report.
type ReportReply struct {
	RunID  string        `json:"run_id"`
	Report *model.Report `json:"report"`
}

// StartRun generates the panel and suspends for human review.
func (s *PanelService) StartRun(ctx context.Context, req *StartRunRequest) (*RunReply, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return nil, errors.BadRequest("INVALID_TOPIC", "topic must not be empty")
	}
	if req.MaxAnalysts == 0 {
		req.MaxAnalysts = s.defaults.MaxAnalysts
	}
	if req.MaxTurns == 0 {
		req.MaxTurns = s.defaults.MaxTurns
	}
	if req.MaxAnalysts < 1 {
		return nil, errors.BadRequest("INVALID_MAX_ANALYSTS", "max_analysts must be >= 1")
	}
	if req.MaxTurns < 1 {
		return nil, errors.BadRequest("INVALID_MAX_TURNS", "max_turns must be >= 1")
	}

	st, err := s.ctrl.StartRun(ctx, req.Topic, req.MaxAnalysts, req.MaxTurns)
	if err != nil {
		return nil, s.translate(err)
	}
	s.log.WithContext(ctx).Infof("started run %s for topic %q", st.RunID, st.Topic)
	return runReply(st), nil
}

// SubmitFeedback regenerates the panel, or approves when feedback is blank.
func (s *PanelService) SubmitFeedback(ctx context.Context, runID string, req *FeedbackRequest) (*RunReply, error) {
	st, err := s.ctrl.SubmitFeedback(ctx, runID, req.Feedback)
	if err != nil {
		return nil, s.translate(err)
	}
	return runReply(st), nil
}

// GetRun returns the current phase and panel of a run.
func (s *PanelService) GetRun(ctx context.Context, runID string) (*RunReply, error) {
	st, err := s.ctrl.GetRun(ctx, runID)
	if err != nil {
		return nil, s.translate(err)
	}
	return runReply(st), nil
}

// Approve dispatches interviews and blocks until the report is compiled.
func (s *PanelService) Approve(ctx context.Context, runID string) (*ReportReply, error) {
	st, err := s.ctrl.Approve(ctx, runID)
	if err != nil {
		return nil, s.translate(err)
	}
	return &ReportReply{RunID: st.RunID, Report: st.Report}, nil
}

// GetReport returns the compiled report, or a not-ready error.
func (s *PanelService) GetReport(ctx context.Context, runID string) (*ReportReply, error) {
	rep, err := s.ctrl.GetReport(ctx, runID)
	if err != nil {
		return nil, s.translate(err)
	}
	return &ReportReply{RunID: runID, Report: rep}, nil
}

// Cancel marks a run cancelled.
func (s *PanelService) Cancel(ctx context.Context, runID string) error {
	if err := s.ctrl.Cancel(ctx, runID); err != nil {
		return s.translate(err)
	}
	return nil
}

func runReply(st *workflow.RunState) *RunReply {
	return &RunReply{
		RunID:            st.RunID,
		Phase:            string(st.Phase),
		Analysts:         st.Analysts,
		AwaitingFeedback: st.Phase == workflow.PhaseAwaitingFeedback,
	}
}

// translate maps workflow failures to transport errors with stable reasons.
func (s *PanelService) translate(err error) error {
	var (
		genErr  *model.GenerationError
		compErr *model.CompilationError
		invErr  *workflow.InvalidTransitionError
	)

	switch {
	case stderrors.Is(err, workflow.ErrRunNotFound):
		return errors.NotFound("RUN_NOT_FOUND", err.Error())
	case stderrors.Is(err, workflow.ErrReportNotReady):
		return errors.New(404, "REPORT_NOT_READY", err.Error())
	case stderrors.Is(err, workflow.ErrRunCancelled):
		return errors.Conflict("RUN_CANCELLED", err.Error())
	case stderrors.As(err, &invErr):
		return errors.Conflict("INVALID_TRANSITION", err.Error())
	case stderrors.As(err, &compErr):
		return errors.Conflict("COMPILATION_FAILURE", err.Error())
	case stderrors.As(err, &genErr):
		return errors.InternalServer("GENERATION_FAILURE", err.Error())
	default:
		s.log.Errorf("unclassified failure: %v", err)
		return errors.InternalServer("INTERNAL", err.Error())
	}
}
