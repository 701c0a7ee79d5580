package workflow

import "github.com/overcast-dev/research_panel/pkg/model"

// Observer receives lifecycle events from the controller. Implementations
// must be fast and must not block; they are called inline at transition
// points.
type Observer interface {
	RunStarted(runID, topic string)
	AnalystsGenerated(runID string, analysts []model.Analyst)
	InterviewCompleted(runID string, iv model.Interview)
	InterviewFailed(runID string, iv model.Interview, err error)
	ReportCompiled(runID string, rep model.Report)
}

// NopObserver ignores all events.
type NopObserver struct{}

var _ Observer = NopObserver{}

func (NopObserver) RunStarted(string, string)                           {}
func (NopObserver) AnalystsGenerated(string, []model.Analyst)           {}
func (NopObserver) InterviewCompleted(string, model.Interview)          {}
func (NopObserver) InterviewFailed(string, model.Interview, error)      {}
func (NopObserver) ReportCompiled(string, model.Report)                 {}
