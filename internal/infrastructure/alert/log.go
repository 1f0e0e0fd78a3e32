package alert

import (
	"context"

	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/OliveiraNt/queuepilot/internal/utils"
)

// Log writes alerts to the application log.
type Log struct {
	name string
}

func NewLog(name string) *Log { return &Log{name: name} }

func (l *Log) Name() string { return l.name }

func (l *Log) Send(_ context.Context, a domain.Alert) error {
	top := ""
	if len(a.Analysis.ErrorStats) > 0 {
		top = a.Analysis.ErrorStats[0].Error
	}
	utils.Logger.Warn("dead-letter threshold reached", "queue", a.Queue, "count", a.Count, "threshold", a.Threshold, "top_error", top)
	return nil
}
