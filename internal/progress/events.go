package progress

import (
	"fmt"

	"github.com/jaa/ariadl/internal/output"
)

// Events reports progress as batch_progress events, for --json output.
type Events struct {
	logger *output.Logger
	state  *State
}

func NewEvents(logger *output.Logger) *Events {
	return &Events{logger: logger, state: NewState()}
}

func (e *Events) Start(total int, fields Fields) {
	e.emit(e.state.Start(total, fields))
}

func (e *Events) Update(completed int, fields Fields) {
	e.emit(e.state.Update(completed, fields))
}

func (e *Events) emit(snap Snapshot) {
	details := map[string]any{
		"total":     snap.Total,
		"completed": snap.Completed,
		"percent":   snap.Percent(),
	}
	if speed, ok := snap.Fields[FieldSpeed]; ok {
		details["speed_mb_s"] = speed
	}
	e.logger.Event(output.LevelInfo, output.EventBatchProgress,
		fmt.Sprintf("%d/%d complete", snap.Completed, snap.Total), details)
}
