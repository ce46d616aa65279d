package toolbox

import (
	"time"

	"github.com/go-go-golems/mangiafuoco/pkg/tools"
)

// TimeTools answers clock questions locally instead of burning a model
// guess on them.
type TimeTools struct {
	now func() time.Time
}

func NewTimeTools() *TimeTools {
	return &TimeTools{now: time.Now}
}

func (t *TimeTools) Definitions() ([]*tools.Definition, error) {
	currentTime, err := tools.NewToolFromFunc("current_time",
		"Get the current local date, time, weekday, and timezone.",
		t.currentTime)
	if err != nil {
		return nil, err
	}
	return []*tools.Definition{currentTime}, nil
}

func (t *TimeTools) currentTime() map[string]any {
	now := t.now()
	zone, offset := now.Zone()
	return map[string]any{
		"status":         "success",
		"date":           now.Format("2006-01-02"),
		"time":           now.Format("15:04:05"),
		"weekday":        now.Weekday().String(),
		"timezone":       zone,
		"utc_offset_sec": offset,
	}
}
