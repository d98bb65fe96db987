package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/normanking/concierge/internal/tools"
)

// ClockTool reports the current time.
type ClockTool struct {
	now func() time.Time
}

// NewClockTool creates the get_current_time tool.
func NewClockTool() *ClockTool {
	return &ClockTool{now: time.Now}
}

func (t *ClockTool) Name() string { return "get_current_time" }

func (t *ClockTool) Description() string {
	return "Get the current date and time, optionally in a specific IANA timezone such as Europe/London."
}

func (t *ClockTool) Parameters() map[string]any {
	return schema(map[string]any{
		"timezone": prop("string", "IANA timezone name; defaults to the server's local time"),
	})
}

func (t *ClockTool) Execute(_ context.Context, args map[string]any) (*tools.Output, error) {
	loc := time.Local
	if tz := stringArg(args, "timezone"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("validation: unknown timezone %q", tz)
		}
		loc = l
	}
	now := t.now().In(loc)
	return &tools.Output{
		Message: now.Format("Monday, January 2, 2006 15:04 MST"),
		Data: map[string]any{
			"iso":      now.Format(time.RFC3339),
			"timezone": loc.String(),
			"unix":     now.Unix(),
		},
	}, nil
}
