package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/normanking/concierge/internal/agents"
)

// ===========================================================================
// HELPERS
// ===========================================================================

func okTool(name, msg string) *Func {
	return &Func{
		ToolName: name,
		Desc:     "returns " + msg,
		Fn: func(ctx context.Context, args map[string]any) (*Output, error) {
			return &Output{Message: msg, Data: args}, nil
		},
	}
}

func errTool(name string, err error) *Func {
	return &Func{
		ToolName: name,
		Fn: func(ctx context.Context, args map[string]any) (*Output, error) {
			return nil, err
		},
	}
}

// slowTool blocks until ctx is done or d elapses; cancelled reports whether
// the context fired first.
func slowTool(name string, d time.Duration, cancelled *atomic.Bool) *Func {
	return &Func{
		ToolName: name,
		Fn: func(ctx context.Context, args map[string]any) (*Output, error) {
			select {
			case <-time.After(d):
				return &Output{Message: "late"}, nil
			case <-ctx.Done():
				if cancelled != nil {
					cancelled.Store(true)
				}
				return nil, ctx.Err()
			}
		},
	}
}

// ===========================================================================
// EXECUTOR TESTS
// ===========================================================================

func TestExecutor_Success(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(agents.Home, okTool("control_device", "Light on"))

	fixed := time.UnixMilli(1_700_000_000_123)
	e := NewExecutor(reg, WithClock(func() time.Time { return fixed }))

	r := e.Execute(context.Background(), agents.Home, "control_device", map[string]any{"entity_id": "light.living_room"}, "user-1")
	if !r.Success {
		t.Fatalf("expected success, got %+v", r.Error)
	}
	if r.Message != "Light on" {
		t.Errorf("expected message, got %q", r.Message)
	}
	if r.Meta.Source != "home" {
		t.Errorf("expected source home, got %q", r.Meta.Source)
	}
	if r.Meta.TraceID != "home-control_device-1700000000123" {
		t.Errorf("unexpected trace id %q", r.Meta.TraceID)
	}
	if r.Error != nil {
		t.Error("expected no error on success")
	}
}

func TestExecutor_PropagatesCaller(t *testing.T) {
	var got string
	reg := NewRegistry()
	reg.MustRegister(agents.Personality, &Func{
		ToolName: "remember",
		Fn: func(ctx context.Context, args map[string]any) (*Output, error) {
			got = CallerFrom(ctx)
			return nil, nil
		},
	})

	r := NewExecutor(reg).Execute(context.Background(), agents.Personality, "remember", nil, "user-42")
	if !r.Success {
		t.Fatalf("expected success, got %+v", r.Error)
	}
	if got != "user-42" {
		t.Errorf("expected caller user-42, got %q", got)
	}
	if CallerFrom(context.Background()) != "" {
		t.Error("expected empty caller without executor")
	}
}

func TestExecutor_UnknownTool(t *testing.T) {
	e := NewExecutor(NewRegistry())

	r := e.Execute(context.Background(), agents.Coding, "nope", nil, "")
	if r.Success {
		t.Fatal("expected failure for unknown tool")
	}
	if r.Error.Code != ErrNotFound || r.Error.Recoverable {
		t.Errorf("expected non-recoverable NOT_FOUND, got %+v", r.Error)
	}
}

func TestExecutor_ToolRegisteredForOtherAgent(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(agents.Home, okTool("control_device", "ok"))
	e := NewExecutor(reg)

	r := e.Execute(context.Background(), agents.Finance, "control_device", nil, "")
	if r.Success || r.Error.Code != ErrNotFound {
		t.Errorf("dispatch must be per agent, got %+v", r)
	}
}

func TestExecutor_Timeout(t *testing.T) {
	reg := NewRegistry()
	var cancelled atomic.Bool
	reg.MustRegister(agents.Research, slowTool("web_search", time.Second, &cancelled))

	e := NewExecutor(reg, WithTimeouts(NewTimeoutTable(map[string]time.Duration{"web_search": 20 * time.Millisecond}, 0)))

	start := time.Now()
	r := e.Execute(context.Background(), agents.Research, "web_search", nil, "")
	elapsed := time.Since(start)

	if r.Success {
		t.Fatal("expected timeout failure")
	}
	if r.Error.Code != ErrTimeout || !r.Error.Recoverable {
		t.Errorf("expected recoverable TIMEOUT, got %+v", r.Error)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("executor waited too long: %v", elapsed)
	}

	// The tool observes cancellation shortly after the timeout.
	deadline := time.Now().Add(time.Second)
	for !cancelled.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !cancelled.Load() {
		t.Error("expected tool context to be cancelled on timeout")
	}

	if e.Stats().TimeoutCount != 1 {
		t.Errorf("expected timeout count 1, got %d", e.Stats().TimeoutCount)
	}
}

func TestExecutor_ErrorClassification(t *testing.T) {
	testCases := []struct {
		name        string
		err         error
		code        ErrorCode
		recoverable bool
	}{
		{"connection", errors.New("dial tcp 10.0.0.1:8123: connect: connection refused"), ErrConnection, true},
		{"rate", errors.New("HTTP 429 Too Many Requests"), ErrRateLimited, true},
		{"auth", errors.New("401 Unauthorized"), ErrAuth, false},
		{"not found", errors.New("entity light.kitchen not found"), ErrNotFound, false},
		{"validation", errors.New("entity_id is required"), ErrValidation, false},
		{"unknown", errors.New("something odd"), ErrUnknown, false},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), ErrTimeout, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reg := NewRegistry()
			reg.MustRegister(agents.Home, errTool("control_device", tc.err))
			e := NewExecutor(reg)

			r := e.Execute(context.Background(), agents.Home, "control_device", nil, "")
			if r.Success {
				t.Fatal("expected failure")
			}
			if r.Error.Code != tc.code {
				t.Errorf("expected code %s, got %s", tc.code, r.Error.Code)
			}
			if r.Error.Recoverable != tc.recoverable {
				t.Errorf("expected recoverable=%v", tc.recoverable)
			}
			if r.Meta.Source != "home" || r.Meta.TraceID == "" {
				t.Errorf("meta must always be attached, got %+v", r.Meta)
			}
		})
	}
}

func TestClassify_WholeWordCodes(t *testing.T) {
	testCases := []struct {
		msg  string
		code ErrorCode
	}{
		{"order 14290 not found", ErrNotFound},
		{"invoice 84013 does not exist", ErrNotFound},
		{"ticket 94035 is missing a title", ErrValidation},
		{"thereof unknown", ErrUnknown},
		{"unexpected EOF", ErrConnection},
		{"status 403: forbidden", ErrAuth},
		{"upstream returned 429", ErrRateLimited},
		{"rate limited by provider", ErrRateLimited},
		{"404 page", ErrNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.msg, func(t *testing.T) {
			if got := Classify(errors.New(tc.msg)); got != tc.code {
				t.Errorf("Classify(%q) = %s, want %s", tc.msg, got, tc.code)
			}
		})
	}
}

func TestExecutor_PanicBecomesResult(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(agents.Coding, &Func{
		ToolName: "explode",
		Fn: func(ctx context.Context, args map[string]any) (*Output, error) {
			panic("boom")
		},
	})
	e := NewExecutor(reg)

	r := e.Execute(context.Background(), agents.Coding, "explode", nil, "")
	if r.Success || !strings.Contains(r.Error.Details, "boom") {
		t.Errorf("expected panic converted to failure, got %+v", r)
	}
}

func TestExecutor_Confirmation(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(agents.Scheduling, okTool("send_email", "sent"))

	var asked int
	e := NewExecutor(reg, WithConfirmationHandler(func(ctx context.Context, a agents.Agent, tool string, args map[string]any) (bool, error) {
		asked++
		return false, nil
	}))

	r := e.Execute(context.Background(), agents.Scheduling, "send_email", map[string]any{"to": "a@b.c"}, "")
	if r.Success {
		t.Fatal("expected rejected email")
	}
	if asked != 1 {
		t.Errorf("expected handler to be asked once, got %d", asked)
	}
	if e.Stats().ConfirmationReqs != 1 {
		t.Errorf("expected confirmation count 1")
	}
}

func TestExecuteAll_OrderAndParallelism(t *testing.T) {
	reg := NewRegistry()
	var inFlight, peak atomic.Int32
	for i := 0; i < 6; i++ {
		name := fmt.Sprintf("tool_%d", i)
		delay := time.Duration(6-i) * 5 * time.Millisecond
		reg.MustRegister(agents.Research, &Func{
			ToolName: name,
			Fn: func(ctx context.Context, args map[string]any) (*Output, error) {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(delay)
				inFlight.Add(-1)
				return &Output{Message: name}, nil
			},
		})
	}

	e := NewExecutor(reg, WithMaxParallel(2))
	calls := make([]Call, 6)
	for i := range calls {
		calls[i] = Call{ID: fmt.Sprintf("c%d", i), Name: fmt.Sprintf("tool_%d", i)}
	}

	results := e.ExecuteAll(context.Background(), agents.Research, calls, "")
	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Message != fmt.Sprintf("tool_%d", i) {
			t.Errorf("result %d out of order: %q", i, r.Message)
		}
	}
	if peak.Load() > 2 {
		t.Errorf("expected at most 2 concurrent calls, saw %d", peak.Load())
	}
}

func TestExecuteAll_TimeoutIsPerCall(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(agents.Research, slowTool("slow_lookup", time.Second, nil), okTool("get_current_time", "noon"))

	e := NewExecutor(reg, WithTimeouts(NewTimeoutTable(map[string]time.Duration{"slow_*": 20 * time.Millisecond}, time.Second)))
	results := e.ExecuteAll(context.Background(), agents.Research, []Call{
		{Name: "slow_lookup"},
		{Name: "get_current_time"},
	}, "")

	if results[0].Success || results[0].Error.Code != ErrTimeout {
		t.Errorf("expected first call to time out, got %+v", results[0])
	}
	if !results[1].Success {
		t.Errorf("expected second call to succeed, got %+v", results[1].Error)
	}
}

func TestStats(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(agents.Home, okTool("ok", "ok"), errTool("bad", errors.New("invalid")))
	e := NewExecutor(reg)

	e.Execute(context.Background(), agents.Home, "ok", nil, "")
	e.Execute(context.Background(), agents.Home, "bad", nil, "")

	s := e.Stats()
	if s.TotalExecutions != 2 || s.SuccessCount != 1 || s.FailureCount != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
	if s.SuccessRate() != 50 {
		t.Errorf("expected 50%% success rate, got %v", s.SuccessRate())
	}
}

// ===========================================================================
// TIMEOUT TABLE TESTS
// ===========================================================================

func TestTimeoutTable(t *testing.T) {
	table := NewTimeoutTable(map[string]time.Duration{
		"web_search":       30 * time.Second,
		"github_*":         20 * time.Second,
		"github_merge_*":   45 * time.Second,
		"get_current_time": time.Second,
		"broken":           0,
	}, 10*time.Second)

	testCases := []struct {
		tool string
		want time.Duration
	}{
		{"web_search", 30 * time.Second},
		{"github_list_prs", 20 * time.Second},
		{"github_merge_pr", 45 * time.Second},
		{"get_current_time", time.Second},
		{"broken", 10 * time.Second},
		{"never_heard_of_it", 10 * time.Second},
	}
	for _, tc := range testCases {
		t.Run(tc.tool, func(t *testing.T) {
			if got := table.Lookup(tc.tool); got != tc.want {
				t.Errorf("Lookup(%s) = %v, want %v", tc.tool, got, tc.want)
			}
		})
	}
}

func TestTimeoutTable_DefaultNeverZero(t *testing.T) {
	table := NewTimeoutTable(nil, 0)
	if got := table.Lookup("anything"); got != DefaultTimeout {
		t.Errorf("expected default %v, got %v", DefaultTimeout, got)
	}
}

// ===========================================================================
// CONFIRMATION TESTS
// ===========================================================================

func TestRequiresConfirmation(t *testing.T) {
	testCases := []struct {
		tool string
		args map[string]any
		want bool
	}{
		{"send_email", nil, true},
		{"create_pull_request", nil, true},
		{"merge_pull_request", nil, true},
		{"delete_event", nil, true},
		{"run_sql", map[string]any{"query": "SELECT * FROM accounts"}, false},
		{"run_sql", map[string]any{"query": "delete from accounts where id = 1"}, true},
		{"run_sql", map[string]any{"sql": "DROP TABLE accounts"}, true},
		{"run_sql", map[string]any{"query": "UPDATE accounts SET x = 1"}, true},
		{"run_sql", map[string]any{"query": "SELECT updated_at FROM accounts"}, false},
		{"get_weather", nil, false},
		{"control_device", nil, false},
	}
	for _, tc := range testCases {
		name := tc.tool
		if q := sqlArg(tc.args); q != "" {
			name += "/" + q
		}
		t.Run(name, func(t *testing.T) {
			if got := RequiresConfirmation(tc.tool, tc.args); got != tc.want {
				t.Errorf("RequiresConfirmation(%s) = %v, want %v", tc.tool, got, tc.want)
			}
		})
	}
}

// ===========================================================================
// REGISTRY TESTS
// ===========================================================================

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(agents.Home, okTool("b_tool", "b")); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(agents.Home, okTool("a_tool", "a")); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(agents.Home, okTool("a_tool", "dup")); err == nil {
		t.Error("expected error on duplicate registration")
	}

	defs := reg.Definitions(agents.Home)
	if len(defs) != 2 || defs[0].Name != "a_tool" {
		t.Errorf("expected sorted definitions, got %+v", defs)
	}
	if defs[0].Parameters["type"] != "object" {
		t.Error("expected default object schema")
	}
	if reg.HasTools(agents.Finance) {
		t.Error("finance has no tools")
	}
}
