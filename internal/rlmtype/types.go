// Package rlmtype holds the data model shared by every component of
// the execution substrate: the wire-level request/response shapes,
// usage accounting, and the session/iteration record the REPL loop
// appends to as it runs.
package rlmtype

import "time"

// Message is one role/content record in an LM request's prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the per-call accounting the spec requires every LM
// response to carry.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	CacheRead    int `json:"cache_read,omitempty"`
	CacheWrite   int `json:"cache_write,omitempty"`
}

func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		CacheRead:    u.CacheRead + other.CacheRead,
		CacheWrite:   u.CacheWrite + other.CacheWrite,
	}
}

func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// LMRequest is immutable once submitted; depth must not exceed the
// handler's configured max_depth. Depth is always the depth of the
// caller issuing the request, not the depth it will execute at — the
// handler (C3) is the one that increments it, via C8's dispatcher.
//
// Prompts, when non-empty, marks this as a batched llm_query_batched
// request: Messages is ignored and the handler fans the prompts out
// concurrently, returning one LMResponse per prompt in Responses.
type LMRequest struct {
	Messages           []Message `json:"messages"`
	Prompts            []string  `json:"prompts,omitempty"`
	MaxConcurrency     int       `json:"max_concurrency,omitempty"`
	Model              string    `json:"model,omitempty"`
	Temperature        *float64  `json:"temperature,omitempty"`
	DefaultTemperature *float64  `json:"default_temperature,omitempty"`
	MaxTokens          int       `json:"max_tokens,omitempty"`
	Depth              int       `json:"depth"`
	SessionID          string    `json:"session_id"`
	RequestID          string    `json:"request_id"`
}

// LMResponse carries exactly one of Content or Error populated, unless
// it is the envelope for a batched call, in which case Responses holds
// one entry per prompt and the envelope's own Content/Error are unset.
type LMResponse struct {
	RequestID  string       `json:"request_id"`
	Content    string       `json:"content,omitempty"`
	Usage      Usage        `json:"usage"`
	StopReason string       `json:"stop_reason,omitempty"`
	Error      string       `json:"error,omitempty"`
	Depth      int          `json:"depth,omitempty"`
	Responses  []LMResponse `json:"responses,omitempty"`
}

func (r LMResponse) Failed() bool { return r.Error != "" }

// UsageSummary accumulates monotonically; it is never decremented.
type UsageSummary struct {
	Calls        int64 `json:"calls"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	CacheRead    int64 `json:"cache_read"`
	CacheWrite   int64 `json:"cache_write"`
}

// REPLResult is what one execute_code call returns.
type REPLResult struct {
	Stdout    string          `json:"stdout"`
	Stderr    string          `json:"stderr"`
	Success   bool            `json:"success"`
	Exception string          `json:"exception,omitempty"`
	FinalVar  any             `json:"final_var,omitempty"`
	HasFinal  bool            `json:"has_final"`
	SubCalls  []SubCallRecord `json:"sub_calls,omitempty"`
}

// SubCallRecord is one llm_query (or one item of a batched call) made
// from inside an iteration's executed code.
type SubCallRecord struct {
	RequestID string    `json:"request_id"`
	Depth     int       `json:"depth"`
	Usage     Usage     `json:"usage"`
	Error     string    `json:"error,omitempty"`
	Issued    time.Time `json:"issued"`
}

// Iteration is append-only: the REPL never mutates a past iteration.
// SubLMCalls holds only genuine recursive llm_query calls made from
// inside this iteration's executed code — the outer LM turn's own
// usage is tracked separately in OuterUsage, never mixed into
// SubLMCalls.
type Iteration struct {
	Index         int             `json:"index"`
	OuterPrompt   string          `json:"outer_prompt"`
	OuterResponse string          `json:"outer_response"`
	OuterUsage    Usage           `json:"outer_usage"`
	CodeBlocks    []string        `json:"code_blocks"`
	Results       []REPLResult    `json:"repl_results"`
	SubLMCalls    []SubCallRecord `json:"sub_lm_calls"`
	WallTime      time.Duration   `json:"wall_time"`
	Failed        bool            `json:"failed"`
}

// StopReason enumerates why a session terminated.
type StopReason string

const (
	StopFinalAnswer      StopReason = "final_answer"
	StopIterationBudget  StopReason = "iteration_budget"
	StopTokenBudget      StopReason = "budget_exceeded"
	StopError            StopReason = "error"
	StopCancelled        StopReason = "cancelled"
)

// Budget bounds one session's resource consumption.
type Budget struct {
	MaxIterations       int
	MaxDepth            int
	MaxTokensPerSession int64
	BlockTimeout        time.Duration
}

// SessionState is mutated only by the REPL loop (C7); every other
// component treats it as read-only.
type SessionState struct {
	SessionID     string
	Depth         int
	Budget        Budget
	Iterations    []Iteration
	ContextLoaded bool
	TokensUsed    int64
	FinalAnswer   any
	HasFinal      bool
	StopReason    StopReason
}

func NewSessionState(sessionID string, budget Budget) *SessionState {
	return &SessionState{SessionID: sessionID, Budget: budget}
}

func (s *SessionState) TotalSubLMCalls() int {
	n := 0
	for _, it := range s.Iterations {
		n += len(it.SubLMCalls)
	}
	return n
}

func (s *SessionState) TotalCodeBlocks() int {
	n := 0
	for _, it := range s.Iterations {
		n += len(it.CodeBlocks)
	}
	return n
}

func (s *SessionState) HasErrors() bool {
	for _, it := range s.Iterations {
		if it.Failed {
			return true
		}
	}
	return false
}

// LogDocument is the one-JSON-document-per-session artifact described
// in the external interfaces, consumed by the out-of-scope
// visualizer. rlmctl does not read or render these documents.
type LogDocument struct {
	Config   LogConfig   `json:"config"`
	Metadata LogMetadata `json:"metadata"`
	Iterations []Iteration `json:"iterations"`
}

type LogConfig struct {
	RootModel       string `json:"root_model"`
	Backend         string `json:"backend"`
	EnvironmentType string `json:"environment_type"`
}

type LogMetadata struct {
	TotalIterations  int     `json:"totalIterations"`
	TotalCodeBlocks  int     `json:"totalCodeBlocks"`
	TotalSubLMCalls  int     `json:"totalSubLMCalls"`
	TotalExecutionTime float64 `json:"totalExecutionTime"`
	FinalAnswer      any     `json:"finalAnswer"`
	HasErrors        bool    `json:"hasErrors"`
	ContextQuestion  string  `json:"contextQuestion,omitempty"`
}
