package pipeline

import "sync"

// Controller is the capability surface a caller hands to a run. The same
// controller is shared by every processor of the run and outlives it.
type Controller interface {
	// ReportMessage records a progress or result message.
	ReportMessage(text string)
	// ShouldAbort is consulted by processors that support cooperative
	// cancellation. The run loop itself never calls it.
	ShouldAbort() bool
	// RequestConfirmation asks the operator a yes/no question. Non-interactive
	// controllers answer with a fixed default.
	RequestConfirmation(prompt string) bool
}

// ProgressReporter is optionally implemented by controllers that display
// progress. The run loop calls it when present.
type ProgressReporter interface {
	PipelineStarted(name, title string, total int)
	ProcessorStarted(index, total int, processorType string)
	PipelineFinished(status RunStatus)
}

// AggregateController is a non-interactive controller that keeps every
// reported message in order. It never requests an abort.
type AggregateController struct {
	mu       sync.Mutex
	messages []string
	confirm  bool
}

// AggregateOption configures an AggregateController.
type AggregateOption func(*AggregateController)

// WithConfirmationDefault sets the answer given to RequestConfirmation.
func WithConfirmationDefault(answer bool) AggregateOption {
	return func(c *AggregateController) { c.confirm = answer }
}

// NewAggregateController returns a controller that answers yes to every
// confirmation unless configured otherwise.
func NewAggregateController(opts ...AggregateOption) *AggregateController {
	c := &AggregateController{confirm: true}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ReportMessage appends text verbatim.
func (c *AggregateController) ReportMessage(text string) {
	c.mu.Lock()
	c.messages = append(c.messages, text)
	c.mu.Unlock()
}

// ShouldAbort always returns false.
func (c *AggregateController) ShouldAbort() bool { return false }

// RequestConfirmation returns the configured default answer.
func (c *AggregateController) RequestConfirmation(string) bool { return c.confirm }

// Message returns the last reported message, or "" if none.
func (c *AggregateController) Message() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return ""
	}
	return c.messages[len(c.messages)-1]
}

// Messages returns a copy of every reported message in report order.
func (c *AggregateController) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.messages))
	copy(out, c.messages)
	return out
}

var _ Controller = (*AggregateController)(nil)
