package pipeline

import (
	"fmt"
	"strings"

	"github.com/GoCodeAlone/provision/config"
)

// Step is an ordered group of processors. ArgsName, when set, selects a named
// entry of the run's ArgsContext instead of the root.
type Step struct {
	ArgsName   string
	Processors []Processor
}

// CreateSteps materializes step definitions. Processors are type-checked
// against their step's effective args when that entry is already present in
// argsCtx; an absent named entry is left for the run loop to report when the
// step is reached. CreateSteps never invokes a processor.
func CreateSteps(r *ProcessorRegistry, defs []config.StepDefinition, argsCtx *ArgsContext) ([]*Step, error) {
	steps := make([]*Step, 0, len(defs))
	for i, def := range defs {
		if def.Processors == nil {
			return nil, fmt.Errorf("step %d: %w: no processor list", i, ErrMalformedStep)
		}
		argsName := strings.TrimSpace(def.Args)

		var args Args
		if argsCtx != nil {
			args, _ = argsCtx.Lookup(argsName)
		}
		processors, err := CreateProcessors(r, def.Processors, args)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, &Step{ArgsName: argsName, Processors: processors})
	}
	return steps, nil
}
