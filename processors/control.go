package processors

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/GoCodeAlone/provision/pipeline"
)

func registerControl(r *pipeline.ProcessorRegistry) {
	pipeline.RegisterProcessor[pipeline.Args](r, "message", pipeline.Schema{
		{Name: "text", Kind: pipeline.KindString, Required: true},
	}, newMessage, pipeline.WithDescription("Report a templated message"))

	pipeline.RegisterProcessor[pipeline.Args](r, "assert", pipeline.Schema{
		{Name: "condition", Kind: pipeline.KindString, Required: true, Description: "expr expression over the args"},
		{Name: "message", Kind: pipeline.KindString, Default: "assertion failed"},
	}, newAssert, pipeline.WithDescription("Abort the pipeline when a condition is false"))

	pipeline.RegisterProcessor[pipeline.Args](r, "confirm", pipeline.Schema{
		{Name: "prompt", Kind: pipeline.KindString, Required: true},
		{Name: "message", Kind: pipeline.KindString, Default: "Cancelled by operator"},
	}, newConfirm, pipeline.WithDescription("Ask the operator to continue"))

	pipeline.RegisterProcessor[pipeline.Args](r, "check-cancel", pipeline.Schema{
		{Name: "message", Kind: pipeline.KindString, Default: "Cancelled"},
	}, newCheckCancel, pipeline.WithDescription("Abort if the controller requests cancellation"))
}

type messageProcessor struct {
	text Text
}

func newMessage(v pipeline.Values) (pipeline.TypedProcessor[pipeline.Args], error) {
	text, err := ParseText("text", v.String("text"))
	if err != nil {
		return nil, err
	}
	return &messageProcessor{text: text}, nil
}

func (p *messageProcessor) Process(_ context.Context, args pipeline.Args, c pipeline.Controller) (pipeline.Result, error) {
	msg, err := p.text.Render(args)
	if err != nil {
		return pipeline.Continue, err
	}
	c.ReportMessage(msg)
	return pipeline.Continue, nil
}

type assertProcessor struct {
	source  string
	program *vm.Program
	message Text
}

func newAssert(v pipeline.Values) (pipeline.TypedProcessor[pipeline.Args], error) {
	source := v.String("condition")
	program, err := expr.Compile(source, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid condition %q: %w", source, err)
	}
	message, err := ParseText("message", v.String("message"))
	if err != nil {
		return nil, err
	}
	return &assertProcessor{source: source, program: program, message: message}, nil
}

func (p *assertProcessor) Process(_ context.Context, args pipeline.Args, c pipeline.Controller) (pipeline.Result, error) {
	env, err := ArgsData(args)
	if err != nil {
		return pipeline.Continue, err
	}
	out, err := expr.Run(p.program, env)
	if err != nil {
		return pipeline.Continue, fmt.Errorf("evaluate %q: %w", p.source, err)
	}
	if ok, _ := out.(bool); ok {
		return pipeline.Continue, nil
	}
	msg, err := p.message.Render(args)
	if err != nil {
		return pipeline.Continue, err
	}
	c.ReportMessage(msg)
	return pipeline.Abort, nil
}

type confirmProcessor struct {
	prompt  Text
	message Text
}

func newConfirm(v pipeline.Values) (pipeline.TypedProcessor[pipeline.Args], error) {
	texts, err := parseTexts(v, "prompt", "message")
	if err != nil {
		return nil, err
	}
	return &confirmProcessor{prompt: texts["prompt"], message: texts["message"]}, nil
}

func (p *confirmProcessor) Process(_ context.Context, args pipeline.Args, c pipeline.Controller) (pipeline.Result, error) {
	prompt, err := p.prompt.Render(args)
	if err != nil {
		return pipeline.Continue, err
	}
	if c.RequestConfirmation(prompt) {
		return pipeline.Continue, nil
	}
	msg, err := p.message.Render(args)
	if err != nil {
		return pipeline.Continue, err
	}
	c.ReportMessage(msg)
	return pipeline.Abort, nil
}

type checkCancelProcessor struct {
	message string
}

func newCheckCancel(v pipeline.Values) (pipeline.TypedProcessor[pipeline.Args], error) {
	return &checkCancelProcessor{message: v.String("message")}, nil
}

func (p *checkCancelProcessor) Process(ctx context.Context, _ pipeline.Args, c pipeline.Controller) (pipeline.Result, error) {
	if c.ShouldAbort() || ctx.Err() != nil {
		c.ReportMessage(p.message)
		return pipeline.Abort, nil
	}
	return pipeline.Continue, nil
}
