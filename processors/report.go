package processors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"

	"github.com/GoCodeAlone/provision/pipeline"
)

func registerReport(r *pipeline.ProcessorRegistry) {
	pipeline.RegisterProcessor[pipeline.Args](r, "report", pipeline.Schema{
		{Name: "query", Kind: pipeline.KindString, Required: true, Description: "jq expression over the args"},
	}, newReport, pipeline.WithDescription("Report the results of a jq query over the args"))
}

type report struct {
	expression string
	query      *gojq.Code
}

func newReport(v pipeline.Values) (pipeline.TypedProcessor[pipeline.Args], error) {
	expression := v.String("query")
	parsed, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid query %q: %w", expression, err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("failed to compile query %q: %w", expression, err)
	}
	return &report{expression: expression, query: code}, nil
}

func (p *report) Process(ctx context.Context, args pipeline.Args, c pipeline.Controller) (pipeline.Result, error) {
	input, err := ArgsData(args)
	if err != nil {
		return pipeline.Continue, err
	}
	iter := p.query.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if haltErr, ok := err.(*gojq.HaltError); ok && haltErr.Value() == nil {
				break
			}
			return pipeline.Continue, fmt.Errorf("query %q: %w", p.expression, err)
		}
		c.ReportMessage(formatResult(v))
	}
	return pipeline.Continue, nil
}

func formatResult(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
