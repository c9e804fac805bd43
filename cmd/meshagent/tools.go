package main

import (
	"fmt"

	"github.com/mcpmesh/agent-sdk-go/pkg/tool"
	"github.com/mcpmesh/agent-sdk-go/pkg/tool/functiontool"
)

// greetArgs is the typed parameter struct functiontool generates the demo
// capability's JSON Schema from.
type greetArgs struct {
	Name string `json:"name" jsonschema:"required,description=Name to greet"`
}

// newGreetTool builds the demo capability meshagent exposes over /mcp,
// going through functiontool.New so schema generation and argument
// marshaling follow the same path any user @Tool method does.
func newGreetTool() tool.CallableTool {
	greetTool, err := functiontool.New(
		functiontool.Config{
			Name:        "greet",
			Description: "Greets the caller by name.",
		},
		func(ctx tool.Context, args greetArgs) (map[string]any, error) {
			name := args.Name
			if name == "" {
				name = "there"
			}
			return map[string]any{"greeting": fmt.Sprintf("Hello, %s!", name)}, nil
		},
	)
	if err != nil {
		panic(fmt.Sprintf("meshagent: failed to build greet tool: %v", err))
	}
	return greetTool
}
