package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/teslamotors/fleet-mcp/pkg/mcp"
)

var (
	ErrCommandLineArgs = errors.New("invalid command line arguments")
	ErrUnknownCommand  = errors.New("unrecognized command")
	ErrToolFailed      = errors.New("tool reported an error")
)

type Argument struct {
	name string
	help string
}

type Handler func(ctx context.Context, session *mcpsdk.ClientSession, args map[string]string, extra []string) error

type Command struct {
	help     string
	args     []Argument
	optional []Argument
	// variadic commands accept any number of trailing KEY=VALUE arguments.
	variadic bool
	handler  Handler
}

// parseKeyValues converts KEY=VALUE arguments into a map. Values that parse as JSON numbers,
// booleans, arrays, or objects are passed as such; everything else is a string.
func parseKeyValues(args []string) (map[string]any, error) {
	values := make(map[string]any)
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: expected KEY=VALUE, got %q", ErrCommandLineArgs, arg)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			if _, isString := decoded.(string); !isString {
				values[key] = decoded
				continue
			}
		}
		values[key] = value
	}
	return values, nil
}

// resourceURI accepts either a vehicle id or a complete resource URI.
func resourceURI(arg string) string {
	if strings.Contains(arg, "://") {
		return arg
	}
	return mcp.VehicleURI(arg)
}

func printToolResult(result *mcpsdk.CallToolResult) error {
	for _, content := range result.Content {
		if text, ok := content.(*mcpsdk.TextContent); ok {
			fmt.Println(text.Text)
		}
	}
	if result.IsError {
		return ErrToolFailed
	}
	return nil
}

func callTool(ctx context.Context, session *mcpsdk.ClientSession, name string, arguments map[string]any) error {
	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return err
	}
	return printToolResult(result)
}

func execute(ctx context.Context, session *mcpsdk.ClientSession, args []string) error {
	if len(args) == 0 {
		return errors.New("missing COMMAND")
	}

	info, ok := commands[args[0]]
	if !ok {
		return ErrUnknownCommand
	}

	keywords, extra, err := info.bind(args[1:])
	if err == nil {
		err = info.handler(ctx, session, keywords, extra)
	}

	// Print command-specific help
	if errors.Is(err, ErrCommandLineArgs) {
		info.Usage(args[0])
	}
	return err
}

// bind assigns positional arguments to the names in c.args and c.optional. Remaining arguments are
// returned as extra if c is variadic.
func (c *Command) bind(args []string) (map[string]string, []string, error) {
	if len(args) < len(c.args) || (!c.variadic && len(args) > len(c.args)+len(c.optional)) {
		writeErr("Invalid number of command line arguments: %d (%d required, %d optional).", len(args), len(c.args), len(c.optional))
		return nil, nil, ErrCommandLineArgs
	}
	keywords := make(map[string]string)
	for i, argInfo := range c.args {
		keywords[argInfo.name] = args[i]
	}
	index := len(c.args)
	for _, argInfo := range c.optional {
		if index >= len(args) {
			break
		}
		keywords[argInfo.name] = args[index]
		index++
	}
	return keywords, args[index:], nil
}

func (c *Command) Usage(name string) {
	fmt.Printf("Usage: %s", name)
	maxLength := 0
	for _, arg := range c.args {
		fmt.Printf(" %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Printf(" [")
	}
	for _, arg := range c.optional {
		fmt.Printf(" %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Printf(" ]")
	}
	if c.variadic {
		fmt.Printf(" [KEY=VALUE...]")
	}
	fmt.Printf("\n%s\n", c.help)
	maxLength++
	for _, arg := range c.args {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
	for _, arg := range c.optional {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
}

var commands = map[string]*Command{
	"resources": &Command{
		help: "List vehicle resources",
		handler: func(ctx context.Context, session *mcpsdk.ClientSession, args map[string]string, extra []string) error {
			result, err := session.ListResources(ctx, nil)
			if err != nil {
				return err
			}
			for _, resource := range result.Resources {
				fmt.Printf("%s\t%s\t%s\n", resource.URI, resource.Name, resource.Description)
			}
			return nil
		},
	},
	"read": &Command{
		help: "Print the JSON representation of a vehicle",
		args: []Argument{
			Argument{name: "ID", help: "Vehicle id or resource URI"},
		},
		handler: func(ctx context.Context, session *mcpsdk.ClientSession, args map[string]string, extra []string) error {
			result, err := session.ReadResource(ctx, &mcpsdk.ReadResourceParams{URI: resourceURI(args["ID"])})
			if err != nil {
				return err
			}
			for _, contents := range result.Contents {
				fmt.Println(contents.Text)
			}
			return nil
		},
	},
	"tools": &Command{
		help: "List available tools",
		handler: func(ctx context.Context, session *mcpsdk.ClientSession, args map[string]string, extra []string) error {
			result, err := session.ListTools(ctx, nil)
			if err != nil {
				return err
			}
			for _, tool := range result.Tools {
				fmt.Printf("%s\t%s\n", tool.Name, tool.Description)
			}
			return nil
		},
	},
	"call": &Command{
		help: "Call a tool with KEY=VALUE arguments",
		args: []Argument{
			Argument{name: "TOOL", help: "Tool name"},
		},
		variadic: true,
		handler: func(ctx context.Context, session *mcpsdk.ClientSession, args map[string]string, extra []string) error {
			arguments, err := parseKeyValues(extra)
			if err != nil {
				return err
			}
			return callTool(ctx, session, args["TOOL"], arguments)
		},
	},
	"wake": &Command{
		help: "Wake up a vehicle",
		args: []Argument{
			Argument{name: "VEHICLE", help: "Vehicle id, vehicle_id, or VIN"},
		},
		handler: func(ctx context.Context, session *mcpsdk.ClientSession, args map[string]string, extra []string) error {
			return callTool(ctx, session, mcp.ToolWakeUp, map[string]any{"vehicle_id": args["VEHICLE"]})
		},
	},
	"refresh": &Command{
		help: "Fetch the latest vehicle list",
		handler: func(ctx context.Context, session *mcpsdk.ClientSession, args map[string]string, extra []string) error {
			return callTool(ctx, session, mcp.ToolRefreshVehicles, map[string]any{})
		},
	},
	"prompts": &Command{
		help: "List available prompts",
		handler: func(ctx context.Context, session *mcpsdk.ClientSession, args map[string]string, extra []string) error {
			result, err := session.ListPrompts(ctx, nil)
			if err != nil {
				return err
			}
			for _, prompt := range result.Prompts {
				fmt.Printf("%s\t%s\n", prompt.Name, prompt.Description)
			}
			return nil
		},
	},
	"prompt": &Command{
		help: "Render a prompt with KEY=VALUE arguments",
		args: []Argument{
			Argument{name: "PROMPT", help: "Prompt name"},
		},
		variadic: true,
		handler: func(ctx context.Context, session *mcpsdk.ClientSession, args map[string]string, extra []string) error {
			arguments := make(map[string]string)
			for _, arg := range extra {
				key, value, ok := strings.Cut(arg, "=")
				if !ok || key == "" {
					return fmt.Errorf("%w: expected KEY=VALUE, got %q", ErrCommandLineArgs, arg)
				}
				arguments[key] = value
			}
			result, err := session.GetPrompt(ctx, &mcpsdk.GetPromptParams{Name: args["PROMPT"], Arguments: arguments})
			if err != nil {
				return err
			}
			for _, message := range result.Messages {
				if text, ok := message.Content.(*mcpsdk.TextContent); ok {
					fmt.Printf("[%s]\n%s\n", message.Role, text.Text)
				}
			}
			return nil
		},
	},
}
