package mcp

import (
	"context"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Names of the prompts registered by [Server.MCPServer].
const (
	PromptVehicleSummary = "vehicle_summary"
	PromptWakeVehicle    = "wake_vehicle"
)

func (s *Server) registerPrompts(server *mcpsdk.Server) {
	server.AddPrompt(&mcpsdk.Prompt{
		Name:        PromptVehicleSummary,
		Description: "Summarize the vehicles on the account",
	}, s.VehicleSummary)
	server.AddPrompt(&mcpsdk.Prompt{
		Name:        PromptWakeVehicle,
		Description: "Wake a vehicle and explain its state",
		Arguments: []*mcpsdk.PromptArgument{{
			Name:        "vehicle",
			Description: "Vehicle id, vehicle_id, VIN, or name",
			Required:    true,
		}},
	}, s.WakeVehicle)
}

func userPrompt(description, text string) *mcpsdk.GetPromptResult {
	return &mcpsdk.GetPromptResult{
		Description: description,
		Messages: []*mcpsdk.PromptMessage{{
			Role:    "user",
			Content: &mcpsdk.TextContent{Text: text},
		}},
	}
}

// VehicleSummary asks the assistant to describe the cached vehicles.
func (s *Server) VehicleSummary(ctx context.Context, req *mcpsdk.GetPromptRequest) (*mcpsdk.GetPromptResult, error) {
	vehicles := s.vehicles.Get(ctx, false)
	var b strings.Builder
	if len(vehicles) == 0 {
		b.WriteString("No vehicles are currently known on my Tesla account. ")
		fmt.Fprintf(&b, "Call the %s tool to check again, then tell me what you find.", ToolRefreshVehicles)
	} else {
		fmt.Fprintf(&b, "These are the vehicles on my Tesla account:\n\n")
		for i := range vehicles {
			v := &vehicles[i]
			fmt.Fprintf(&b, "- %s: VIN %s, state %s, resource %s\n", v.Name(), v.VIN, v.State, VehicleURI(v.ID.String()))
		}
		b.WriteString("\nGive me a short summary of each vehicle. Read the vehicle resources for more detail if needed.")
	}
	return userPrompt("Summary of the vehicles on the account", b.String()), nil
}

// WakeVehicle asks the assistant to wake the named vehicle.
func (s *Server) WakeVehicle(ctx context.Context, req *mcpsdk.GetPromptRequest) (*mcpsdk.GetPromptResult, error) {
	vehicle := strings.TrimSpace(req.Params.Arguments["vehicle"])
	if vehicle == "" {
		return nil, fmt.Errorf("missing required argument: vehicle")
	}
	text := fmt.Sprintf("Wake up my vehicle %q using the %s tool. If the tool doesn't recognize it, "+
		"use %s to find the matching vehicle. Then explain the vehicle's state: a wake up request "+
		"can take up to a minute to bring an asleep vehicle online.", vehicle, ToolWakeUp, ToolDebugVehicles)
	return userPrompt("Wake "+vehicle, text), nil
}
