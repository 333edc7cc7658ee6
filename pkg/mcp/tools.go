package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/teslamotors/fleet-mcp/internal/log"
	"github.com/teslamotors/fleet-mcp/pkg/account"
	"github.com/teslamotors/fleet-mcp/pkg/cache"
)

// Names of the tools registered by [Server.MCPServer].
const (
	ToolWakeUp          = "wake_up"
	ToolRefreshVehicles = "refresh_vehicles"
	ToolDebugVehicles   = "debug_vehicles"
)

// WakeUpInput is the argument of the wake_up tool. VehicleID may be sent as a JSON string or,
// since debug_vehicles reports ids and vehicle_ids as numbers, as a JSON integer.
type WakeUpInput struct {
	VehicleID account.VehicleTag `json:"vehicle_id"`
}

var wakeUpSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"vehicle_id": {
			Types:       []string{"string", "integer"},
			Description: "Vehicle id, numeric vehicle_id, or VIN of the vehicle to wake",
		},
	},
	Required: []string{"vehicle_id"},
}

// vehicleSummary is the per-vehicle entry returned by the debug_vehicles tool.
type vehicleSummary struct {
	ID        string `json:"id"`
	VehicleID int64  `json:"vehicle_id"`
	VIN       string `json:"vin"`
	State     string `json:"state"`
}

func (s *Server) registerTools(server *mcpsdk.Server) {
	mcpsdk.AddTool(
		server,
		&mcpsdk.Tool{
			Name:        ToolWakeUp,
			Description: "Wake up a sleeping vehicle. The vehicle may take up to a minute to come online.",
			InputSchema: wakeUpSchema,
		},
		s.WakeUp,
	)
	mcpsdk.AddTool(
		server,
		&mcpsdk.Tool{Name: ToolRefreshVehicles, Description: "Fetch the latest vehicle list from Tesla, bypassing the cache"},
		s.RefreshVehicles,
	)
	mcpsdk.AddTool(
		server,
		&mcpsdk.Tool{Name: ToolDebugVehicles, Description: "Show the cached identifiers and state of every vehicle"},
		s.DebugVehicles,
	)
}

func describeFailure(err error) string {
	var apiErr *account.APIError
	var regErr *account.RegistrationError
	switch {
	case errors.As(err, &regErr):
		return "the application is not registered with Fleet API: " + regErr.Error()
	case errors.As(err, &apiErr) && apiErr.VehicleUnavailable():
		return "the vehicle is unavailable (offline or unreachable); try again later"
	}
	return err.Error()
}

// WakeUp resolves the requested vehicle against the cache and sends it a wake-up request. The
// result reports the state returned by Fleet API, which is typically not yet "online".
func (s *Server) WakeUp(ctx context.Context, req *mcpsdk.CallToolRequest, in WakeUpInput) (*mcpsdk.CallToolResult, any, error) {
	tag := strings.TrimSpace(in.VehicleID.String())
	if tag == "" {
		return errorResult("vehicle_id is required"), nil, nil
	}
	s.vehicles.Get(ctx, false)
	vehicle, err := s.vehicles.Resolve(tag)
	var notFound *cache.NotFoundError
	if errors.As(err, &notFound) {
		return errorResult("Vehicle %q not found. Use %s to update the vehicle list.", tag, ToolRefreshVehicles), nil, nil
	} else if err != nil {
		return errorResult("Failed to find vehicle %q: %s", tag, err), nil, nil
	}

	log.Info("Waking up %s", vehicle.VIN)
	reported, err := s.waker.WakeUp(ctx, vehicle.ID.String())
	if err != nil {
		log.Warning("Wake up of %s failed: %s", vehicle.VIN, err)
		return errorResult("Failed to wake up %s: %s", vehicle.Name(), describeFailure(err)), nil, nil
	}
	return textResult("Sent wake up request to %s (VIN %s). Current state: %s.", vehicle.Name(), vehicle.VIN, reported.State), nil, nil
}

// RefreshVehicles forces a cache refresh and reports the resulting vehicle list.
func (s *Server) RefreshVehicles(ctx context.Context, req *mcpsdk.CallToolRequest, _ struct{}) (*mcpsdk.CallToolResult, any, error) {
	vehicles, err := s.vehicles.Load(ctx, true)

	var b strings.Builder
	if err != nil {
		fmt.Fprintf(&b, "Refresh failed (%s). Showing %d cached vehicles.\n", describeFailure(err), len(vehicles))
	} else {
		fmt.Fprintf(&b, "Found %d vehicles.\n", len(vehicles))
	}
	for i := range vehicles {
		v := &vehicles[i]
		fmt.Fprintf(&b, "- %s (VIN %s): %s\n", v.Name(), v.VIN, v.State)
	}
	return textResult("%s", strings.TrimRight(b.String(), "\n")), nil, nil
}

// DebugVehicles reports the identifiers of cached vehicles without contacting Fleet API.
func (s *Server) DebugVehicles(ctx context.Context, req *mcpsdk.CallToolRequest, _ struct{}) (*mcpsdk.CallToolResult, any, error) {
	vehicles := s.vehicles.Vehicles()
	summaries := make([]vehicleSummary, 0, len(vehicles))
	for _, v := range vehicles {
		summaries = append(summaries, vehicleSummary{
			ID:        v.ID.String(),
			VehicleID: v.VehicleID,
			VIN:       v.VIN,
			State:     v.State,
		})
	}
	encoded, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return textResult("%s", encoded), nil, nil
}
