package account

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Vehicle states reported by Fleet API.
const (
	StateOnline  = "online"
	StateAsleep  = "asleep"
	StateOffline = "offline"
)

// VehicleTag is the identifier Fleet API uses in vehicle endpoint paths. Fleet API encodes it as a
// JSON number, but some endpoints (and older clients) use a string.
type VehicleTag string

func (t *VehicleTag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = VehicleTag(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid vehicle id %s: %w", data, err)
	}
	*t = VehicleTag(n.String())
	return nil
}

func (t VehicleTag) String() string {
	return string(t)
}

// Vehicle is the vehicle summary returned by Fleet API's vehicle endpoints.
//
// Only the fields below are interpreted. The complete JSON object received from Fleet API is
// retained and returned by MarshalJSON, so telemetry fields this package doesn't know about
// survive a round trip.
type Vehicle struct {
	ID          VehicleTag `json:"id"`
	VehicleID   int64      `json:"vehicle_id"`
	VIN         string     `json:"vin"`
	DisplayName string     `json:"display_name"`
	State       string     `json:"state"`

	raw json.RawMessage
}

type vehicleFields Vehicle

func (v *Vehicle) UnmarshalJSON(data []byte) error {
	var fields vehicleFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*v = Vehicle(fields)
	v.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (v Vehicle) MarshalJSON() ([]byte, error) {
	if len(v.raw) > 0 {
		return v.raw, nil
	}
	return json.Marshal(vehicleFields(v))
}

// Name returns a human-readable label for v.
func (v *Vehicle) Name() string {
	if v.DisplayName != "" {
		return v.DisplayName
	}
	if v.VIN != "" {
		return v.VIN
	}
	return v.ID.String()
}
