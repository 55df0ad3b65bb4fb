// Package models holds the wire and domain types shared across Magister's
// components: offers and bundles from the marketplace, the instances
// Magister rents, and the HTTP responses built from them.
package models

// Offer is a snapshot of a rentable marketplace listing. It is captured at
// rent time and stored inside the Instance record it produced, so that
// `/instances` and `/summary` can display offer details without a second
// marketplace round trip.
//
// The marketplace response carries many more cost/telemetry fields than
// this struct lists; encoding/json silently ignores the rest, satisfying
// the "must tolerate unknown fields" requirement without extra code.
type Offer struct {
	OfferID     uint64  `json:"id"`
	MachineID   uint64  `json:"machine_id"`
	HostID      uint64  `json:"host_id"`
	GPUName     string  `json:"gpu_name"`
	Geolocation string  `json:"geolocation"`
	DPHTotal    float64 `json:"dph_total"`
	Score       float64 `json:"score"`
}

// Instance is a Magister-owned rental, authoritative only inside the
// reconciliation engine (component D). Handlers and tests only ever see
// value copies of it.
type Instance struct {
	InstanceID          uint64 `json:"instance_id"`
	Offer               Offer  `json:"offer"`
	CreatedAt           int64  `json:"created_at"` // unix nanos of the wall clock; no monotonic reading is kept
	ContemplantVerified bool   `json:"contemplant_verified"`
	ShouldDrop          bool   `json:"should_drop"`
}

// InstanceOverview is the per-instance shape reported by /summary.
type InstanceOverview struct {
	InstanceID   uint64  `json:"instance_id"`
	GPU          string  `json:"gpu"`
	Location     string  `json:"location"`
	MachineID    uint64  `json:"machine_id"`
	HostID       uint64  `json:"host_id"`
	CostPerHour  float64 `json:"cost_per_hour"`
}

// SummaryResponse is the body of GET /summary. It excludes instances marked
// should_drop: a draining instance is no longer part of Magister's
// advertised fleet even though it still occupies a table slot.
type SummaryResponse struct {
	TotalCostPerHour float64            `json:"total_cost_per_hour"`
	NumInstances     int                `json:"num_instances"`
	Instances        []InstanceOverview `json:"instances"`
}

// BuildSummary computes a SummaryResponse from a table snapshot.
func BuildSummary(instances []Instance) SummaryResponse {
	resp := SummaryResponse{Instances: make([]InstanceOverview, 0, len(instances))}
	for _, inst := range instances {
		if inst.ShouldDrop {
			continue
		}
		resp.TotalCostPerHour += inst.Offer.DPHTotal
		resp.Instances = append(resp.Instances, InstanceOverview{
			InstanceID:  inst.InstanceID,
			GPU:         inst.Offer.GPUName,
			Location:    inst.Offer.Geolocation,
			MachineID:   inst.Offer.MachineID,
			HostID:      inst.Offer.HostID,
			CostPerHour: inst.Offer.DPHTotal,
		})
	}
	resp.NumInstances = len(resp.Instances)
	return resp
}
