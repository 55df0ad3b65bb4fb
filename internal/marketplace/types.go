package marketplace

import "github.com/unattended-backpack/magister/pkg/models"

// offersResponse is the body of GET /bundles.
type offersResponse struct {
	Offers []models.Offer `json:"offers"`
}

// createInstanceRequest is the body of PUT /asks/{offer_id}/: the template
// hash, the "magister" label, the disk size and the onstart script.
type createInstanceRequest struct {
	TemplateHashID string  `json:"template_hash_id"`
	Label          string  `json:"label"`
	Disk           int     `json:"disk"`
	Onstart        *string `json:"onstart"`
}

// createInstanceResponse is the body returned on a successful rent.
type createInstanceResponse struct {
	NewContract uint64 `json:"new_contract"`
}

// instancesResponse is the body of GET /instances.
type instancesResponse struct {
	Instances []struct {
		ID uint64 `json:"id"`
	} `json:"instances"`
}

// RentOutcomeKind discriminates what happened when Rent was called. A
// rate limit is a first-class outcome, never an error (spec.md §4.B).
type RentOutcomeKind int

const (
	RentAccepted RentOutcomeKind = iota
	RentRateLimited
	RentFailed
)

func (k RentOutcomeKind) String() string {
	switch k {
	case RentAccepted:
		return "accepted"
	case RentRateLimited:
		return "rate_limited"
	case RentFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RentOutcome is the result of a Rent call.
type RentOutcome struct {
	Kind       RentOutcomeKind
	InstanceID uint64 // valid only when Kind == RentAccepted
	Reason     string // populated when Kind == RentFailed
}

// DestroyOutcomeKind discriminates a Destroy result.
type DestroyOutcomeKind int

const (
	DestroyOK DestroyOutcomeKind = iota
	DestroyFailed
)

// DestroyOutcome is the result of a Destroy call.
type DestroyOutcome struct {
	Kind   DestroyOutcomeKind
	Reason string
}
