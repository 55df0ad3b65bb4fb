package engine

import "github.com/unattended-backpack/magister/pkg/models"

// dropResult is the reply to a dropCommand.
type dropResult struct {
	InstanceID uint64
	Err        error // ErrUnknownOffer if no live instance has this offer id
}

type dropCommand struct {
	OfferID uint64
	Reason  string
	Reply   chan dropResult
}

type verifyCommand struct {
	OfferID uint64
	Reply   chan error // ErrUnknownOffer if no live instance has this offer id
}

type getAllCommand struct {
	Reply chan []models.Instance
}
