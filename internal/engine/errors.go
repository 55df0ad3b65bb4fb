package engine

import "errors"

// ErrUnknownOffer is returned when a Drop or Verify command names an
// offer_id with no corresponding live instance in the table.
var ErrUnknownOffer = errors.New("no instance holds this offer id")
