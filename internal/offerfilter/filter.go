// Package offerfilter implements the Offer Filter (component C): drop
// blacklisted offers, then stable-sort allowlisted offers first while
// preserving marketplace score order within each bucket.
package offerfilter

import (
	"sort"

	"github.com/unattended-backpack/magister/pkg/models"
)

// IDSet is a lookup set of marketplace host/machine ids.
type IDSet map[uint64]struct{}

// NewIDSet builds an IDSet from a slice, nil-safe.
func NewIDSet(ids []uint64) IDSet {
	set := make(IDSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (s IDSet) has(id uint64) bool {
	_, ok := s[id]
	return ok
}

// Filter drops any offer whose host_id is in badHosts or machine_id is in
// badMachines, then stable-sorts the survivors so that offers whose
// host_id is in goodHosts or machine_id is in goodMachines come first,
// preserving the marketplace's score-descending order within each bucket.
func Filter(offers []models.Offer, badHosts, badMachines, goodHosts, goodMachines IDSet) []models.Offer {
	survivors := make([]models.Offer, 0, len(offers))
	for _, o := range offers {
		if badHosts.has(o.HostID) || badMachines.has(o.MachineID) {
			continue
		}
		survivors = append(survivors, o)
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		return isAllowlisted(survivors[i], goodHosts, goodMachines) &&
			!isAllowlisted(survivors[j], goodHosts, goodMachines)
	})

	return survivors
}

func isAllowlisted(o models.Offer, goodHosts, goodMachines IDSet) bool {
	return goodHosts.has(o.HostID) || goodMachines.has(o.MachineID)
}
