package offerfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unattended-backpack/magister/pkg/models"
)

func offer(id, hostID, machineID uint64, score float64) models.Offer {
	return models.Offer{OfferID: id, HostID: hostID, MachineID: machineID, Score: score}
}

func TestFilter_DropsBlacklisted(t *testing.T) {
	offers := []models.Offer{
		offer(1, 10, 100, 5),
		offer(2, 11, 101, 4),
		offer(3, 12, 102, 3),
	}

	out := Filter(offers, NewIDSet([]uint64{11}), NewIDSet(nil), nil, nil)

	ids := idsOf(out)
	assert.NotContains(t, ids, uint64(2))
	assert.ElementsMatch(t, []uint64{1, 3}, ids)
}

func TestFilter_DropsBlacklistedMachine(t *testing.T) {
	offers := []models.Offer{
		offer(1, 10, 100, 5),
		offer(2, 11, 101, 4),
	}

	out := Filter(offers, nil, NewIDSet([]uint64{101}), nil, nil)

	assert.ElementsMatch(t, []uint64{1}, idsOf(out))
}

func TestFilter_AllowlistedFirstPreservesScoreOrder(t *testing.T) {
	// Marketplace already returns score-desc order: 1,2,3,4.
	offers := []models.Offer{
		offer(1, 10, 100, 10), // not allowlisted
		offer(2, 20, 200, 9),  // allowlisted host
		offer(3, 30, 300, 8),  // not allowlisted
		offer(4, 40, 400, 7),  // allowlisted machine
	}

	out := Filter(offers, nil, nil, NewIDSet([]uint64{20}), NewIDSet([]uint64{400}))

	assert.Equal(t, []uint64{2, 4, 1, 3}, idsOf(out))
}

func TestFilter_NoBlacklistsOrAllowlists_PreservesOrder(t *testing.T) {
	offers := []models.Offer{
		offer(1, 10, 100, 10),
		offer(2, 20, 200, 9),
	}

	out := Filter(offers, nil, nil, nil, nil)

	assert.Equal(t, []uint64{1, 2}, idsOf(out))
}

func idsOf(offers []models.Offer) []uint64 {
	ids := make([]uint64, len(offers))
	for i, o := range offers {
		ids[i] = o.OfferID
	}
	return ids
}
