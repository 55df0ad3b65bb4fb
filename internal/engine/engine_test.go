package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unattended-backpack/magister/internal/config"
	"github.com/unattended-backpack/magister/internal/marketplace"
	"github.com/unattended-backpack/magister/pkg/models"
)

// fakeClient is a hand-written MarketplaceClient for deterministic
// reconciliation scenarios without any HTTP transport.
type fakeClient struct {
	offers       []models.Offer
	listErr      error
	myInstances  []uint64
	myErr        error
	rentFunc     func(offerID uint64) marketplace.RentOutcome
	destroyFunc  func(instanceID uint64) marketplace.DestroyOutcome
	destroyCalls []uint64
	rentCalls    []uint64
}

func (f *fakeClient) ListOffers(ctx context.Context, q string) ([]models.Offer, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.offers, nil
}

func (f *fakeClient) Rent(ctx context.Context, offerID uint64, templateHashID string, diskGB int, onstart string) marketplace.RentOutcome {
	f.rentCalls = append(f.rentCalls, offerID)
	if f.rentFunc != nil {
		return f.rentFunc(offerID)
	}
	return marketplace.RentOutcome{Kind: marketplace.RentAccepted, InstanceID: offerID + 10000}
}

func (f *fakeClient) Destroy(ctx context.Context, instanceID uint64) marketplace.DestroyOutcome {
	f.destroyCalls = append(f.destroyCalls, instanceID)
	if f.destroyFunc != nil {
		return f.destroyFunc(instanceID)
	}
	return marketplace.DestroyOutcome{Kind: marketplace.DestroyOK}
}

func (f *fakeClient) ListMyInstances(ctx context.Context) ([]uint64, error) {
	if f.myErr != nil {
		return nil, f.myErr
	}
	return f.myInstances, nil
}

func testOffer(id uint64) models.Offer {
	return models.Offer{OfferID: id, HostID: id, MachineID: id, GPUName: "RTX 4090", DPHTotal: 0.5, Score: 1}
}

func testConfig(numberInstances int) config.Config {
	return config.Config{
		Server:      config.ServerConfig{ThisMagisterAddr: "10.0.0.1", HTTPPort: 8555},
		Marketplace: config.MarketplaceConfig{TemplateHash: "abc123", CallBackoffSecs: 1},
		Query:       config.OfferQueryConfig{GPUName: "RTX 4090", AllocatedStorage: 16},
		Reconciler: config.ReconcilerConfig{
			NumberInstances:                numberInstances,
			TaskPollingInterval:             time.Hour, // keep the ticker from firing mid-test
			ContemplantVerificationTimeout:  time.Minute,
			CommandQueueDepth:               10,
		},
	}
}

func newTestEngine(client MarketplaceClient, cfg config.Config) *Engine {
	e := New(client, cfg)
	e.sleep = func(time.Duration) {} // don't actually block tests on backoff
	return e
}

func TestEngine_InitialFill_SeatsTargetSize(t *testing.T) {
	client := &fakeClient{offers: []models.Offer{testOffer(1), testOffer(2), testOffer(3)}}
	e := newTestEngine(client, testConfig(2))

	err := e.Start(context.Background())
	require.NoError(t, err)
	defer e.Stop()

	snapshot, err := e.GetAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, snapshot, 2)
}

func TestEngine_InitialFill_FailsWhenUnderfilled(t *testing.T) {
	client := &fakeClient{
		offers: []models.Offer{testOffer(1)},
		rentFunc: func(offerID uint64) marketplace.RentOutcome {
			return marketplace.RentOutcome{Kind: marketplace.RentFailed, Reason: "no capacity"}
		},
	}
	e := newTestEngine(client, testConfig(3))

	err := e.Start(context.Background())
	assert.Error(t, err)
}

func TestEngine_Drop_UnknownOffer(t *testing.T) {
	client := &fakeClient{}
	e := newTestEngine(client, testConfig(0))
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	_, err := e.Drop(context.Background(), 999, "test")
	assert.ErrorIs(t, err, ErrUnknownOffer)
}

func TestEngine_Drop_MarksInstanceForRemoval(t *testing.T) {
	client := &fakeClient{offers: []models.Offer{testOffer(1)}}
	e := newTestEngine(client, testConfig(1))
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	instanceID, err := e.Drop(context.Background(), 1, "manual")
	require.NoError(t, err)
	assert.NotZero(t, instanceID)

	snapshot, err := e.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	assert.True(t, snapshot[0].ShouldDrop)
}

func TestBuildOnstart_JoinsAddrAndPortSeparately(t *testing.T) {
	server := config.ServerConfig{ThisMagisterAddr: "10.0.0.1", HTTPPort: 8555}
	got := buildOnstart(server, 42)
	assert.Equal(t, "export MAGISTER_DROP_ENDPOINT=http://10.0.0.1:8555/drop/42", got)
}

func TestEngine_Drop_SecondCallIsNoOp(t *testing.T) {
	client := &fakeClient{offers: []models.Offer{testOffer(1)}}
	e := newTestEngine(client, testConfig(1))
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	first, err := e.Drop(context.Background(), 1, "manual")
	require.NoError(t, err)

	second, err := e.Drop(context.Background(), 1, "manual again")
	require.NoError(t, err)
	assert.Equal(t, first, second, "dropping the same offer twice must resolve to the same instance")

	snapshot, err := e.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot, 1, "a repeated drop must not duplicate or remove table entries")
	assert.True(t, snapshot[0].ShouldDrop)
}

func TestEngine_Verify_UnknownOffer(t *testing.T) {
	client := &fakeClient{}
	e := newTestEngine(client, testConfig(0))
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	err := e.Verify(context.Background(), 42)
	assert.ErrorIs(t, err, ErrUnknownOffer)
}

func TestEngine_Verify_MarksInstanceVerified(t *testing.T) {
	client := &fakeClient{offers: []models.Offer{testOffer(1)}}
	e := newTestEngine(client, testConfig(1))
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	require.NoError(t, e.Verify(context.Background(), 1))

	snapshot, err := e.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	assert.True(t, snapshot[0].ContemplantVerified)
}

// The remaining tests drive tick() or one of its steps directly
// (white-box, same package) so each reconciliation step can be exercised
// in isolation without racing the command loop.

func TestTick_RemovesZombies(t *testing.T) {
	client := &fakeClient{myInstances: []uint64{}}
	e := newTestEngine(client, testConfig(0))
	e.instances[1] = models.Instance{InstanceID: 1, Offer: testOffer(1), CreatedAt: e.now().UnixNano()}

	e.tick(context.Background())

	assert.Empty(t, e.instances)
	assert.Empty(t, client.destroyCalls, "zombies are dropped locally, never destroyed")
}

func TestTick_KeepsInstancesStillKnownToMarketplace(t *testing.T) {
	client := &fakeClient{myInstances: []uint64{1}}
	e := newTestEngine(client, testConfig(0))
	e.instances[1] = models.Instance{InstanceID: 1, Offer: testOffer(1), ContemplantVerified: true, CreatedAt: e.now().UnixNano()}

	e.tick(context.Background())

	assert.Contains(t, e.instances, uint64(1))
}

func TestTick_MarksUnverifiedInstancePastDeadlineForDrop(t *testing.T) {
	client := &fakeClient{myInstances: []uint64{1}}
	e := newTestEngine(client, testConfig(0))
	stale := e.now().Add(-time.Hour)
	e.now = func() time.Time { return stale.Add(time.Hour + time.Minute) }
	e.instances[1] = models.Instance{InstanceID: 1, Offer: testOffer(1), CreatedAt: stale.UnixNano()}

	e.enforceVerificationDeadlines(context.Background())

	assert.True(t, e.instances[1].ShouldDrop)
}

func TestTick_DestroysInstancesMarkedShouldDrop(t *testing.T) {
	client := &fakeClient{}
	e := newTestEngine(client, testConfig(0))
	e.instances[1] = models.Instance{InstanceID: 1, Offer: testOffer(1), ShouldDrop: true}

	e.destroyPass(context.Background())

	assert.NotContains(t, e.instances, uint64(1))
	assert.Equal(t, []uint64{1}, client.destroyCalls)
}

func TestTick_FailedDestroyStaysInTableForRetry(t *testing.T) {
	client := &fakeClient{
		destroyFunc: func(instanceID uint64) marketplace.DestroyOutcome {
			return marketplace.DestroyOutcome{Kind: marketplace.DestroyFailed, Reason: "timeout"}
		},
	}
	e := newTestEngine(client, testConfig(0))
	e.instances[1] = models.Instance{InstanceID: 1, Offer: testOffer(1), ShouldDrop: true}

	e.destroyPass(context.Background())

	require.Contains(t, e.instances, uint64(1))
	assert.True(t, e.instances[1].ShouldDrop)
}

func TestRefill_BacksOffLinearlyOnRateLimit(t *testing.T) {
	calls := 0
	client := &fakeClient{
		offers: []models.Offer{testOffer(1), testOffer(2), testOffer(3)},
		rentFunc: func(offerID uint64) marketplace.RentOutcome {
			calls++
			if calls <= 2 {
				return marketplace.RentOutcome{Kind: marketplace.RentRateLimited}
			}
			return marketplace.RentOutcome{Kind: marketplace.RentAccepted, InstanceID: offerID + 10000}
		},
	}
	e := newTestEngine(client, testConfig(1))

	var slept []time.Duration
	e.sleep = func(d time.Duration) { slept = append(slept, d) }

	e.refill(context.Background())

	require.Len(t, slept, 2)
	assert.Equal(t, time.Second, slept[0])
	assert.Equal(t, 2*time.Second, slept[1])
	assert.Len(t, e.instances, 1)
}

func TestRefill_RetriesSameOfferAfterRateLimit(t *testing.T) {
	calls := 0
	client := &fakeClient{
		offers: []models.Offer{testOffer(5), testOffer(6)},
		rentFunc: func(offerID uint64) marketplace.RentOutcome {
			calls++
			if calls == 1 {
				return marketplace.RentOutcome{Kind: marketplace.RentRateLimited}
			}
			return marketplace.RentOutcome{Kind: marketplace.RentAccepted, InstanceID: offerID + 10000}
		},
	}
	e := newTestEngine(client, testConfig(1))

	e.refill(context.Background())

	require.Len(t, client.rentCalls, 2)
	assert.Equal(t, []uint64{5, 5}, client.rentCalls, "a rate-limited outcome must retry the same offer, not advance")
}

func TestRefill_StopsOnceTargetSizeReached(t *testing.T) {
	client := &fakeClient{offers: []models.Offer{testOffer(1), testOffer(2), testOffer(3)}}
	e := newTestEngine(client, testConfig(2))

	e.refill(context.Background())

	assert.Len(t, e.instances, 2)
	assert.Len(t, client.rentCalls, 2)
}

func TestRefill_NoOpWhenTableAlreadyAtTarget(t *testing.T) {
	client := &fakeClient{offers: []models.Offer{testOffer(1)}}
	e := newTestEngine(client, testConfig(1))
	e.instances[1] = models.Instance{InstanceID: 1, Offer: testOffer(1)}

	e.refill(context.Background())

	assert.Empty(t, client.rentCalls)
}
