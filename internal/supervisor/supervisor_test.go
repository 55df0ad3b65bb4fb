package supervisor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/unattended-backpack/magister/internal/api"
	"github.com/unattended-backpack/magister/internal/config"
	"github.com/unattended-backpack/magister/internal/engine"
	"github.com/unattended-backpack/magister/internal/marketplace"
	"github.com/unattended-backpack/magister/pkg/models"
)

type stubClient struct{}

func (stubClient) ListOffers(ctx context.Context, q string) ([]models.Offer, error) {
	return nil, nil
}
func (stubClient) Rent(ctx context.Context, offerID uint64, templateHashID string, diskGB int, onstart string) marketplace.RentOutcome {
	return marketplace.RentOutcome{Kind: marketplace.RentFailed}
}
func (stubClient) Destroy(ctx context.Context, instanceID uint64) marketplace.DestroyOutcome {
	return marketplace.DestroyOutcome{Kind: marketplace.DestroyOK}
}
func (stubClient) ListMyInstances(ctx context.Context) ([]uint64, error) {
	return nil, nil
}

func TestRun_ReturnsErrorWhenInitialFillFails(t *testing.T) {
	eng := engine.New(stubClient{}, config.Config{
		Reconciler: config.ReconcilerConfig{NumberInstances: 1, TaskPollingInterval: time.Hour},
	})
	server := api.New(eng, api.WithPort(0))
	sup := New(eng, server, slog.Default())

	err := sup.Run(context.Background())

	assert.Error(t, err)
}

func TestRun_ShutsDownCleanlyOnContextCancel(t *testing.T) {
	eng := engine.New(stubClient{}, config.Config{
		Reconciler: config.ReconcilerConfig{NumberInstances: 0, TaskPollingInterval: time.Hour},
	})
	server := api.New(eng, api.WithPort(0))
	sup := New(eng, server, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
