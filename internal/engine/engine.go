// Package engine implements the Reconciliation Engine (component D): the
// single-writer actor that owns the in-memory instance table and drives
// every state transition through an ordered Tick pass. All table access
// is serialized through a single goroutine reading from a bounded command
// channel; no mutex guards the table because nothing but that goroutine
// ever touches it.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/unattended-backpack/magister/internal/config"
	"github.com/unattended-backpack/magister/internal/logging"
	"github.com/unattended-backpack/magister/internal/marketplace"
	"github.com/unattended-backpack/magister/internal/metrics"
	"github.com/unattended-backpack/magister/internal/offerfilter"
	"github.com/unattended-backpack/magister/internal/query"
	"github.com/unattended-backpack/magister/pkg/models"
)

// MarketplaceClient is the subset of *marketplace.Client the engine
// depends on. Declared here, consumed there, so tests can swap in a fake
// without touching the real HTTP client.
type MarketplaceClient interface {
	ListOffers(ctx context.Context, q string) ([]models.Offer, error)
	Rent(ctx context.Context, offerID uint64, templateHashID string, diskGB int, onstart string) marketplace.RentOutcome
	Destroy(ctx context.Context, instanceID uint64) marketplace.DestroyOutcome
	ListMyInstances(ctx context.Context) ([]uint64, error)
}

// Engine is the reconciliation engine. Zero value is not usable; build
// one with New.
type Engine struct {
	client MarketplaceClient
	cfg    config.Config

	cmdCh  chan any
	stopCh chan struct{}
	doneCh chan struct{}

	instances map[uint64]models.Instance

	now   func() time.Time
	sleep func(time.Duration)
}

// New builds an Engine. It does not start the command loop; call Start.
func New(client MarketplaceClient, cfg config.Config) *Engine {
	depth := cfg.Reconciler.CommandQueueDepth
	if depth <= 0 {
		depth = 100
	}
	return &Engine{
		client:    client,
		cfg:       cfg,
		cmdCh:     make(chan any, depth),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		instances: make(map[uint64]models.Instance),
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// Start runs the command loop and the tick ticker in a background
// goroutine. It blocks until the initial fill completes so callers (the
// supervisor) can fail startup synchronously if the fleet can't reach
// its target size, then returns.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.initialFill(ctx); err != nil {
		return err
	}

	go e.run(ctx)
	return nil
}

// Stop signals the command loop to exit and waits for it to drain.
func (e *Engine) Stop() {
	close(e.stopCh)
	<-e.doneCh
}

// Drop enqueues a drop command for the instance whose offer_id matches
// and waits for it to be processed, returning the instance_id it marked.
func (e *Engine) Drop(ctx context.Context, offerID uint64, reason string) (uint64, error) {
	reply := make(chan dropResult, 1)
	cmd := dropCommand{OfferID: offerID, Reason: reason, Reply: reply}

	select {
	case e.cmdCh <- cmd:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case res := <-reply:
		return res.InstanceID, res.Err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Verify enqueues a verify command marking the instance holding offerID
// as contemplant-verified.
func (e *Engine) Verify(ctx context.Context, offerID uint64) error {
	reply := make(chan error, 1)
	cmd := verifyCommand{OfferID: offerID, Reply: reply}

	select {
	case e.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetAll enqueues a request for a snapshot of the instance table.
func (e *Engine) GetAll(ctx context.Context) ([]models.Instance, error) {
	reply := make(chan []models.Instance, 1)
	cmd := getAllCommand{Reply: reply}

	select {
	case e.cmdCh <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case snapshot := <-reply:
		return snapshot, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run is the single-writer loop: every command, including tick, passes
// through this one goroutine so the table never needs a lock.
func (e *Engine) run(ctx context.Context) {
	defer close(e.doneCh)

	interval := e.cfg.Reconciler.TaskPollingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		metrics.CommandQueueDepth.Set(float64(len(e.cmdCh)))

		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		case cmd := <-e.cmdCh:
			e.handle(ctx, cmd)
		}
	}
}

func (e *Engine) handle(ctx context.Context, cmd any) {
	switch c := cmd.(type) {
	case dropCommand:
		e.handleDrop(ctx, c)
	case verifyCommand:
		e.handleVerify(ctx, c)
	case getAllCommand:
		c.Reply <- e.snapshot()
	}
}

func (e *Engine) handleDrop(ctx context.Context, c dropCommand) {
	id, ok := e.findByOffer(c.OfferID)
	if !ok {
		c.Reply <- dropResult{Err: ErrUnknownOffer}
		return
	}
	inst := e.instances[id]
	inst.ShouldDrop = true
	e.instances[id] = inst
	logging.Audit(ctx, "instance_marked_for_drop", "instance_id", id, "offer_id", c.OfferID, "reason", c.Reason)
	c.Reply <- dropResult{InstanceID: id}
}

func (e *Engine) handleVerify(ctx context.Context, c verifyCommand) {
	id, ok := e.findByOffer(c.OfferID)
	if !ok {
		c.Reply <- ErrUnknownOffer
		return
	}
	inst := e.instances[id]
	inst.ContemplantVerified = true
	e.instances[id] = inst
	logging.Audit(ctx, "instance_verified", "instance_id", id, "offer_id", c.OfferID)
	c.Reply <- nil
}

func (e *Engine) findByOffer(offerID uint64) (uint64, bool) {
	for id, inst := range e.instances {
		if inst.Offer.OfferID == offerID {
			return id, true
		}
	}
	return 0, false
}

func (e *Engine) snapshot() []models.Instance {
	out := make([]models.Instance, 0, len(e.instances))
	for _, inst := range e.instances {
		out = append(out, inst)
	}
	return out
}

// initialFill runs one synchronous refill pass before the engine starts
// accepting commands, so the supervisor can refuse to come up if the
// marketplace can't seat the configured fleet size.
func (e *Engine) initialFill(ctx context.Context) error {
	e.refill(ctx)
	if len(e.instances) < e.cfg.Reconciler.NumberInstances {
		return fmt.Errorf("initial fill seated %d/%d instances", len(e.instances), e.cfg.Reconciler.NumberInstances)
	}
	return nil
}

// tick runs the four-step reconciliation pass in the fixed order
// zombies -> verification deadlines -> destroys -> refill. Each step
// only ever sees state left behind by the step before it.
func (e *Engine) tick(ctx context.Context) {
	start := e.now()
	defer func() {
		metrics.TickDuration.Observe(e.now().Sub(start).Seconds())
	}()

	e.reconcileZombies(ctx)
	e.enforceVerificationDeadlines(ctx)
	e.destroyPass(ctx)
	e.refill(ctx)

	metrics.InstancesTotal.Set(float64(len(e.instances)))
}

// reconcileZombies removes any locally-held instance the marketplace no
// longer reports as ours, without calling Destroy on it: there's nothing
// left there to destroy.
func (e *Engine) reconcileZombies(ctx context.Context) {
	known, err := e.client.ListMyInstances(ctx)
	if err != nil {
		logging.Warn(ctx, "zombie reconciliation: list_my_instances failed", "error", err.Error())
		return
	}

	live := make(map[uint64]struct{}, len(known))
	for _, id := range known {
		live[id] = struct{}{}
	}

	for id := range e.instances {
		if _, ok := live[id]; ok {
			continue
		}
		inst := e.instances[id]
		delete(e.instances, id)
		metrics.ZombiesRemoved.Inc()
		logging.Audit(ctx, "zombie_removed", "instance_id", id, "offer_id", inst.Offer.OfferID)
	}
}

// enforceVerificationDeadlines marks any instance that hasn't been
// verified by a Contemplant callback within the configured timeout for
// drop on the next step.
func (e *Engine) enforceVerificationDeadlines(ctx context.Context) {
	deadline := e.cfg.Reconciler.ContemplantVerificationTimeout
	if deadline <= 0 {
		return
	}

	for id, inst := range e.instances {
		if inst.ContemplantVerified || inst.ShouldDrop {
			continue
		}
		age := e.now().Sub(time.Unix(0, inst.CreatedAt))
		if age < deadline {
			continue
		}
		inst.ShouldDrop = true
		e.instances[id] = inst
		logging.Audit(ctx, "verification_deadline_exceeded", "instance_id", id, "offer_id", inst.Offer.OfferID)
	}
}

// destroyPass calls Destroy for every instance marked should_drop,
// removing it from the table on success. A failed destroy stays in the
// table, still marked should_drop, to be retried on the next tick.
func (e *Engine) destroyPass(ctx context.Context) {
	for id, inst := range e.instances {
		if !inst.ShouldDrop {
			continue
		}

		outcome := e.client.Destroy(ctx, id)
		metrics.RecordDestroy(destroyOutcomeLabel(outcome))

		if outcome.Kind != marketplace.DestroyOK {
			logging.Warn(ctx, "destroy failed, retrying next tick",
				"instance_id", id, "offer_id", inst.Offer.OfferID, "reason", outcome.Reason)
			continue
		}

		delete(e.instances, id)
		logging.Audit(ctx, "instance_destroyed", "instance_id", id, "offer_id", inst.Offer.OfferID)
	}
}

// refill rents offers until the table reaches the configured fleet size
// or the offer list is exhausted. Consecutive rate-limited outcomes back
// off linearly (base, 2*base, 3*base, ...); any non-rate-limited outcome
// resets the multiplier.
func (e *Engine) refill(ctx context.Context) {
	need := e.cfg.Reconciler.NumberInstances - len(e.instances)
	if need <= 0 {
		return
	}

	q := query.Build(e.cfg.Query)
	offers, err := e.client.ListOffers(ctx, q)
	if err != nil {
		logging.Warn(ctx, "refill: list_offers failed", "error", err.Error())
		return
	}

	offers = offerfilter.Filter(
		offers,
		offerfilter.NewIDSet(e.cfg.Lists.BadHosts),
		offerfilter.NewIDSet(e.cfg.Lists.BadMachines),
		offerfilter.NewIDSet(e.cfg.Lists.GoodHosts),
		offerfilter.NewIDSet(e.cfg.Lists.GoodMachines),
	)

	base := time.Duration(e.cfg.Marketplace.CallBackoffSecs) * time.Second
	backoffMultiplier := 1

	// Index-based, not range-based: a rate-limited outcome retries the
	// same offer (the marketplace rate-limits the caller, not the offer),
	// so the index only advances on accepted or failed outcomes.
	for i := 0; need > 0 && i < len(offers); {
		offer := offers[i]

		onstart := buildOnstart(e.cfg.Server, offer.OfferID)
		outcome := e.client.Rent(ctx, offer.OfferID, e.cfg.Marketplace.TemplateHash, e.cfg.Query.AllocatedStorage, onstart)
		metrics.RecordRent(rentOutcomeLabel(outcome))

		switch outcome.Kind {
		case marketplace.RentAccepted:
			e.instances[outcome.InstanceID] = models.Instance{
				InstanceID: outcome.InstanceID,
				Offer:      offer,
				CreatedAt:  e.now().UnixNano(),
			}
			logging.Audit(ctx, "instance_rented", "instance_id", outcome.InstanceID, "offer_id", offer.OfferID)
			need--
			backoffMultiplier = 1
			i++

		case marketplace.RentRateLimited:
			wait := base * time.Duration(backoffMultiplier)
			metrics.RateLimitBackoffSeconds.Add(wait.Seconds())
			logging.Warn(ctx, "rent rate limited, backing off", "offer_id", offer.OfferID, "backoff", wait.String())
			e.sleep(wait)
			backoffMultiplier++

		case marketplace.RentFailed:
			logging.Warn(ctx, "rent failed", "offer_id", offer.OfferID, "reason", outcome.Reason)
			backoffMultiplier = 1
			i++
		}
	}
}

func buildOnstart(server config.ServerConfig, offerID uint64) string {
	return fmt.Sprintf("export MAGISTER_DROP_ENDPOINT=http://%s:%d/drop/%d", server.ThisMagisterAddr, server.HTTPPort, offerID)
}

func rentOutcomeLabel(o marketplace.RentOutcome) string { return o.Kind.String() }

func destroyOutcomeLabel(o marketplace.DestroyOutcome) string {
	if o.Kind == marketplace.DestroyOK {
		return "ok"
	}
	return "failed"
}
