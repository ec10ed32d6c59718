package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/edgebot/internal/domain"
)

// stubStrategy lets each test script scan and execute behavior.
type stubStrategy struct {
	name   string
	scanFn func(ctx context.Context) ([]*domain.Opportunity, error)
	execFn func(ctx context.Context, opp *domain.Opportunity) (domain.TradeResult, error)

	executed []string // opportunity IDs in execution order
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Type() domain.OpportunityType { return domain.TypeCrossMarket }

func (s *stubStrategy) Scan(ctx context.Context) ([]*domain.Opportunity, error) {
	return s.scanFn(ctx)
}

func (s *stubStrategy) Execute(ctx context.Context, opp *domain.Opportunity) (domain.TradeResult, error) {
	s.executed = append(s.executed, opp.ID)
	if s.execFn != nil {
		return s.execFn(ctx, opp)
	}
	return domain.TradeResult{OpportunityID: opp.ID, Success: true, PnL: opp.ExpectedProfit}, nil
}

// recordingSink captures every published event.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingSink) Publish(ctx context.Context, e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) byType(t domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func testOpp(id string, profit float64) *domain.Opportunity {
	return &domain.Opportunity{
		ID:             id,
		Type:           domain.TypeCrossMarket,
		Legs:           []domain.Leg{{MarketID: "m1", TokenID: "t-" + id, Side: domain.SideBuy, Price: 0.5, Size: 200}},
		ExpectedProfit: profit,
		Confidence:     0.9,
		Status:         domain.StatusPending,
		ExpiresAt:      time.Now().Add(time.Minute),
		CreatedAt:      time.Now(),
		Metadata:       map[string]float64{},
	}
}

// testRunner wires a stub with a deterministic sizer: 10% of 1000 at
// price 0.5 → 200 shares, matching testOpp's leg size so ApplySize is a
// no-op for expected profits.
func testRunner(stub *stubStrategy, sink *recordingSink) *Runner {
	cfg := Config{Enabled: true, Capital: 1000, MaxFraction: 0.25, MinSize: 1}
	return NewRunner(stub, cfg, &domain.FixedFractionSizer{Fraction: 0.1}, sink)
}

func startedRunner(t *testing.T, stub *stubStrategy, sink *recordingSink) *Runner {
	t.Helper()
	r := testRunner(stub, sink)
	r.Start(context.Background())
	return r
}

// --- Lifecycle ---

func TestRunner_NoopWhenNotStarted(t *testing.T) {
	scans := 0
	stub := &stubStrategy{name: "s", scanFn: func(ctx context.Context) ([]*domain.Opportunity, error) {
		scans++
		return nil, nil
	}}
	r := testRunner(stub, &recordingSink{})

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 0, scans)
}

func TestRunner_NoopWhenDisabled(t *testing.T) {
	scans := 0
	stub := &stubStrategy{name: "s", scanFn: func(ctx context.Context) ([]*domain.Opportunity, error) {
		scans++
		return nil, nil
	}}
	sink := &recordingSink{}
	r := startedRunner(t, stub, sink)

	cfg := r.Config()
	cfg.Enabled = false
	r.UpdateConfig(cfg)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 0, scans)
}

func TestRunner_StartStopEventsAndIdempotency(t *testing.T) {
	stub := &stubStrategy{name: "s", scanFn: func(ctx context.Context) ([]*domain.Opportunity, error) {
		return nil, nil
	}}
	sink := &recordingSink{}
	r := testRunner(stub, sink)
	ctx := context.Background()

	r.Start(ctx)
	r.Start(ctx) // second start is a no-op
	assert.True(t, r.IsRunning())
	assert.Len(t, sink.byType(domain.EventStarted), 1)

	r.Stop(ctx)
	r.Stop(ctx)
	assert.False(t, r.IsRunning())
	assert.Len(t, sink.byType(domain.EventStopped), 1)
}

func TestRunner_OverlappingRunSkipped(t *testing.T) {
	var scans atomic.Int32
	scanStarted := make(chan struct{})
	release := make(chan struct{})
	stub := &stubStrategy{name: "s", scanFn: func(ctx context.Context) ([]*domain.Opportunity, error) {
		scans.Add(1)
		close(scanStarted)
		<-release
		return nil, nil
	}}
	r := startedRunner(t, stub, &recordingSink{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = r.Run(context.Background())
	}()

	<-scanStarted
	require.NoError(t, r.Run(context.Background())) // overlaps → skipped
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), scans.Load())
}

// --- Scan handling ---

func TestRunner_ScanErrorIsReturned(t *testing.T) {
	stub := &stubStrategy{name: "s", scanFn: func(ctx context.Context) ([]*domain.Opportunity, error) {
		return nil, errors.New("feed down")
	}}
	r := startedRunner(t, stub, &recordingSink{})

	err := r.Run(context.Background())
	assert.ErrorContains(t, err, "feed down")
}

func TestRunner_EmptyScanEndsCycle(t *testing.T) {
	stub := &stubStrategy{name: "s", scanFn: func(ctx context.Context) ([]*domain.Opportunity, error) {
		return nil, nil
	}}
	sink := &recordingSink{}
	r := startedRunner(t, stub, sink)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 0, r.Stats().OpportunitiesFound)
	assert.Empty(t, sink.byType(domain.EventOpportunityFound))
}

func TestRunner_FoundStatAndEvents(t *testing.T) {
	stub := &stubStrategy{name: "s", scanFn: func(ctx context.Context) ([]*domain.Opportunity, error) {
		return []*domain.Opportunity{testOpp("a", 5), testOpp("b", 3)}, nil
	}}
	sink := &recordingSink{}
	r := startedRunner(t, stub, sink)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 2, r.Stats().OpportunitiesFound)
	assert.Len(t, sink.byType(domain.EventOpportunityFound), 2)
}

// --- Filtering and ranking ---

func TestRunner_FiltersInvalidAndUnprofitable(t *testing.T) {
	stale := testOpp("stale", 10)
	stale.ExpiresAt = time.Now().Add(-time.Second)
	flat := testOpp("flat", 0)
	good := testOpp("good", 2)

	stub := &stubStrategy{name: "s", scanFn: func(ctx context.Context) ([]*domain.Opportunity, error) {
		return []*domain.Opportunity{stale, flat, good}, nil
	}}
	r := startedRunner(t, stub, &recordingSink{})

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"good"}, stub.executed)
}

func TestRunner_ExecutesInDescendingProfitOrder(t *testing.T) {
	stub := &stubStrategy{name: "s", scanFn: func(ctx context.Context) ([]*domain.Opportunity, error) {
		return []*domain.Opportunity{testOpp("small", 1), testOpp("big", 9), testOpp("mid", 4)}, nil
	}}
	r := startedRunner(t, stub, &recordingSink{})

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"big", "mid", "small"}, stub.executed)
}

func TestRunner_StableSortKeepsScanOrderOnTies(t *testing.T) {
	stub := &stubStrategy{name: "s", scanFn: func(ctx context.Context) ([]*domain.Opportunity, error) {
		return []*domain.Opportunity{testOpp("first", 5), testOpp("second", 5), testOpp("third", 5)}, nil
	}}
	r := startedRunner(t, stub, &recordingSink{})

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"first", "second", "third"}, stub.executed)
}

// --- Per-opportunity processing ---

func TestRunner_SecondOpportunityFailureDoesNotBlockSiblings(t *testing.T) {
	o1, o2, o3 := testOpp("one", 9), testOpp("two", 5), testOpp("three", 1)
	stub := &stubStrategy{name: "s", scanFn: func(ctx context.Context) ([]*domain.Opportunity, error) {
		return []*domain.Opportunity{o1, o2, o3}, nil
	}}
	stub.execFn = func(ctx context.Context, opp *domain.Opportunity) (domain.TradeResult, error) {
		if opp.ID == "two" {
			return domain.TradeResult{}, &domain.ExecutionError{OpportunityID: opp.ID, Reason: "venue rejected"}
		}
		return domain.TradeResult{OpportunityID: opp.ID, Success: true, PnL: opp.ExpectedProfit}, nil
	}
	sink := &recordingSink{}
	r := startedRunner(t, stub, sink)

	require.NoError(t, r.Run(context.Background()))

	// 1 and 3 still attempted, in profit order.
	assert.Equal(t, []string{"one", "two", "three"}, stub.executed)
	assert.Equal(t, 2, r.Stats().OpportunitiesExecuted)
	assert.Equal(t, domain.StatusExecuted, o1.Status)
	assert.Equal(t, domain.StatusFailed, o2.Status)
	assert.Equal(t, domain.StatusExecuted, o3.Status)

	// Exactly one ERROR event, and it references opportunity two.
	errEvents := sink.byType(domain.EventError)
	require.Len(t, errEvents, 1)
	var execErr *domain.ExecutionError
	require.ErrorAs(t, errEvents[0].Payload.(error), &execErr)
	assert.Equal(t, "two", execErr.OpportunityID)
}

func TestRunner_PanicInExecuteIsContained(t *testing.T) {
	o1, o2 := testOpp("boom", 9), testOpp("calm", 1)
	stub := &stubStrategy{name: "s", scanFn: func(ctx context.Context) ([]*domain.Opportunity, error) {
		return []*domain.Opportunity{o1, o2}, nil
	}}
	stub.execFn = func(ctx context.Context, opp *domain.Opportunity) (domain.TradeResult, error) {
		if opp.ID == "boom" {
			panic("nil book")
		}
		return domain.TradeResult{OpportunityID: opp.ID, Success: true, PnL: opp.ExpectedProfit}, nil
	}
	sink := &recordingSink{}
	r := startedRunner(t, stub, sink)

	assert.NotPanics(t, func() { require.NoError(t, r.Run(context.Background())) })
	assert.Equal(t, domain.StatusFailed, o1.Status)
	assert.Equal(t, domain.StatusExecuted, o2.Status)
	assert.Equal(t, 1, r.Stats().OpportunitiesExecuted)
	assert.Len(t, sink.byType(domain.EventError), 1)
}

// --- Hooks ---

// validatingStub rejects opportunities through the optional Validator hook.
type validatingStub struct {
	*stubStrategy
	validateFn func(ctx context.Context, opp *domain.Opportunity) error
}

func (v *validatingStub) ValidateOpportunity(ctx context.Context, opp *domain.Opportunity) error {
	return v.validateFn(ctx, opp)
}

func TestRunner_ValidatorHookRejectionSkipsSilently(t *testing.T) {
	o := testOpp("gone", 5)
	stub := &validatingStub{
		stubStrategy: &stubStrategy{name: "s", scanFn: func(ctx context.Context) ([]*domain.Opportunity, error) {
			return []*domain.Opportunity{o}, nil
		}},
		validateFn: func(ctx context.Context, opp *domain.Opportunity) error {
			return &domain.ValidationError{OpportunityID: opp.ID, Reason: "spread narrowed"}
		},
	}
	sink := &recordingSink{}
	cfg := Config{Enabled: true, Capital: 1000, MaxFraction: 0.25, MinSize: 1}
	r := NewRunner(stub, cfg, &domain.FixedFractionSizer{Fraction: 0.1}, sink)
	r.Start(context.Background())

	require.NoError(t, r.Run(context.Background()))
	assert.Empty(t, stub.executed)
	assert.Equal(t, domain.StatusSkipped, o.Status)
	assert.Empty(t, sink.byType(domain.EventError)) // validation failures are not errors
}

// filteringStub keeps everything the scan returns, bypassing the default
// validity filter. Its optional validateFn stands in for a revalidation
// hook so expiry between scan and execute can be simulated.
type filteringStub struct {
	*stubStrategy
	validateFn func(ctx context.Context, opp *domain.Opportunity) error
}

func (f *filteringStub) FilterOpportunities(opps []*domain.Opportunity) []*domain.Opportunity {
	return opps
}

func (f *filteringStub) ValidateOpportunity(ctx context.Context, opp *domain.Opportunity) error {
	if f.validateFn != nil {
		return f.validateFn(ctx, opp)
	}
	return nil
}

func TestRunner_ExpiredOnRevalidationMarkedExpired(t *testing.T) {
	o := testOpp("old", 5)
	o.ExpiresAt = time.Now().Add(-time.Second)
	stub := &filteringStub{
		stubStrategy: &stubStrategy{name: "s", scanFn: func(ctx context.Context) ([]*domain.Opportunity, error) {
			return []*domain.Opportunity{o}, nil
		}},
		validateFn: func(ctx context.Context, opp *domain.Opportunity) error {
			return &domain.ValidationError{OpportunityID: opp.ID, Reason: "expired"}
		},
	}
	r := NewRunner(stub, Config{Enabled: true, Capital: 1000, MaxFraction: 0.25, MinSize: 1},
		&domain.FixedFractionSizer{Fraction: 0.1}, &recordingSink{})
	r.Start(context.Background())

	require.NoError(t, r.Run(context.Background()))
	assert.Empty(t, stub.executed)
	assert.Equal(t, domain.StatusExpired, o.Status)
}

func TestRunner_FiltererHookOverridesDefault(t *testing.T) {
	flat := testOpp("flat", 0) // default filter would drop zero profit
	stub := &filteringStub{
		stubStrategy: &stubStrategy{name: "s", scanFn: func(ctx context.Context) ([]*domain.Opportunity, error) {
			return []*domain.Opportunity{flat}, nil
		}},
	}
	r := NewRunner(stub, Config{Enabled: true, Capital: 1000, MaxFraction: 0.25, MinSize: 1},
		&domain.FixedFractionSizer{Fraction: 0.1}, &recordingSink{})
	r.Start(context.Background())

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"flat"}, stub.executed)
}

func TestRunner_UnsuccessfulResultMarksFailed(t *testing.T) {
	o := testOpp("rejected", 5)
	stub := &stubStrategy{name: "s", scanFn: func(ctx context.Context) ([]*domain.Opportunity, error) {
		return []*domain.Opportunity{o}, nil
	}}
	stub.execFn = func(ctx context.Context, opp *domain.Opportunity) (domain.TradeResult, error) {
		return domain.TradeResult{OpportunityID: opp.ID, Success: false, Error: "insufficient balance"}, nil
	}
	sink := &recordingSink{}
	r := startedRunner(t, stub, sink)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, domain.StatusFailed, o.Status)
	assert.Equal(t, 0, r.Stats().OpportunitiesExecuted)
	assert.Len(t, sink.byType(domain.EventError), 1)
}

func TestRunner_ZeroSizeSkipsWithoutError(t *testing.T) {
	o := testOpp("tiny", 5)
	stub := &stubStrategy{name: "s", scanFn: func(ctx context.Context) ([]*domain.Opportunity, error) {
		return []*domain.Opportunity{o}, nil
	}}
	sink := &recordingSink{}
	r := testRunner(stub, sink)
	cfg := r.Config()
	cfg.MinSize = 500 // sizer yields 200 shares → below the floor → zero
	r.UpdateConfig(cfg)
	r.Start(context.Background())

	require.NoError(t, r.Run(context.Background()))
	assert.Empty(t, stub.executed)
	assert.Equal(t, domain.StatusSkipped, o.Status)
	assert.Empty(t, sink.byType(domain.EventError))
}

func TestRunner_SizerOutputResizesLegs(t *testing.T) {
	o := testOpp("resize", 5) // legs carry 200 shares from detection
	stub := &stubStrategy{name: "s", scanFn: func(ctx context.Context) ([]*domain.Opportunity, error) {
		return []*domain.Opportunity{o}, nil
	}}
	r := testRunner(stub, &recordingSink{})
	cfg := r.Config()
	cfg.Capital = 100 // 10% of 100 at price 0.5 → 20 shares
	r.UpdateConfig(cfg)
	r.Start(context.Background())

	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, []string{"resize"}, stub.executed)
	assert.Equal(t, 20.0, o.Legs[0].Size)
	assert.InDelta(t, 0.5, o.ExpectedProfit, 0.0001) // 5 × 20/200
}

// --- Stats ---

func TestRunner_IncrementalWinRate(t *testing.T) {
	// Three executions with PnL +5, -2, +3:
	// n=1 wins=1 → 1.0; n=2 wins=1 → 0.5; n=3 wins=round(0.5×2)+1=2 → 2/3
	pnls := map[string]float64{"a": 5, "b": -2, "c": 3}
	stub := &stubStrategy{name: "s"}
	stub.execFn = func(ctx context.Context, opp *domain.Opportunity) (domain.TradeResult, error) {
		return domain.TradeResult{OpportunityID: opp.ID, Success: true, PnL: pnls[opp.ID]}, nil
	}
	r := startedRunner(t, stub, &recordingSink{})

	expectRates := []float64{1.0, 0.5, 2.0 / 3.0}
	for i, id := range []string{"a", "b", "c"} {
		opp := testOpp(id, 1)
		stub.scanFn = func(ctx context.Context) ([]*domain.Opportunity, error) {
			return []*domain.Opportunity{opp}, nil
		}
		require.NoError(t, r.Run(context.Background()))
		stats := r.Stats()
		assert.Equal(t, i+1, stats.OpportunitiesExecuted)
		assert.InDelta(t, expectRates[i], stats.WinRate, 1e-9, fmt.Sprintf("after trade %d", i+1))
	}

	assert.InDelta(t, 6.0, r.Stats().TotalPnL, 1e-9) // 5 - 2 + 3
}

func TestRunner_TradeExecutedEventCarriesResult(t *testing.T) {
	o := testOpp("win", 5)
	stub := &stubStrategy{name: "s", scanFn: func(ctx context.Context) ([]*domain.Opportunity, error) {
		return []*domain.Opportunity{o}, nil
	}}
	sink := &recordingSink{}
	r := startedRunner(t, stub, sink)

	require.NoError(t, r.Run(context.Background()))
	events := sink.byType(domain.EventTradeExecuted)
	require.Len(t, events, 1)
	result, ok := events[0].Payload.(domain.TradeResult)
	require.True(t, ok)
	assert.Equal(t, "win", result.OpportunityID)
	assert.Equal(t, "s", result.Strategy)
	assert.True(t, result.Success)
}
