package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ggrep/ggrep/internal/config"
	"github.com/ggrep/ggrep/internal/errors"
)

func testConfig() config.AdmissionConfig {
	return config.AdmissionConfig{
		MaxConcurrentQueries:       2,
		MaxQueryQueueDepth:         1,
		QueryTimeout:               time.Second,
		ReservedMaintenancePermits: 1,
		MaxQueriesPerClient:        0,
	}
}

func TestAcquireRelease(t *testing.T) {
	c := New(testConfig(), 0)
	lease, err := c.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if got := c.Snapshot().InFlight; got != 1 {
		t.Fatalf("InFlight = %d, want 1", got)
	}
	lease.Release()
	if got := c.Snapshot().InFlight; got != 0 {
		t.Fatalf("InFlight after release = %d, want 0", got)
	}
}

// TestBusyOnSaturation: under saturation,
// with one query slot (MaxConcurrentQueries=2 minus one reserved
// maintenance permit) and MaxQueryQueueDepth=1, three concurrent
// queries yield exactly one immediate success, one queued success, and
// one busy rejection.
func TestBusyOnSaturation(t *testing.T) {
	cfg := config.AdmissionConfig{
		MaxConcurrentQueries:       2, // 1 query slot + 1 reserved maintenance slot
		MaxQueryQueueDepth:         1,
		ReservedMaintenancePermits: 1,
	}
	c := New(cfg, 0)

	first, err := c.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	var wg sync.WaitGroup
	secondDone := make(chan *Lease, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		l, err := c.Acquire(context.Background(), "")
		if err != nil {
			t.Errorf("second Acquire (queued) failed: %v", err)
			return
		}
		secondDone <- l
	}()

	// Give the second acquire time to enter the queue before the third
	// arrives, so it observes a full queue rather than a free slot.
	time.Sleep(20 * time.Millisecond)

	_, err = c.Acquire(context.Background(), "")
	if err == nil {
		t.Fatal("third Acquire should have been rejected as busy")
	}
	gerr, ok := err.(*errors.GgrepError)
	if !ok || gerr.ClientCode() != "busy" {
		t.Fatalf("third Acquire error = %v, want busy", err)
	}

	first.Release()
	wg.Wait()
	second := <-secondDone
	second.Release()

	if got := c.Snapshot().BusyTotal; got != 1 {
		t.Fatalf("BusyTotal = %d, want 1", got)
	}
}

func TestPerClientFairnessCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueriesPerClient = 1
	c := New(cfg, 0)

	l1, err := c.Acquire(context.Background(), "client-a")
	if err != nil {
		t.Fatalf("Acquire client-a: %v", err)
	}
	if _, err := c.Acquire(context.Background(), "client-a"); err == nil {
		t.Fatal("second Acquire for client-a should be rejected under its cap")
	}
	// A different client is unaffected by client-a's cap.
	l2, err := c.Acquire(context.Background(), "client-b")
	if err != nil {
		t.Fatalf("Acquire client-b: %v", err)
	}
	l1.Release()
	l2.Release()
}

func TestAcquireRespectsContextDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentQueries = 3 // 2 query slots + 1 reserved maintenance slot
	cfg.MaxQueryQueueDepth = 10
	c := New(cfg, 0)

	// Saturate both query slots so the next acquire must wait on ctx.
	l1, _ := c.Acquire(context.Background(), "")
	l2, _ := c.Acquire(context.Background(), "")
	defer l1.Release()
	defer l2.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Acquire(ctx, "")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	gerr, ok := err.(*errors.GgrepError)
	if !ok || gerr.ClientCode() != "timeout" {
		t.Fatalf("error = %v, want timeout", err)
	}
	if got := c.Snapshot().TimeoutTotal; got != 1 {
		t.Fatalf("TimeoutTotal = %d, want 1", got)
	}
}

func TestAcquireMaintenanceIndependentOfQueryPool(t *testing.T) {
	cfg := testConfig()
	c := New(cfg, 0)

	// Saturate every query slot; maintenance must still be admitted
	// immediately from its own reserved pool (spec's anti-starvation
	// guarantee).
	leases := make([]*Lease, 0, cfg.MaxConcurrentQueries-cfg.ReservedMaintenancePermits)
	for i := 0; i < cfg.MaxConcurrentQueries-cfg.ReservedMaintenancePermits; i++ {
		l, err := c.Acquire(context.Background(), "")
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		leases = append(leases, l)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	ml, err := c.AcquireMaintenance(ctx)
	if err != nil {
		t.Fatalf("AcquireMaintenance under query saturation: %v", err)
	}
	ml.Release()

	for _, l := range leases {
		l.Release()
	}
}
