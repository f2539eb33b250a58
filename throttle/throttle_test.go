package throttle

import (
	"runtime"
	"testing"
	"time"
	"weak"

	"github.com/meganz/corevault/node"
)

func TestShouldThrottleAfterMaxUploads(t *testing.T) {
	m := New()
	m.SetMaxUploadsBeforeThrottle(2)
	for i := 0; i < 2; i++ {
		if m.ShouldThrottle("fileA") {
			t.Fatalf("edit %d unexpectedly throttled", i)
		}
	}
	if !m.ShouldThrottle("fileA") {
		t.Fatal("edit 3 expected to throttle")
	}
}

func TestCounterExpiresAfterInactivity(t *testing.T) {
	m := New()
	m.SetMaxUploadsBeforeThrottle(2)
	fake := time.Unix(0, 0)
	m.now = func() time.Time { return fake }

	m.ShouldThrottle("fileA")
	m.ShouldThrottle("fileA")
	if !m.ShouldThrottle("fileA") {
		t.Fatal("expected throttle before expiry")
	}

	fake = fake.Add(TimeoutToResetUploadCounters + time.Second)
	if m.ShouldThrottle("fileA") {
		t.Fatal("counter should have reset after inactivity window")
	}
}

func TestDynamicRateAcceleratesWithBacklog(t *testing.T) {
	m := New()
	m.SetThrottleUpdateRate(180 * time.Second)

	for i := 0; i < 9; i++ {
		up := &Upload{FileIdentity: "f"}
		m.AddToDelayedUploads(DelayedSyncUpload{Weak: weak.Make(up)})
	}
	// sqrt(9) == 3, so 180/3 == 60, exactly the lower limit.
	if got := m.dynamicRate(); got != 60*time.Second {
		t.Fatalf("dynamicRate = %v, want 60s", got)
	}
}

func TestProcessDelayedUploadsSkipsExpiredWeakRefs(t *testing.T) {
	m := New()
	fake := time.Now()
	m.now = func() time.Time { return fake }
	m.resetLastProcessedTime()

	makeStale := func() weak.Pointer[Upload] {
		up := &Upload{FileIdentity: "gone"}
		w := weak.Make(up)
		up = nil
		return w
	}
	stale := makeStale()
	for i := 0; i < 10 && stale.Value() != nil; i++ {
		runtime.GC()
	}
	if stale.Value() != nil {
		t.Skip("runtime did not collect the stale upload in time")
	}

	live := &Upload{FileIdentity: "kept"}
	m.queue = append(m.queue,
		DelayedSyncUpload{Weak: stale},
		DelayedSyncUpload{Weak: weak.Make(live)},
	)
	fake = fake.Add(time.Hour)

	var got *Upload
	m.ProcessDelayedUploads(func(u *Upload, vo VersioningOption, qf bool, ov node.Handle) {
		got = u
	})
	if got == nil || got.FileIdentity != "kept" {
		t.Fatalf("expected the stale entry to be skipped and the live one processed, got %+v", got)
	}
	if m.AnyDelayedUploads() {
		t.Fatalf("queue should be drained of the two entries, has %d left", m.QueueSize())
	}
}

func TestProcessDelayedUploadsRespectsDynamicRate(t *testing.T) {
	m := New()
	fake := time.Now()
	m.now = func() time.Time { return fake }
	m.resetLastProcessedTime()

	up := &Upload{FileIdentity: "f"}
	m.AddToDelayedUploads(DelayedSyncUpload{Weak: weak.Make(up)})

	called := false
	m.ProcessDelayedUploads(func(*Upload, VersioningOption, bool, node.Handle) { called = true })
	if called {
		t.Fatal("must not process before throttleUpdateRate has elapsed")
	}

	fake = fake.Add(DefaultThrottleUpdateRate)
	m.ProcessDelayedUploads(func(*Upload, VersioningOption, bool, node.Handle) { called = true })
	if !called {
		t.Fatal("expected processing once the rate interval elapsed")
	}
}

func TestSettersRejectOutOfRange(t *testing.T) {
	m := New()
	if m.SetThrottleUpdateRate(1 * time.Second) {
		t.Fatal("expected rejection below lower limit")
	}
	if m.SetMaxUploadsBeforeThrottle(100) {
		t.Fatal("expected rejection above upper limit")
	}
	if !m.SetThrottleUpdateRate(90 * time.Second) {
		t.Fatal("expected acceptance within range")
	}
}
