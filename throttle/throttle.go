// Package throttle implements the sync upload throttling manager of
// spec.md §4.H: a FIFO of delayed uploads with a dynamic processing
// rate, plus per-file upload counters that expire after inactivity.
// Grounded on original_source's syncuploadthrottlingmanager.{h,cpp} for
// the exact constants and checkProcessDelayedUploads formula, and on
// sagar2395-renterd's worker/upload.go for the per-host (here per-file)
// bookkeeping map shape.
package throttle

import (
	"math"
	"time"
	"weak"

	"github.com/meganz/corevault/node"
)

// Limits published to setters, per original_source's static constexpr
// bounds.
const (
	ThrottleUpdateRateLowerLimit = 60 * time.Second
	// TimeoutToResetUploadCounters is TIMEOUT_TO_RESET_UPLOAD_COUNTERS;
	// the upper limit for the update rate is one second below it.
	TimeoutToResetUploadCounters = 86400 * time.Second
	ThrottleUpdateRateUpperLimit = TimeoutToResetUploadCounters - time.Second

	MaxUploadsBeforeThrottleLowerLimit = 2
	MaxUploadsBeforeThrottleUpperLimit = 5

	DefaultThrottleUpdateRate       = 180 * time.Second
	DefaultMaxUploadsBeforeThrottle = MaxUploadsBeforeThrottleLowerLimit
)

// ValueLimits mirrors IUploadThrottlingManager::ThrottleValueLimits,
// returned verbatim so callers (e.g. a settings UI) can clamp inputs
// themselves before calling the setters.
type ValueLimits struct {
	UpdateRateLower, UpdateRateUpper         time.Duration
	MaxUploadsBeforeThrottleLower, MaxUploadsBeforeThrottleUpper uint
}

// UploadHandle is the weak, non-owning reference to an in-client upload
// record: the upload may be cancelled before it reaches the head of the
// queue, so the manager must tolerate a stale reference (spec.md §3
// DelayedSyncUpload, §9 "std::weak_ptr" equivalent).
type UploadHandle = weak.Pointer[Upload]

// Upload is the minimal in-client upload record the throttling manager
// holds a weak reference to. Real upload bookkeeping (transfer state,
// progress) lives above this package's scope; this struct is only the
// anchor a weak.Pointer can point at.
type Upload struct {
	FileIdentity string
	LocalPath    string
}

// VersioningOption controls how a throttled upload's completion should
// version the remote node.
type VersioningOption int8

const (
	VersioningDefault VersioningOption = iota
	VersioningForceNewVersion
	VersioningNoVersioning
)

// DelayedSyncUpload is one queued, not-yet-started upload.
type DelayedSyncUpload struct {
	Weak               UploadHandle
	VersioningOption   VersioningOption
	QueueFirst         bool
	OverrideHandleIfShortcut node.Handle
}

// CompletionFunc is invoked for the one delayed upload, if any, that
// processDelayedUploads decides to start this tick.
type CompletionFunc func(upload *Upload, vo VersioningOption, queueFirst bool, ovHandle node.Handle)

// uploadCounter is the per-file-identity bookkeeping entry (spec.md §3
// "Upload counter").
type uploadCounter struct {
	count       int
	lastTouched time.Time
}

// Manager owns the delayed-upload FIFO and per-file counters. It is
// invoked from the engine goroutine only (spec.md §5): no internal
// locking.
type Manager struct {
	queue []DelayedSyncUpload

	lastProcessed time.Time
	counters      map[string]*uploadCounter

	throttleUpdateRate       time.Duration
	maxUploadsBeforeThrottle int
	inactivityExpiration     time.Duration

	now func() time.Time
}

// New constructs a Manager with the defaults from original_source.
func New() *Manager {
	return &Manager{
		lastProcessed:            time.Now(),
		counters:                 make(map[string]*uploadCounter),
		throttleUpdateRate:       DefaultThrottleUpdateRate,
		maxUploadsBeforeThrottle: DefaultMaxUploadsBeforeThrottle,
		inactivityExpiration:     TimeoutToResetUploadCounters,
		now:                      time.Now,
	}
}

// ShouldThrottle records an upload attempt for fileIdentity and reports
// whether it must be queued instead of started immediately: the file's
// counter is incremented, expired first if inactive for 24h, and the
// upload is throttled once the counter exceeds maxUploadsBeforeThrottle.
func (m *Manager) ShouldThrottle(fileIdentity string) bool {
	now := m.now()
	c, ok := m.counters[fileIdentity]
	if !ok || now.Sub(c.lastTouched) > m.inactivityExpiration {
		c = &uploadCounter{}
		m.counters[fileIdentity] = c
	}
	c.count++
	c.lastTouched = now
	return c.count > m.maxUploadsBeforeThrottle
}

// AddToDelayedUploads appends upload to the tail of the FIFO.
func (m *Manager) AddToDelayedUploads(upload DelayedSyncUpload) {
	m.queue = append(m.queue, upload)
}

// AnyDelayedUploads reports whether the queue is non-empty.
func (m *Manager) AnyDelayedUploads() bool { return len(m.queue) > 0 }

// QueueSize is the current FIFO depth.
func (m *Manager) QueueSize() int { return len(m.queue) }

// checkProcessDelayedUploads implements the dynamic-rate gate: the
// empty-queue case is handled by the caller.
func (m *Manager) checkProcessDelayedUploads() bool {
	dynamicRate := m.dynamicRate()
	return m.now().Sub(m.lastProcessed) >= dynamicRate
}

// dynamicRate is max(lowerLimit, throttleUpdateRate / sqrt(queueSize)),
// per spec.md §4.H step 2 / original_source's checkProcessDelayedUploads.
func (m *Manager) dynamicRate() time.Duration {
	n := len(m.queue)
	if n == 0 {
		return m.throttleUpdateRate
	}
	adjusted := time.Duration(float64(m.throttleUpdateRate) / math.Sqrt(float64(n)))
	if adjusted < ThrottleUpdateRateLowerLimit {
		return ThrottleUpdateRateLowerLimit
	}
	return adjusted
}

// ProcessDelayedUploads pops at most one valid upload off the head of
// the queue and invokes completion for it, skipping stale (cancelled)
// entries along the way, per spec.md §4.H steps 1-5.
func (m *Manager) ProcessDelayedUploads(completion CompletionFunc) {
	if !m.AnyDelayedUploads() {
		return
	}
	if !m.checkProcessDelayedUploads() {
		return
	}
	for len(m.queue) > 0 {
		du := m.queue[0]
		m.queue = m.queue[1:]
		up := du.Weak.Value()
		if up == nil {
			continue // cancelled before reaching the head; try the next
		}
		m.lastProcessed = m.now()
		completion(up, du.VersioningOption, du.QueueFirst, du.OverrideHandleIfShortcut)
		return
	}
}

// SetThrottleUpdateRate validates and applies interval, rejecting values
// outside [ThrottleUpdateRateLowerLimit, ThrottleUpdateRateUpperLimit].
func (m *Manager) SetThrottleUpdateRate(interval time.Duration) bool {
	if interval < ThrottleUpdateRateLowerLimit || interval > ThrottleUpdateRateUpperLimit {
		return false
	}
	m.throttleUpdateRate = interval
	return true
}

// SetMaxUploadsBeforeThrottle validates and applies n, rejecting values
// outside [MaxUploadsBeforeThrottleLowerLimit, MaxUploadsBeforeThrottleUpperLimit].
func (m *Manager) SetMaxUploadsBeforeThrottle(n int) bool {
	if n < MaxUploadsBeforeThrottleLowerLimit || n > MaxUploadsBeforeThrottleUpperLimit {
		return false
	}
	m.maxUploadsBeforeThrottle = n
	return true
}

// ThrottleUpdateRate returns the configured rate.
func (m *Manager) ThrottleUpdateRate() time.Duration { return m.throttleUpdateRate }

// MaxUploadsBeforeThrottle returns the configured threshold.
func (m *Manager) MaxUploadsBeforeThrottle() int { return m.maxUploadsBeforeThrottle }

// TimeSinceLastProcessedUpload matches the original's getter of the same
// name, used by tests and diagnostics.
func (m *Manager) TimeSinceLastProcessedUpload() time.Duration {
	return m.now().Sub(m.lastProcessed)
}

// ThrottleValueLimits returns the published bounds for setters.
func (m *Manager) ThrottleValueLimits() ValueLimits {
	return ValueLimits{
		UpdateRateLower:               ThrottleUpdateRateLowerLimit,
		UpdateRateUpper:               ThrottleUpdateRateUpperLimit,
		MaxUploadsBeforeThrottleLower: MaxUploadsBeforeThrottleLowerLimit,
		MaxUploadsBeforeThrottleUpper: MaxUploadsBeforeThrottleUpperLimit,
	}
}

// resetLastProcessedTime realigns the processing window to now. Per
// spec.md §9 Design Notes, production code should not reach into this;
// it exists only so tests can deterministically align windows.
func (m *Manager) resetLastProcessedTime() { m.lastProcessed = m.now() }
