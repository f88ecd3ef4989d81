package governor

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/codevet/codevet/internal/events"
)

// Kind identifies a governed resource.
type Kind string

const (
	KindMemory  Kind = "memory"
	KindCPU     Kind = "cpu"
	KindIO      Kind = "io"
	KindNetwork Kind = "network"
)

// Status is the threshold tier a resource kind is currently in.
type Status string

const (
	StatusNormal   Status = "normal"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Request asks for an allocation of one resource kind. A request is granted
// synchronously when admission passes, otherwise it waits in the governor's
// queue until admission succeeds, the timeout elapses, or the governor stops.
type Request struct {
	// Kind is the resource kind requested
	Kind Kind
	// Amount is the requested quantity: bytes for memory, percent for cpu,
	// concurrent slots (usually 1) for io and network
	Amount float64
	// Priority orders queued requests; higher is served first
	Priority int
	// Timeout bounds queue wait; zero means wait indefinitely
	Timeout time.Duration
	// Callback is invoked exactly once with the admission outcome. May be nil.
	Callback func(granted bool)
}

// pending is a queued request plus its identity and age.
type pending struct {
	id        string
	req       Request
	createdAt time.Time
	index     int // heap index
}

// allocation is a granted request still holding resources.
type allocation struct {
	id     string
	kind   Kind
	amount float64
}

// Config holds resource limits, threshold tiers, and tick interval.
type Config struct {
	// MemoryLimitBytes caps projected memory allocations (default: 1 GiB)
	MemoryLimitBytes uint64
	// CPUMaxPercent caps projected CPU allocations (default: 80)
	CPUMaxPercent float64
	// IOMaxConcurrent caps concurrent io allocations (default: 16)
	IOMaxConcurrent int
	// NetworkMaxConcurrent caps concurrent network allocations (default: 16)
	NetworkMaxConcurrent int

	// WarningFraction and CriticalFraction set the threshold tiers as
	// fractions of each limit (defaults: 0.7 and 0.9)
	WarningFraction  float64
	CriticalFraction float64
	// CPURecoveryFraction is the hysteresis point: once throttled, CPU
	// throttling lifts only after usage falls under this fraction of the
	// max (default: 0.5)
	CPURecoveryFraction float64

	// ThrottledTasksPerSecond is the task launch rate while CPU throttling
	// is engaged (default: 1)
	ThrottledTasksPerSecond float64

	// TickInterval is how often usage is sampled and the queue retried
	// (default: 500ms)
	TickInterval time.Duration
}

// DefaultConfig returns default governor configuration.
func DefaultConfig() Config {
	return Config{
		MemoryLimitBytes:        1 << 30,
		CPUMaxPercent:           80,
		IOMaxConcurrent:         16,
		NetworkMaxConcurrent:    16,
		WarningFraction:         0.7,
		CriticalFraction:        0.9,
		CPURecoveryFraction:     0.5,
		ThrottledTasksPerSecond: 1,
		TickInterval:            500 * time.Millisecond,
	}
}

// Governor samples process resource usage on a fixed tick and admits,
// queues, or rejects resource requests against configured limits. It is
// shared by all worker tasks and safe for concurrent use.
type Governor struct {
	mu      sync.Mutex
	cfg     Config
	sampler UsageSampler

	usage       Usage
	allocations map[string]allocation
	allocMem    float64
	allocCPU    float64
	ioCount     int
	netCount    int

	queue requestQueue

	throttled bool
	limiter   *rate.Limiter
	tiers     map[Kind]Status

	// notify receives governor events; the orchestrator wires its own
	// publisher here so the bus has a single publishing side.
	notify func(events.Event)
	runID  string

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool

	now func() time.Time
}

// New creates a governor. Zero-value config fields fall back to defaults.
// A nil sampler uses the platform default.
func New(cfg Config, sampler UsageSampler) *Governor {
	def := DefaultConfig()
	if cfg.MemoryLimitBytes == 0 {
		cfg.MemoryLimitBytes = def.MemoryLimitBytes
	}
	if cfg.CPUMaxPercent <= 0 {
		cfg.CPUMaxPercent = def.CPUMaxPercent
	}
	if cfg.IOMaxConcurrent <= 0 {
		cfg.IOMaxConcurrent = def.IOMaxConcurrent
	}
	if cfg.NetworkMaxConcurrent <= 0 {
		cfg.NetworkMaxConcurrent = def.NetworkMaxConcurrent
	}
	if cfg.WarningFraction <= 0 {
		cfg.WarningFraction = def.WarningFraction
	}
	if cfg.CriticalFraction <= 0 {
		cfg.CriticalFraction = def.CriticalFraction
	}
	if cfg.CPURecoveryFraction <= 0 {
		cfg.CPURecoveryFraction = def.CPURecoveryFraction
	}
	if cfg.ThrottledTasksPerSecond <= 0 {
		cfg.ThrottledTasksPerSecond = def.ThrottledTasksPerSecond
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if sampler == nil {
		sampler = NewRuntimeSampler()
	}

	return &Governor{
		cfg:         cfg,
		sampler:     sampler,
		allocations: make(map[string]allocation),
		limiter:     rate.NewLimiter(rate.Inf, 1),
		tiers: map[Kind]Status{
			KindMemory:  StatusNormal,
			KindCPU:     StatusNormal,
			KindIO:      StatusNormal,
			KindNetwork: StatusNormal,
		},
		now: time.Now,
	}
}

// SetNotifier wires the event sink. Must be called before Start.
func (g *Governor) SetNotifier(runID string, notify func(events.Event)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runID = runID
	g.notify = notify
}

// Start launches the monitor tick loop. A stopped governor can be started
// again.
func (g *Governor) Start() {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return
	}
	g.started = true
	g.stopCh = make(chan struct{})
	g.doneCh = make(chan struct{})
	stopCh, doneCh := g.stopCh, g.doneCh
	g.mu.Unlock()

	go g.tickLoop(stopCh, doneCh)
}

// Stop cancels the tick loop and rejects every queued request.
func (g *Governor) Stop() {
	g.mu.Lock()
	if !g.started {
		g.mu.Unlock()
		return
	}
	g.started = false
	stopCh, doneCh := g.stopCh, g.doneCh
	g.mu.Unlock()

	close(stopCh)
	<-doneCh

	g.mu.Lock()
	var rejected []func(bool)
	for g.queue.Len() > 0 {
		p := heap.Pop(&g.queue).(*pending)
		if p.req.Callback != nil {
			rejected = append(rejected, p.req.Callback)
		}
	}
	g.mu.Unlock()

	for _, cb := range rejected {
		cb(false)
	}
}

// Request submits a resource request. It returns the request ID and whether
// the request was granted synchronously. A queued request resolves through
// its callback on a later tick or release.
func (g *Governor) Request(req Request) (string, bool) {
	id := uuid.New().String()

	g.mu.Lock()
	if g.admit(req.Kind, req.Amount) {
		g.allocate(id, req.Kind, req.Amount)
		cb := req.Callback
		g.mu.Unlock()
		if cb != nil {
			cb(true)
		}
		return id, true
	}

	heap.Push(&g.queue, &pending{
		id:        id,
		req:       req,
		createdAt: g.now(),
	})
	g.mu.Unlock()
	return id, false
}

// Release frees a granted allocation and immediately retries the queue head.
// Releasing an unknown ID is a no-op.
func (g *Governor) Release(id string) {
	g.mu.Lock()
	alloc, ok := g.allocations[id]
	if !ok {
		g.mu.Unlock()
		return
	}
	delete(g.allocations, id)
	g.deallocate(alloc)
	granted := g.drainAdmissible()
	g.mu.Unlock()

	for _, cb := range granted {
		cb(true)
	}
}

// Cancel withdraws a request whose outcome the caller no longer wants. A
// still-queued request is removed without its callback firing; an already
// granted one is released. Cancelling an unknown ID is a no-op.
func (g *Governor) Cancel(id string) {
	g.mu.Lock()
	for i, p := range g.queue {
		if p.id == id {
			heap.Remove(&g.queue, i)
			g.mu.Unlock()
			return
		}
	}

	alloc, ok := g.allocations[id]
	if !ok {
		g.mu.Unlock()
		return
	}
	delete(g.allocations, id)
	g.deallocate(alloc)
	granted := g.drainAdmissible()
	g.mu.Unlock()

	for _, cb := range granted {
		cb(true)
	}
}

// Throttled reports whether CPU throttling is currently engaged.
func (g *Governor) Throttled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.throttled
}

// Limiter returns the launch-rate limiter tasks wait on. The limit is
// infinite unless CPU throttling is engaged.
func (g *Governor) Limiter() *rate.Limiter {
	return g.limiter
}

// QueueDepth returns the number of requests waiting for admission.
func (g *Governor) QueueDepth() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queue.Len()
}

func (g *Governor) tickLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(g.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			g.tick()
		}
	}
}

// tick samples usage, updates threshold tiers and throttling, expires
// timed-out requests, and retries the queue in priority order.
func (g *Governor) tick() {
	usage, err := g.sampler.Sample()

	g.mu.Lock()
	if err == nil {
		g.usage = usage
	}

	notifications := g.updateTiers()
	expired, granted := g.expireAndRetry()
	notify := g.notify
	g.mu.Unlock()

	if notify != nil {
		for _, ev := range notifications {
			notify(ev)
		}
	}
	for _, cb := range expired {
		cb(false)
	}
	for _, cb := range granted {
		cb(true)
	}
}

// admit applies the per-kind admission rule. Caller holds g.mu.
func (g *Governor) admit(kind Kind, amount float64) bool {
	switch kind {
	case KindMemory:
		projected := float64(g.usage.MemoryBytes) + g.allocMem + amount
		return projected < float64(g.cfg.MemoryLimitBytes)
	case KindCPU:
		if g.throttled {
			return false
		}
		return g.usage.CPUPercent+g.allocCPU+amount < g.cfg.CPUMaxPercent
	case KindIO:
		return g.ioCount < g.cfg.IOMaxConcurrent
	case KindNetwork:
		return g.netCount < g.cfg.NetworkMaxConcurrent
	}
	return false
}

func (g *Governor) allocate(id string, kind Kind, amount float64) {
	g.allocations[id] = allocation{id: id, kind: kind, amount: amount}
	switch kind {
	case KindMemory:
		g.allocMem += amount
	case KindCPU:
		g.allocCPU += amount
	case KindIO:
		g.ioCount++
	case KindNetwork:
		g.netCount++
	}
}

func (g *Governor) deallocate(alloc allocation) {
	switch alloc.kind {
	case KindMemory:
		g.allocMem -= alloc.amount
	case KindCPU:
		g.allocCPU -= alloc.amount
	case KindIO:
		g.ioCount--
	case KindNetwork:
		g.netCount--
	}
}

// drainAdmissible grants queued requests in priority-then-age order until
// admission fails. A release unblocks the queue head before any newer,
// lower-priority request. Caller holds g.mu.
func (g *Governor) drainAdmissible() []func(bool) {
	var granted []func(bool)
	for g.queue.Len() > 0 {
		head := g.queue.peek()
		if !g.admit(head.req.Kind, head.req.Amount) {
			break
		}
		heap.Pop(&g.queue)
		g.allocate(head.id, head.req.Kind, head.req.Amount)
		if head.req.Callback != nil {
			granted = append(granted, head.req.Callback)
		}
	}
	return granted
}

// expireAndRetry rejects queued requests past their timeout, then grants
// whatever the freed ordering admits. Caller holds g.mu.
func (g *Governor) expireAndRetry() (expired, granted []func(bool)) {
	now := g.now()
	kept := g.queue[:0]
	for _, p := range g.queue {
		if p.req.Timeout > 0 && now.Sub(p.createdAt) >= p.req.Timeout {
			if p.req.Callback != nil {
				expired = append(expired, p.req.Callback)
			}
			continue
		}
		kept = append(kept, p)
	}
	g.queue = kept
	heap.Init(&g.queue)

	granted = g.drainAdmissible()
	return expired, granted
}

// updateTiers recomputes per-kind threshold tiers and CPU throttling, and
// returns pressure events for tier changes. Caller holds g.mu.
func (g *Governor) updateTiers() []events.Event {
	var out []events.Event

	memFrac := float64(g.usage.MemoryBytes) / float64(g.cfg.MemoryLimitBytes)
	cpuFrac := g.usage.CPUPercent / g.cfg.CPUMaxPercent
	ioFrac := float64(g.ioCount) / float64(g.cfg.IOMaxConcurrent)
	netFrac := float64(g.netCount) / float64(g.cfg.NetworkMaxConcurrent)

	fractions := map[Kind]float64{
		KindMemory:  memFrac,
		KindCPU:     cpuFrac,
		KindIO:      ioFrac,
		KindNetwork: netFrac,
	}

	for _, kind := range []Kind{KindMemory, KindCPU, KindIO, KindNetwork} {
		tier := g.tierFor(fractions[kind])
		if tier == g.tiers[kind] {
			continue
		}
		prev := g.tiers[kind]
		g.tiers[kind] = tier
		out = append(out, g.pressureEvent(kind, prev, tier, fractions[kind]))
	}

	// CPU throttling with hysteresis: engage at critical, lift only below
	// the recovery fraction so usage hovering near the threshold does not
	// flap the throttle.
	if !g.throttled && cpuFrac >= g.cfg.CriticalFraction {
		g.throttled = true
		g.limiter.SetLimit(rate.Limit(g.cfg.ThrottledTasksPerSecond))
		ev := events.New(events.EventTypeThrottleEngaged, g.runID, events.SeverityWarning,
			fmt.Sprintf("CPU throttling engaged at %.0f%% of limit", cpuFrac*100))
		out = append(out, ev)
	} else if g.throttled && cpuFrac < g.cfg.CPURecoveryFraction {
		g.throttled = false
		g.limiter.SetLimit(rate.Inf)
		ev := events.New(events.EventTypeThrottleReleased, g.runID, events.SeverityInfo,
			fmt.Sprintf("CPU throttling released at %.0f%% of limit", cpuFrac*100))
		out = append(out, ev)
	}

	return out
}

func (g *Governor) tierFor(fraction float64) Status {
	switch {
	case fraction >= g.cfg.CriticalFraction:
		return StatusCritical
	case fraction >= g.cfg.WarningFraction:
		return StatusWarning
	default:
		return StatusNormal
	}
}

func (g *Governor) pressureEvent(kind Kind, from, to Status, fraction float64) events.Event {
	eventType := events.EventTypeResourcePressure
	severity := events.SeverityWarning
	if to == StatusCritical {
		severity = events.SeverityCritical
	} else if to == StatusNormal {
		eventType = events.EventTypeResourceRecovered
		severity = events.SeverityInfo
	}

	ev := events.New(eventType, g.runID, severity,
		fmt.Sprintf("%s pressure %s -> %s (%.0f%% of limit)", kind, from, to, fraction*100))
	ev.Data = events.ResourcePressureData{
		Kind:     string(kind),
		Status:   string(to),
		Fraction: fraction,
	}
	return ev
}

// requestQueue is a max-heap over priority, breaking ties by age (older
// first).
type requestQueue []*pending

func (q requestQueue) Len() int { return len(q) }

func (q requestQueue) Less(i, j int) bool {
	if q[i].req.Priority != q[j].req.Priority {
		return q[i].req.Priority > q[j].req.Priority
	}
	return q[i].createdAt.Before(q[j].createdAt)
}

func (q requestQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *requestQueue) Push(x any) {
	p := x.(*pending)
	p.index = len(*q)
	*q = append(*q, p)
}

func (q *requestQueue) Pop() any {
	old := *q
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return p
}

func (q requestQueue) peek() *pending {
	return q[0]
}
