package flight

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout is the confirmation timer duration armed on entering
// AwaitingClearance or Alert.
const DefaultTimeout = 300 * time.Second

// DefaultStaleAfter is how long without a fresh sample before a pilot is
// considered disconnected.
const DefaultStaleAfter = 300 * time.Second

// Snapshot carries the latest derived values for one refresh. Nil optional
// fields keep the pilot's previous value.
type Snapshot struct {
	Timestamp    time.Time
	Lat, Lon     float64
	Course       *float64
	AboveGround  *float64 // meters above local terrain
	Speed        *float64 // m/s, latest sample
	AverageSpeed float64  // m/s, time-weighted over the averaging window
}

// Status is a read-only copy of a pilot's live state for APIs and logs.
type Status struct {
	Key          string    `json:"key"`
	Name         string    `json:"name"`
	DiscordID    string    `json:"discord_id,omitempty"`
	State        State     `json:"state"`
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	Course       float64   `json:"course"`
	AboveGround  float64   `json:"above_ground"`
	Speed        float64   `json:"speed"`
	AverageSpeed float64   `json:"average_speed"`
	LastSeen     time.Time `json:"last_seen,omitempty"`
}

// Config configures one pilot.
type Config struct {
	Key       string
	Name      string
	DiscordID string
	Phone     string
	Email     string

	Thresholds Thresholds
	Timeout    time.Duration // zero means DefaultTimeout
	StaleAfter time.Duration // zero means DefaultStaleAfter

	// Events receives the machine's emitted signals. A full channel drops
	// the event with a warning rather than blocking the machine.
	Events chan<- Event

	Logger zerolog.Logger
	Now    func() time.Time // zero means time.Now, injectable for tests
}

// Pilot is one tracked paraglider and its live status. The refresh path and
// the confirmation path serialize on the pilot's mutex.
type Pilot struct {
	key       string
	name      string
	discordID string
	phone     string
	email     string

	th         Thresholds
	timeout    time.Duration
	staleAfter time.Duration
	events     chan<- Event
	log        zerolog.Logger
	now        func() time.Time

	mu          sync.Mutex
	state       State
	lastSeen    time.Time
	lat, lon    float64
	course      float64
	aboveGround float64
	speed       float64
	avgSpeed    float64
	timer       *time.Timer
	timerGen    uint64
}

// NewPilot creates a pilot and fires the one-shot init transition into
// Unknown, whose entry check classifies the pilot from its current speed.
func NewPilot(cfg Config) *Pilot {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}

	p := &Pilot{
		key:        cfg.Key,
		name:       cfg.Name,
		discordID:  cfg.DiscordID,
		phone:      cfg.Phone,
		email:      cfg.Email,
		th:         cfg.Thresholds,
		timeout:    cfg.Timeout,
		staleAfter: cfg.StaleAfter,
		events:     cfg.Events,
		log:        cfg.Logger.With().Str("pilot", cfg.Key).Logger(),
		now:        cfg.Now,
		state:      StateInitial,
	}

	p.mu.Lock()
	p.fireLocked(TriggerInit)
	p.mu.Unlock()

	p.log.Info().Str("state", string(p.State())).Msg("Pilot created")
	return p
}

// Key returns the pilot's stable tracking key.
func (p *Pilot) Key() string { return p.key }

// Name returns the pilot's display name.
func (p *Pilot) Name() string { return p.name }

// DiscordID returns the pilot's notification target id.
func (p *Pilot) DiscordID() string { return p.discordID }

// State returns the current status.
func (p *Pilot) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Status returns a copy of the pilot's live state.
func (p *Pilot) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Key:          p.key,
		Name:         p.name,
		DiscordID:    p.discordID,
		State:        p.state,
		Lat:          p.lat,
		Lon:          p.lon,
		Course:       p.course,
		AboveGround:  p.aboveGround,
		Speed:        p.speed,
		AverageSpeed: p.avgSpeed,
		LastSeen:     p.lastSeen,
	}
}

// Update applies one periodic refresh: record the latest values, evaluate the
// average-speed transition (excessive, then stopped, then moving, first match
// wins), then the staleness check. Both stages run on every refresh.
func (p *Pilot) Update(snap Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !snap.Timestamp.IsZero() {
		p.lastSeen = snap.Timestamp
	}
	p.lat = snap.Lat
	p.lon = snap.Lon
	if snap.Course != nil {
		p.course = *snap.Course
	}
	if snap.AboveGround != nil {
		p.aboveGround = *snap.AboveGround
	}
	if snap.Speed != nil {
		p.speed = *snap.Speed
	}
	p.avgSpeed = snap.AverageSpeed

	p.log.Debug().
		Float64("lat", p.lat).
		Float64("lon", p.lon).
		Float64("course", p.course).
		Float64("above_ground_m", p.aboveGround).
		Float64("speed_ms", p.speed).
		Float64("avg_speed_ms", p.avgSpeed).
		Time("last_seen", p.lastSeen).
		Msg("Refreshed pilot")

	switch {
	case p.avgSpeed > p.th.Excessive:
		p.fireLocked(TriggerSpeedExcessive)
	case p.avgSpeed > p.th.Moving:
		p.fireLocked(TriggerResumeFlight)
	case p.avgSpeed < p.th.Stopped && p.aboveGround < p.th.LandingAGL:
		p.fireLocked(TriggerSpeedStopped)
	}

	if p.lastSeen.IsZero() || p.now().Sub(p.lastSeen) > p.staleAfter {
		p.log.Warn().Time("last_seen", p.lastSeen).Msg("No fresh samples, considering disconnected")
		p.fireLocked(TriggerDisconnected)
	} else {
		p.fireLocked(TriggerConnected)
	}
}

// Confirm applies a human confirmation ("I am safe / I have landed"). It
// reports whether the confirmation moved the pilot to Landed.
func (p *Pilot) Confirm() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fireLocked(TriggerConfirmed)
}

// Close cancels any armed timer. Used on administrative removal.
func (p *Pilot) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelTimerLocked()
}

// fireLocked evaluates the transition table and runs exit and entry effects.
// The caller holds p.mu.
func (p *Pilot) fireLocked(tr Trigger) bool {
	dst, ok := Next(p.state, tr, p.speed, p.th)
	if !ok {
		return false
	}

	src := p.state
	p.exitLocked(src)
	p.state = dst
	p.log.Info().
		Str("trigger", string(tr)).
		Str("from", string(src)).
		Str("to", string(dst)).
		Msg("State transition")
	p.enterLocked(dst, tr)
	return true
}

func (p *Pilot) enterLocked(s State, tr Trigger) {
	switch s {
	case StateUnknown:
		p.fireLocked(TriggerCheck)
	case StateAwaitingClearance:
		p.emitLocked(EventClearanceRequest)
		p.armTimerLocked()
	case StateAlert:
		p.emitLocked(EventAlert)
		p.armTimerLocked()
	case StateLanded:
		if tr == TriggerConfirmed {
			p.emitLocked(EventLandingConfirmed)
		}
	case StateDisconnected:
		p.emitLocked(EventDisconnected)
	}
}

func (p *Pilot) exitLocked(s State) {
	switch s {
	case StateAwaitingClearance, StateAlert:
		p.cancelTimerLocked()
	}
}

func (p *Pilot) emitLocked(kind EventKind) {
	if p.events == nil {
		return
	}
	ev := Event{
		Kind:      kind,
		Key:       p.key,
		Name:      p.name,
		DiscordID: p.discordID,
		State:     p.state,
		Lat:       p.lat,
		Lon:       p.lon,
		At:        p.now(),
	}
	select {
	case p.events <- ev:
	default:
		p.log.Warn().Str("kind", string(kind)).Msg("Event channel full, dropping event")
	}
}

// armTimerLocked schedules the timeout trigger. The generation counter makes
// a fire racing its cancellation a no-op.
func (p *Pilot) armTimerLocked() {
	p.timerGen++
	gen := p.timerGen
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.timeout, func() {
		p.timeoutFired(gen)
	})
}

func (p *Pilot) cancelTimerLocked() {
	p.timerGen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Pilot) timeoutFired(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.timerGen {
		// Cancelled or re-armed after this fire was scheduled.
		return
	}
	p.fireLocked(TriggerTimeout)
}
