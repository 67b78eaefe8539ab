// Package guardian coordinates the monitored pilots: it owns the pilot
// registry, turns flight events into Discord prompts, and routes replies and
// reactions back to the right pilot's confirmation workflow.
package guardian

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vol-libre/guardian-angel/pkg/events"
	"github.com/vol-libre/guardian-angel/pkg/flight"
	"github.com/vol-libre/guardian-angel/pkg/notify"
)

// DefaultTrackBaseURL is the public live-tracking site linked from prompts.
const DefaultTrackBaseURL = "https://puretrack.io"

// sendTimeout bounds a single notification delivery from the event loop.
const sendTimeout = 2 * time.Minute

// confirmWords are the reply contents accepted as a confirmation,
// case-insensitive.
var confirmWords = map[string]struct{}{
	"yes": {},
	"y":   {},
	"oui": {},
	"o":   {},
}

// confirmEmojis are the reactions accepted as a confirmation.
var confirmEmojis = map[string]struct{}{
	"👍": {},
	"👌": {},
}

// PilotSpec describes one pilot to monitor.
type PilotSpec struct {
	Key       string
	Name      string
	DiscordID string
	Phone     string
	Email     string
}

// Config configures the coordinator.
type Config struct {
	Notifier   notify.Notifier
	Publisher  events.Publisher
	Thresholds flight.Thresholds
	Timeout    time.Duration
	StaleAfter time.Duration

	// TrackBaseURL is the live-tracking site linked from every prompt.
	TrackBaseURL string

	// Group is the tracking site group whose map the link opens, so a
	// responder sees the whole club around the pilot, not a lone marker.
	Group string
}

// Guardian is the coordination hub. It implements notify.Handler for inbound
// confirmations and monitor.PilotSource for the scheduler.
type Guardian struct {
	cfg Config
	log zerolog.Logger

	events chan flight.Event

	mu      sync.Mutex
	pilots  map[string]*flight.Pilot
	prompts map[string]notify.Prompt // message id -> prompt
	byPilot map[string]string        // pilot key -> outstanding message id
}

// New creates a coordinator. Run must be called for events to be delivered.
func New(cfg Config, logger zerolog.Logger) *Guardian {
	if cfg.Publisher == nil {
		cfg.Publisher = events.Noop{}
	}
	if cfg.TrackBaseURL == "" {
		cfg.TrackBaseURL = DefaultTrackBaseURL
	}
	return &Guardian{
		cfg:     cfg,
		log:     logger.With().Str("component", "guardian").Logger(),
		events:  make(chan flight.Event, 64),
		pilots:  make(map[string]*flight.Pilot),
		prompts: make(map[string]notify.Prompt),
		byPilot: make(map[string]string),
	}
}

// AddPilot registers a pilot and starts its state machine.
func (g *Guardian) AddPilot(spec PilotSpec) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if spec.Key == "" {
		return fmt.Errorf("pilot spec has no tracker key")
	}
	if _, ok := g.pilots[spec.Key]; ok {
		return fmt.Errorf("pilot %q already registered", spec.Key)
	}

	g.pilots[spec.Key] = flight.NewPilot(flight.Config{
		Key:        spec.Key,
		Name:       spec.Name,
		DiscordID:  spec.DiscordID,
		Phone:      spec.Phone,
		Email:      spec.Email,
		Thresholds: g.cfg.Thresholds,
		Timeout:    g.cfg.Timeout,
		StaleAfter: g.cfg.StaleAfter,
		Events:     g.events,
		Logger:     g.log,
	})
	g.log.Info().Str("pilot", spec.Key).Str("name", spec.Name).Msg("Pilot registered")
	return nil
}

// RemovePilot stops monitoring a pilot and forgets any outstanding prompt.
func (g *Guardian) RemovePilot(key string) {
	g.mu.Lock()
	p, ok := g.pilots[key]
	if ok {
		delete(g.pilots, key)
		g.clearPromptLocked(key)
	}
	g.mu.Unlock()

	if ok {
		p.Close()
		g.log.Info().Str("pilot", key).Msg("Pilot removed")
	}
}

// Pilots returns the monitored pilots, satisfying monitor.PilotSource.
func (g *Guardian) Pilots() []*flight.Pilot {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*flight.Pilot, 0, len(g.pilots))
	for _, p := range g.pilots {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Status returns one pilot's status.
func (g *Guardian) Status(key string) (flight.Status, bool) {
	g.mu.Lock()
	p, ok := g.pilots[key]
	g.mu.Unlock()

	if !ok {
		return flight.Status{}, false
	}
	return p.Status(), true
}

// Statuses returns every pilot's status, ordered by key.
func (g *Guardian) Statuses() []flight.Status {
	pilots := g.Pilots()
	out := make([]flight.Status, 0, len(pilots))
	for _, p := range pilots {
		out = append(out, p.Status())
	}
	return out
}

// Run consumes flight events until the context is cancelled, closing all
// pilots on the way out.
func (g *Guardian) Run(ctx context.Context) error {
	defer g.closeAll()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-g.events:
			g.handleEvent(ctx, ev)
		}
	}
}

func (g *Guardian) closeAll() {
	g.mu.Lock()
	pilots := make([]*flight.Pilot, 0, len(g.pilots))
	for _, p := range g.pilots {
		pilots = append(pilots, p)
	}
	g.mu.Unlock()

	for _, p := range pilots {
		p.Close()
	}
}

func (g *Guardian) handleEvent(ctx context.Context, ev flight.Event) {
	g.cfg.Publisher.Publish(ev)

	switch ev.Kind {
	case flight.EventClearanceRequest:
		g.prompt(ctx, ev, g.clearanceMessage(ev))
	case flight.EventAlert:
		g.prompt(ctx, ev, g.alertMessage(ev))
	case flight.EventLandingConfirmed:
		g.mu.Lock()
		g.clearPromptLocked(ev.Key)
		g.mu.Unlock()
		g.send(ctx, g.byeMessage(ev))
	case flight.EventDisconnected:
		// Mirrored above for observers; no prompt.
		g.log.Warn().Str("pilot", ev.Key).Msg("Pilot telemetry went stale")
	default:
		g.log.Warn().Str("kind", string(ev.Kind)).Msg("Unhandled event kind")
	}
}

// prompt sends a confirmation request and records the resulting message id.
// A new prompt supersedes any outstanding one for the same pilot.
func (g *Guardian) prompt(ctx context.Context, ev flight.Event, text string) {
	id := g.send(ctx, text)
	if id == "" {
		return
	}

	g.mu.Lock()
	g.clearPromptLocked(ev.Key)
	g.prompts[id] = notify.Prompt{MessageID: id, Key: ev.Key, RecipientID: ev.DiscordID}
	g.byPilot[ev.Key] = id
	g.mu.Unlock()

	g.log.Info().
		Str("pilot", ev.Key).
		Str("kind", string(ev.Kind)).
		Str("message_id", id).
		Msg("Confirmation prompt sent")
}

func (g *Guardian) send(ctx context.Context, text string) string {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	id, err := g.cfg.Notifier.Send(ctx, text)
	if err != nil {
		g.log.Error().Err(err).Msg("Notification delivery failed")
		return ""
	}
	return id
}

func (g *Guardian) clearPromptLocked(key string) {
	if id, ok := g.byPilot[key]; ok {
		delete(g.prompts, id)
		delete(g.byPilot, key)
	}
}

// OnReply handles a reply to one of our messages.
func (g *Guardian) OnReply(ctx context.Context, r notify.Reply) {
	prompt, ok := g.lookupPrompt(r.MessageID)
	if !ok {
		return
	}
	if prompt.RecipientID != "" && r.AuthorID != prompt.RecipientID {
		g.send(ctx, g.notAddressedMessage(r.AuthorID))
		return
	}
	if _, ok := confirmWords[strings.ToLower(strings.TrimSpace(r.Content))]; !ok {
		return
	}
	g.confirm(prompt)
}

// OnReaction handles an emoji reaction on one of our messages.
func (g *Guardian) OnReaction(ctx context.Context, r notify.Reaction) {
	prompt, ok := g.lookupPrompt(r.MessageID)
	if !ok {
		return
	}
	if prompt.RecipientID != "" && r.AuthorID != prompt.RecipientID {
		g.send(ctx, g.notAddressedMessage(r.AuthorID))
		return
	}
	if _, ok := confirmEmojis[r.Emoji]; !ok {
		return
	}
	g.confirm(prompt)
}

func (g *Guardian) lookupPrompt(messageID string) (notify.Prompt, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.prompts[messageID]
	return p, ok
}

func (g *Guardian) confirm(prompt notify.Prompt) {
	g.mu.Lock()
	p, ok := g.pilots[prompt.Key]
	g.mu.Unlock()
	if !ok {
		return
	}

	if p.Confirm() {
		g.mu.Lock()
		g.clearPromptLocked(prompt.Key)
		g.mu.Unlock()
		g.log.Info().Str("pilot", prompt.Key).Msg("Landing confirmed by pilot")
	}
}

func (g *Guardian) clearanceMessage(ev flight.Event) string {
	return fmt.Sprintf("%s it looks like you have landed. All good? Reply yes or react with 👍 to confirm. %s",
		g.mention(ev), g.trackLink(ev))
}

func (g *Guardian) alertMessage(ev flight.Event) string {
	return fmt.Sprintf("🚨 %s has not confirmed being safe. Someone please check on them! Last position: %s",
		g.mention(ev), g.trackLink(ev))
}

func (g *Guardian) byeMessage(ev flight.Event) string {
	return fmt.Sprintf("Thanks %s, glad you are safe. See you next flight! 🪂", g.mention(ev))
}

func (g *Guardian) notAddressedMessage(authorID string) string {
	return fmt.Sprintf("<@%s> this question was not addressed to you.", authorID)
}

// mention renders a Discord mention when the pilot's id is known, otherwise
// falls back to the display name.
func (g *Guardian) mention(ev flight.Event) string {
	if ev.DiscordID != "" {
		return fmt.Sprintf("<@%s>", ev.DiscordID)
	}
	return ev.Name
}

// trackLink builds the live map link for a prompt: the pilot's last position,
// the group overlay when configured, and the pilot's tracker highlighted.
func (g *Guardian) trackLink(ev flight.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/?l=%.5f,%.5f&z=15", g.cfg.TrackBaseURL, ev.Lat, ev.Lon)
	if g.cfg.Group != "" {
		fmt.Fprintf(&b, "&group=%s", url.QueryEscape(g.cfg.Group))
	}
	fmt.Fprintf(&b, "&k=%s", url.QueryEscape(ev.Key))
	return b.String()
}
