package server

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/hearth/internal/history"
	"github.com/Tyrowin/hearth/internal/identity"
	"github.com/Tyrowin/hearth/internal/logging"
	"github.com/Tyrowin/hearth/internal/metrics"
	"github.com/Tyrowin/hearth/internal/presence"
	"github.com/Tyrowin/hearth/internal/ratelimit"
)

const whisperPrefix = "/w "

// Policies are the per-connection rate limits.
type Policies struct {
	Message     ratelimit.Policy
	SetCoords   ratelimit.Policy
	SetLocation ratelimit.Policy
}

// DefaultPolicies are 5 messages per 10s and 5 location changes per minute.
func DefaultPolicies() Policies {
	return Policies{
		Message:     ratelimit.Policy{Max: 5, Window: 10 * time.Second},
		SetCoords:   ratelimit.Policy{Max: 5, Window: time.Minute},
		SetLocation: ratelimit.Policy{Max: 5, Window: time.Minute},
	}
}

// Dispatcher applies inbound events from connections.
type Dispatcher struct {
	hub      *Hub
	registry *presence.Registry
	limiter  *ratelimit.Limiter
	history  *history.Store
	resolver *identity.Resolver
	policies Policies

	now   func() time.Time
	newID func() string
}

// NewDispatcher returns a Dispatcher.
func NewDispatcher(hub *Hub, registry *presence.Registry, limiter *ratelimit.Limiter, store *history.Store, resolver *identity.Resolver, policies Policies) *Dispatcher {
	return &Dispatcher{
		hub:      hub,
		registry: registry,
		limiter:  limiter,
		history:  store,
		resolver: resolver,
		policies: policies,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Handle routes env to its handler. Unknown events are ignored.
func (d *Dispatcher) Handle(c *Client, env Envelope) {
	switch env.Type {
	case EventSetCoords:
		metrics.RecordInbound(env.Type)
		d.handleSetCoords(c, env)
	case EventSetLocation:
		metrics.RecordInbound(env.Type)
		d.handleSetLocation(c, env)
	case EventChatMessage:
		metrics.RecordInbound(env.Type)
		d.handleChatMessage(c, env)
	default:
		logging.Debug().Str("conn_id", c.id).Str("event", env.Type).Msg("ignoring unknown event")
	}
}

func (d *Dispatcher) sendError(c *Client, reason string) {
	d.hub.Unicast(c.id, mustEncode(EventError, reason))
}

func (d *Dispatcher) allow(c *Client, key, policy string, p ratelimit.Policy) bool {
	if d.limiter.AllowPolicy(key, p) {
		return true
	}
	metrics.RecordRateLimited(policy)
	logging.Debug().Str("conn_id", c.id).Str("policy", policy).Msg("rate limited")
	return false
}

func (d *Dispatcher) handleSetCoords(c *Client, env Envelope) {
	if !d.allow(c, ratelimit.ActionKey(c.id, EventSetCoords), EventSetCoords, d.policies.SetCoords) {
		d.sendError(c, ErrTextTooManyLocationChanges)
		return
	}

	coords, ok := decodeCoords(env.Data)
	if !ok {
		return
	}
	if !d.registry.SetCoords(c.id, d.resolver.Jitter(coords)) {
		return
	}
	d.hub.BroadcastRoster()
}

func (d *Dispatcher) handleSetLocation(c *Client, env Envelope) {
	if !d.allow(c, ratelimit.ActionKey(c.id, EventSetLocation), EventSetLocation, d.policies.SetLocation) {
		d.sendError(c, ErrTextTooManyLocationChanges)
		return
	}

	loc, ok := decodeLocation(env.Data)
	if !ok {
		d.sendError(c, ErrTextInvalidLocation)
		return
	}
	if d.registry.SetLocation(c.id, loc) {
		d.hub.JoinScope(c.id, loc)
	}
}

func (d *Dispatcher) handleChatMessage(c *Client, env Envelope) {
	raw, payload, ok := decodeChatText(env.Data)
	if !ok {
		d.sendError(c, ErrTextInvalidMessage)
		return
	}
	if !textWithinLimit(raw) {
		d.sendError(c, ErrTextMessageTooLong)
		return
	}
	if !d.allow(c, ratelimit.MessageKey(c.id), "message", d.policies.Message) {
		d.sendError(c, ErrTextSlowDown)
		return
	}

	text := sanitizeText(raw)
	if text == "" {
		return
	}

	sender, ok := d.registry.Get(c.id)
	if !ok {
		return
	}

	if strings.HasPrefix(text, whisperPrefix) {
		d.handleWhisper(c, sender, text)
		return
	}

	msg := history.Message{
		ID:        d.newID(),
		User:      sender.DisplayName,
		Text:      text,
		Location:  sender.Location,
		Timestamp: history.Stamp(d.now()),
		Verified:  sender.Verified,
		ReplyTo:   decodeReply(payload.ReplyTo),
	}
	frame := mustEncode(EventChatMessage, msg)

	if msg.Location == presence.Global {
		d.hub.BroadcastGlobal(frame)
	} else {
		d.hub.BroadcastScopeAndGlobal(msg.Location, frame)
	}
	d.history.Append(msg)
	metrics.MessagesBroadcast.Inc()
}

// handleWhisper delivers "/w <name> <text>" to the named connection and
// echoes it to the sender.
func (d *Dispatcher) handleWhisper(c *Client, sender presence.Identity, text string) {
	parts := strings.Split(strings.TrimPrefix(text, whisperPrefix), " ")
	target := parts[0]
	body := strings.Join(parts[1:], " ")

	if target == "" || body == "" {
		metrics.RecordWhisper("usage")
		d.sendError(c, ErrTextWhisperUsage)
		return
	}

	targetID, ok := d.registry.FindByDisplayName(target)
	if !ok {
		metrics.RecordWhisper("not_found")
		d.sendError(c, `User "`+target+`" not found`)
		return
	}

	frame := mustEncode(EventWhisper, history.Whisper{
		ID:        d.newID(),
		From:      sender.DisplayName,
		To:        target,
		Text:      body,
		Timestamp: history.Stamp(d.now()),
		IsWhisper: true,
	})
	d.hub.Unicast(targetID, frame)
	if targetID != c.id {
		d.hub.Unicast(c.id, frame)
	}
	metrics.RecordWhisper("delivered")
}

// welcomeFrames are queued to a new connection before anyone else hears of
// it.
func welcomeFrames(name string, verified bool, msgs []history.Message, playlist string) [][]byte {
	if msgs == nil {
		msgs = []history.Message{}
	}
	return [][]byte{
		mustEncode(EventWelcome, WelcomePayload{Username: name, IsAuthenticated: verified}),
		mustEncode(EventChatHistory, msgs),
		mustEncode(EventPlaylistUpdate, playlist),
	}
}

// systemGreeting is the chat line announcing a new connection. It is not
// stored in history.
func (d *Dispatcher) systemGreeting(name string) []byte {
	return mustEncode(EventChatMessage, history.Message{
		ID:        "system-" + d.newID(),
		User:      "hearth",
		Text:      "welcome " + name + ", enjoy the vibe",
		Location:  presence.Global,
		Timestamp: history.Stamp(d.now()),
		IsSystem:  true,
	})
}
