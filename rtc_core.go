/*
 * rtccore - realtime signaling and peer session orchestration for
 * watch-party rooms.
 *
 * The hosting application creates one Client per participant. The
 * client owns the single signaling transport, the room session, and
 * at most one screen share and one voice chat session, all
 * multiplexed over that transport.
 */
package rtccore

import (
	"context"

	"github.com/google/uuid"

	"github.com/streamroom/rtc_core/pkg/bridge"
	"github.com/streamroom/rtc_core/pkg/media"
	"github.com/streamroom/rtc_core/pkg/rtc"
	"github.com/streamroom/rtc_core/pkg/screenshare"
	"github.com/streamroom/rtc_core/pkg/session"
	"github.com/streamroom/rtc_core/pkg/transport"
	"github.com/streamroom/rtc_core/pkg/voice"
)

// Config configures a Client. SignalingURL is the only required
// field; zero values fall back to defaults.
type Config struct {
	// SignalingURL is the websocket endpoint of the signaling relay.
	SignalingURL string

	// LocalID identifies this participant. Generated when empty.
	LocalID string

	// LocalName is the display name sent with share notices and chat.
	LocalName string

	// Transport overrides the transport defaults when non-nil.
	Transport *transport.Config

	// RTC overrides the peer connection defaults when non-nil.
	RTC *rtc.Config

	// BridgeURL enables the SFU offload bridge when non-empty.
	BridgeURL string
}

type clientOptions struct {
	transportOpts []transport.Option
	engineOpts    []rtc.EngineOption
	voiceOpts     []voice.Option
	provider      media.CaptureProvider
}

// Option customizes a Client.
type Option func(*clientOptions)

// WithTokenProvider supplies the bearer token source for the
// signaling transport.
func WithTokenProvider(p transport.TokenProvider) Option {
	return func(o *clientOptions) {
		o.transportOpts = append(o.transportOpts, transport.WithTokenProvider(p))
	}
}

// WithDialFunc overrides how the transport dials the relay.
func WithDialFunc(d transport.DialFunc) Option {
	return func(o *clientOptions) {
		o.transportOpts = append(o.transportOpts, transport.WithDialFunc(d))
	}
}

// WithCaptureProvider supplies the platform capture implementation.
// Without one the client is receive-only.
func WithCaptureProvider(p media.CaptureProvider) Option {
	return func(o *clientOptions) { o.provider = p }
}

// WithEngineOptions forwards options to the WebRTC engine.
func WithEngineOptions(opts ...rtc.EngineOption) Option {
	return func(o *clientOptions) {
		o.engineOpts = append(o.engineOpts, opts...)
	}
}

// WithVoiceOptions forwards options to the voice session.
func WithVoiceOptions(opts ...voice.Option) Option {
	return func(o *clientOptions) {
		o.voiceOpts = append(o.voiceOpts, opts...)
	}
}

// Client is the embedding surface for one participant.
type Client struct {
	config Config

	transport *transport.Transport
	engine    *rtc.Engine
	room      *session.Room
	screen    *screenshare.Session
	voice     *voice.Session
	bridge    *bridge.Bridge
}

// NewClient builds the full stack: transport, room session and both
// feature sessions, sharing one engine and one transport.
func NewClient(config Config, opts ...Option) (*Client, error) {
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	if config.LocalID == "" {
		config.LocalID = uuid.NewString()
	}

	transportConfig := transport.DefaultConfig(config.SignalingURL)
	if config.Transport != nil {
		transportConfig = *config.Transport
	}
	rtcConfig := rtc.DefaultConfig()
	if config.RTC != nil {
		rtcConfig = *config.RTC
	}

	engine, err := rtc.NewEngine(rtcConfig, o.engineOpts...)
	if err != nil {
		return nil, err
	}

	c := &Client{config: config}
	c.transport = transport.New(transportConfig, o.transportOpts...)
	c.room = session.NewRoom(c.transport, config.LocalID, config.LocalName)
	c.engine = engine
	c.screen = screenshare.NewSession(c.room, engine, o.provider)
	c.voice = voice.NewSession(c.room, engine, o.provider, o.voiceOpts...)

	registerClient(config.LocalID, c)
	return c, nil
}

// Connect brings the signaling transport up.
func (c *Client) Connect(ctx context.Context) {
	c.transport.Connect(ctx)
}

// Disconnect closes the signaling transport without touching the
// room membership; features keep their state and re-announce on the
// next connect.
func (c *Client) Disconnect() {
	c.transport.Disconnect()
}

// Join enters a room. At most one membership exists at a time.
func (c *Client) Join(roomID string) error {
	return c.room.Join(roomID)
}

// Leave exits the room. All feature peer sessions close before Leave
// returns, regardless of transport state.
func (c *Client) Leave(roomID string) error {
	return c.room.Leave(roomID)
}

// Transport exposes the underlying signaling transport.
func (c *Client) Transport() *transport.Transport { return c.transport }

// Room exposes the room session.
func (c *Client) Room() *session.Room { return c.room }

// ScreenShare exposes the screen share session.
func (c *Client) ScreenShare() *screenshare.Session { return c.screen }

// Voice exposes the voice chat session.
func (c *Client) Voice() *voice.Session { return c.voice }

// Bridge returns the SFU offload bridge, creating it on first use.
// Returns nil when no BridgeURL is configured.
func (c *Client) Bridge(roomID string) *bridge.Bridge {
	if c.config.BridgeURL == "" {
		return nil
	}
	if c.bridge == nil {
		c.bridge = bridge.NewBridge(roomID)
	}
	return c.bridge
}

// BridgeURL returns the configured SFU endpoint.
func (c *Client) BridgeURL() string { return c.config.BridgeURL }

// Close tears everything down in dependency order: features first,
// then the membership, then the transport. It returns once all peer
// sessions, tracks and loops have stopped.
func (c *Client) Close() {
	c.screen.Close()
	c.voice.Close()

	if member, ok := c.room.Membership(); ok {
		_ = c.room.Leave(member.RoomID)
	}
	if c.bridge != nil {
		c.bridge.Disconnect()
	}
	c.room.Close()
	c.transport.Close()

	unregisterClient(c.config.LocalID)
}
