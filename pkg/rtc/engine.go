/*
 * Engine - shared WebRTC factory.
 * One engine per client: media engine with default codecs, a setting
 * engine wired to the shared logger, and the ICE server configuration
 * every peer session inherits. At least one STUN server is always
 * configured; TURN is a deployment concern.
 */
package rtc

import (
	"github.com/pion/webrtc/v4"

	"github.com/streamroom/rtc_core/pkg/utils"
)

// Config holds peer connection configuration shared by all sessions.
type Config struct {
	// ICE servers for WebRTC connections
	ICEServers []webrtc.ICEServer
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// Engine owns the webrtc.API used to mint peer connections.
type Engine struct {
	config Config
	api    *webrtc.API
	logger *utils.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithWebRTCAPI sets a custom WebRTC API (used by tests to inject a
// vnet-backed setting engine).
func WithWebRTCAPI(api *webrtc.API) EngineOption {
	return func(e *Engine) { e.api = api }
}

// WithEngineLogger sets a custom logger.
func WithEngineLogger(l *utils.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine with default codecs registered.
func NewEngine(config Config, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		config: config,
		logger: utils.GetLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.api == nil {
		m := &webrtc.MediaEngine{}
		if err := m.RegisterDefaultCodecs(); err != nil {
			return nil, err
		}
		se := webrtc.SettingEngine{
			LoggerFactory: newLoggerFactory(e.logger),
		}
		e.api = webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithSettingEngine(se),
		)
	}

	return e, nil
}

// NewPeerConnection mints a peer connection with the engine's ICE
// configuration.
func (e *Engine) NewPeerConnection() (*webrtc.PeerConnection, error) {
	return e.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: e.config.ICEServers,
	})
}
