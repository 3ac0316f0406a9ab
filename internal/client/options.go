package client

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindsync/internal/proto"
)

const (
	DefaultAuthTimeout           = 5 * time.Second
	DefaultMaxReconnectAttempts  = 5
	DefaultInitialReconnectDelay = time.Second
	DefaultMaxReconnectDelay     = 30 * time.Second
	DefaultJoinGrace             = 800 * time.Millisecond
	DefaultJoinTimeout           = 5 * time.Second
	DefaultDebounceDelay         = 100 * time.Millisecond
	DefaultPublishRetries        = 2
	DefaultPublishRetryDelay     = 200 * time.Millisecond
	// DefaultMaxMessageBytes matches the server's default max_message_bytes.
	DefaultMaxMessageBytes int64 = 1 << 20
)

// Options configures a collaboration client. Zero durations and counts take
// the package defaults.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL string
	// Token is a bearer JWT. When empty, User is sent for a guest handshake.
	Token string
	User  string
	// Protocol overrides the announced protocol version.
	Protocol   int
	HTTPHeader http.Header
	// MaxMessageBytes bounds a single inbound frame.
	MaxMessageBytes int64

	AuthTimeout time.Duration
	// MaxReconnectAttempts bounds automatic reconnection. Negative disables it.
	MaxReconnectAttempts  int
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration

	JoinGrace   time.Duration
	JoinTimeout time.Duration

	DebounceDelay     time.Duration
	PublishRetries    int
	PublishRetryDelay time.Duration

	Logger *zerolog.Logger
	Clock  clock.Clock
}

func (o Options) withDefaults() Options {
	if o.Protocol == 0 {
		o.Protocol = proto.ProtocolVersion
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = DefaultAuthTimeout
	}
	if o.MaxReconnectAttempts == 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.InitialReconnectDelay <= 0 {
		o.InitialReconnectDelay = DefaultInitialReconnectDelay
	}
	if o.MaxReconnectDelay <= 0 {
		o.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	if o.JoinGrace <= 0 {
		o.JoinGrace = DefaultJoinGrace
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = DefaultJoinTimeout
	}
	if o.DebounceDelay <= 0 {
		o.DebounceDelay = DefaultDebounceDelay
	}
	if o.PublishRetries == 0 {
		o.PublishRetries = DefaultPublishRetries
	}
	if o.PublishRetryDelay <= 0 {
		o.PublishRetryDelay = DefaultPublishRetryDelay
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o
}

// dialURL adds the handshake query parameters to URL.
func (o Options) dialURL() (string, error) {
	u, err := url.Parse(o.URL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	q := u.Query()
	if o.Token != "" {
		q.Set("token", o.Token)
	} else if o.User != "" {
		q.Set("user", o.User)
	}
	q.Set("protocol", strconv.Itoa(o.Protocol))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
