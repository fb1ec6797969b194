package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/iceservers"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/origin"
)

const (
	envVarListenAddr      = "LISTEN_ADDR"
	envVarPublicBaseURL   = "PUBLIC_BASE_URL"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarLogFormat       = "LOG_FORMAT"
	envVarLogLevel        = "LOG_LEVEL"
	envVarShutdownTimeout = "SHUTDOWN_TIMEOUT"
	envVarMode            = "MODE"

	// Room lifecycle.
	envVarRoomMode          = "ROOM_MODE"
	envVarRoomDefaultTTL    = "ROOM_DEFAULT_TTL"
	envVarRoomSweepInterval = "ROOM_SWEEP_INTERVAL"
	envVarNotifyPeerLeft    = "NOTIFY_PEER_LEFT"

	// Signaling WebSocket hardening.
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"

	// TURN REST credentials.
	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"

	// WhatsApp Cloud API and webhook.
	envVarVerifyToken        = "VERIFY_TOKEN"
	envVarPhoneNumberID      = "WABA_PHONE_NUMBER_ID"
	envVarWhatsAppToken      = "WHATSAPP_TOKEN"
	envVarWhatsAppAPIBaseURL = "WHATSAPP_API_BASE_URL"
	envVarWhatsAppAPIVersion = "WHATSAPP_API_VERSION"
	envVarWhatsAppTimeout    = "WHATSAPP_TIMEOUT"
	envVarDefaultCalleePhone = "DEFAULT_CALLEE_PHONE"
)

const (
	DefaultListenAddr    = "127.0.0.1:8080"
	DefaultPublicBaseURL = "http://localhost:8080"
	DefaultShutdown      = 15 * time.Second
	DefaultMode          = ModeDev

	DefaultRoomMode          = RoomModeToken
	DefaultRoomTTL           = 60 * time.Minute
	DefaultRoomSweepInterval = time.Minute

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = 64 * 1024
	DefaultMaxSignalingMessagesPerSecond = 50

	DefaultTURNRESTTTLSeconds     = 3600
	DefaultTURNRESTUsernamePrefix = "call"

	DefaultWhatsAppAPIBaseURL = "https://graph.facebook.com"
	DefaultWhatsAppAPIVersion = "v22.0"
	DefaultWhatsAppTimeout    = 30 * time.Second
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// RoomMode selects how signaling connections are admitted.
type RoomMode string

const (
	// RoomModeToken requires the per-participant token issued at creation.
	RoomModeToken RoomMode = "token"
	// RoomModeAnonymous admits the first two connections to any room ID.
	RoomModeAnonymous RoomMode = "anonymous"
)

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type WhatsAppConfig struct {
	PhoneNumberID string
	Token         string
	APIBaseURL    string
	APIVersion    string
	Timeout       time.Duration
}

// Configured reports whether outbound messages can be sent.
func (c WhatsAppConfig) Configured() bool {
	return c.PhoneNumberID != "" && c.Token != ""
}

type Config struct {
	ListenAddr      string
	PublicBaseURL   string
	AllowedOrigins  []string
	Origins         origin.Policy
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	RoomMode          RoomMode
	RoomDefaultTTL    time.Duration
	RoomSweepInterval time.Duration
	NotifyPeerLeft    bool

	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int

	// ICEServers is handed to browsers as configured. It falls back to
	// DefaultICEServers only when the configured list is absent or
	// unparseable.
	ICEServers iceservers.List
	TURNREST   TurnRESTConfig

	VerifyToken        string
	WhatsApp           WhatsAppConfig
	DefaultCalleePhone string

	iceConfigErr error
	iceWarnings  []error
}

// ICEConfigError returns why the configured ICE servers were rejected in
// favour of the defaults, or nil.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

// ICEServerWarnings lists entries of ICEServers that browsers are likely to
// reject. They are still handed out unchanged.
func (c Config) ICEServerWarnings() []error {
	return c.iceWarnings
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	publicBaseURL := envOrDefault(lookup, envVarPublicBaseURL, DefaultPublicBaseURL)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	roomModeStr := envOrDefault(lookup, envVarRoomMode, string(DefaultRoomMode))
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")
	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)
	verifyToken := envOrDefault(lookup, envVarVerifyToken, "")
	phoneNumberID := envOrDefault(lookup, envVarPhoneNumberID, "")
	whatsAppToken := envOrDefault(lookup, envVarWhatsAppToken, "")
	whatsAppAPIBaseURL := envOrDefault(lookup, envVarWhatsAppAPIBaseURL, DefaultWhatsAppAPIBaseURL)
	whatsAppAPIVersion := envOrDefault(lookup, envVarWhatsAppAPIVersion, DefaultWhatsAppAPIVersion)
	defaultCalleePhone := envOrDefault(lookup, envVarDefaultCalleePhone, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	roomDefaultTTL, err := envDurationOrDefault(lookup, envVarRoomDefaultTTL, DefaultRoomTTL)
	if err != nil {
		return Config{}, err
	}
	roomSweepInterval, err := envDurationOrDefault(lookup, envVarRoomSweepInterval, DefaultRoomSweepInterval)
	if err != nil {
		return Config{}, err
	}
	signalingWSIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	signalingWSPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	whatsAppTimeout, err := envDurationOrDefault(lookup, envVarWhatsAppTimeout, DefaultWhatsAppTimeout)
	if err != nil {
		return Config{}, err
	}

	notifyPeerLeft := false
	if raw, ok := lookup(envVarNotifyPeerLeft); ok && strings.TrimSpace(raw) != "" {
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarNotifyPeerLeft, raw, err)
		}
		notifyPeerLeft = v
	}

	maxSignalingMessageBytes := int64(DefaultMaxSignalingMessageBytes)
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingMessageBytes, raw, err)
		}
		maxSignalingMessageBytes = n
	}
	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	turnRESTTTLSeconds := int64(DefaultTURNRESTTTLSeconds)
	if raw, ok := lookup(envVarTURNRESTTTLSeconds); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarTURNRESTTTLSeconds, raw, err)
		}
		turnRESTTTLSeconds = n
	}

	fs := flag.NewFlagSet("aero-webrtc-call-broker", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&publicBaseURL, "public-base-url", publicBaseURL, "Public base URL used to build participant links (env "+envVarPublicBaseURL+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")

	fs.StringVar(&roomModeStr, "room-mode", roomModeStr, "Room admission: token or anonymous (env "+envVarRoomMode+")")
	fs.DurationVar(&roomDefaultTTL, "room-default-ttl", roomDefaultTTL, "Lifetime of rooms created without an explicit TTL (env "+envVarRoomDefaultTTL+")")
	fs.DurationVar(&roomSweepInterval, "room-sweep-interval", roomSweepInterval, "Background sweep interval for expired rooms (0 = disabled; env "+envVarRoomSweepInterval+")")
	fs.BoolVar(&notifyPeerLeft, "notify-peer-left", notifyPeerLeft, "Send a peer-left control message when a participant disconnects (env "+envVarNotifyPeerLeft+")")

	fs.DurationVar(&signalingWSIdleTimeout, "signaling-ws-idle-timeout", signalingWSIdleTimeout, "Close signaling WebSockets that stop answering pings after this duration (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&signalingWSPingInterval, "signaling-ws-ping-interval", signalingWSPingInterval, "Signaling WebSocket ping interval (env "+envVarSignalingWSPingInterval+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Max inbound signaling frame size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", maxSignalingMessagesPerSecond, "Max inbound signaling frames per second per connection (0 = unlimited; env "+envVarMaxSignalingMessagesPerSecond+")")

	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "TURN REST shared secret ("+envVarTURNRESTSharedSecret+")")
	fs.Int64Var(&turnRESTTTLSeconds, "turn-rest-ttl-seconds", turnRESTTTLSeconds, "TURN REST credential TTL seconds ("+envVarTURNRESTTTLSeconds+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix ("+envVarTURNRESTUsernamePrefix+")")

	fs.StringVar(&verifyToken, "verify-token", verifyToken, "WhatsApp webhook verification secret (env "+envVarVerifyToken+")")
	fs.StringVar(&phoneNumberID, "waba-phone-number-id", phoneNumberID, "WhatsApp Business phone number ID (env "+envVarPhoneNumberID+")")
	fs.StringVar(&whatsAppToken, "whatsapp-token", whatsAppToken, "WhatsApp Cloud API bearer token (env "+envVarWhatsAppToken+")")
	fs.StringVar(&whatsAppAPIBaseURL, "whatsapp-api-base-url", whatsAppAPIBaseURL, "WhatsApp Cloud API base URL (env "+envVarWhatsAppAPIBaseURL+")")
	fs.StringVar(&whatsAppAPIVersion, "whatsapp-api-version", whatsAppAPIVersion, "WhatsApp Cloud API version (env "+envVarWhatsAppAPIVersion+")")
	fs.DurationVar(&whatsAppTimeout, "whatsapp-timeout", whatsAppTimeout, "Timeout for outbound WhatsApp requests (env "+envVarWhatsAppTimeout+")")
	fs.StringVar(&defaultCalleePhone, "default-callee-phone", defaultCalleePhone, "Callee used when a trigger message names nobody (env "+envVarDefaultCalleePhone+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	// If the mode flag was set but the log settings were not explicitly chosen via
	// env/flags, follow the mode's defaults.
	logFormatFlagSet := false
	logLevelFlagSet := false
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-format":
			logFormatFlagSet = true
		case "log-level":
			logLevelFlagSet = true
		}
	})
	if !envLogFormatSet && !logFormatFlagSet {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !logLevelFlagSet {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}
	roomMode, err := parseRoomMode(roomModeStr)
	if err != nil {
		return Config{}, err
	}

	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if roomDefaultTTL <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarRoomDefaultTTL)
	}
	if roomSweepInterval < 0 {
		return Config{}, fmt.Errorf("%s must be >= 0", envVarRoomSweepInterval)
	}
	if signalingWSIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarSignalingWSIdleTimeout)
	}
	if signalingWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarSignalingWSPingInterval)
	}
	if signalingWSPingInterval >= signalingWSIdleTimeout {
		return Config{}, fmt.Errorf("%s (%s) must be less than %s (%s)",
			envVarSignalingWSPingInterval, signalingWSPingInterval, envVarSignalingWSIdleTimeout, signalingWSIdleTimeout)
	}
	if maxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarMaxSignalingMessageBytes)
	}
	if maxSignalingMessagesPerSecond < 0 {
		return Config{}, fmt.Errorf("%s must be >= 0", envVarMaxSignalingMessagesPerSecond)
	}
	if whatsAppTimeout <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarWhatsAppTimeout)
	}

	publicBaseURL, err = parseBaseURL(publicBaseURL)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envVarPublicBaseURL, err)
	}
	whatsAppAPIBaseURL, err = parseBaseURL(whatsAppAPIBaseURL)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envVarWhatsAppAPIBaseURL, err)
	}

	allowedOrigins := splitCommaSeparated(allowedOriginsStr)
	origins, err := origin.NewPolicy(allowedOrigins)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envVarAllowedOrigins, err)
	}

	turnREST := TurnRESTConfig{
		SharedSecret:   turnRESTSharedSecret,
		TTLSeconds:     turnRESTTTLSeconds,
		UsernamePrefix: turnRESTUsernamePrefix,
	}
	if turnREST.Enabled() {
		if turnREST.TTLSeconds <= 0 {
			return Config{}, fmt.Errorf("%s must be > 0", envVarTURNRESTTTLSeconds)
		}
		if turnREST.UsernamePrefix == "" || strings.Contains(turnREST.UsernamePrefix, ":") {
			return Config{}, fmt.Errorf("%s must be non-empty and must not contain ':'", envVarTURNRESTUsernamePrefix)
		}
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		PublicBaseURL:   publicBaseURL,
		AllowedOrigins:  allowedOrigins,
		Origins:         origins,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,
		Mode:            mode,

		RoomMode:          roomMode,
		RoomDefaultTTL:    roomDefaultTTL,
		RoomSweepInterval: roomSweepInterval,
		NotifyPeerLeft:    notifyPeerLeft,

		SignalingWSIdleTimeout:        signalingWSIdleTimeout,
		SignalingWSPingInterval:       signalingWSPingInterval,
		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,

		TURNREST: turnREST,

		VerifyToken: verifyToken,
		WhatsApp: WhatsAppConfig{
			PhoneNumberID: strings.TrimSpace(phoneNumberID),
			Token:         strings.TrimSpace(whatsAppToken),
			APIBaseURL:    whatsAppAPIBaseURL,
			APIVersion:    strings.Trim(strings.TrimSpace(whatsAppAPIVersion), "/"),
			Timeout:       whatsAppTimeout,
		},
		DefaultCalleePhone: strings.TrimSpace(defaultCalleePhone),
	}

	cfg.ICEServers, cfg.iceConfigErr = resolveICEServers(
		iceServersJSON,
		stunURLs,
		turnURLs,
		turnUsername,
		turnCredential,
	)
	cfg.iceWarnings = cfg.ICEServers.Validate(turnREST.Enabled())

	return cfg, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseRoomMode(raw string) (RoomMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(RoomModeToken):
		return RoomModeToken, nil
	case string(RoomModeAnonymous):
		return RoomModeAnonymous, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected token or anonymous)", envVarRoomMode, raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

// parseBaseURL accepts an absolute http(s) URL without query or fragment and
// returns it without a trailing slash.
func parseBaseURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%q: missing host", raw)
	}
	if u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return "", fmt.Errorf("%q: must not include credentials, query or fragment", raw)
	}
	return strings.TrimRight(trimmed, "/"), nil
}
