package main

import (
	"log/slog"
	"net/url"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/config"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.VerifyToken == "" {
		logger.Warn("startup warning: VERIFY_TOKEN is empty; webhook verification will always be rejected",
			"warning_code", "verify_token_empty",
			"mode", cfg.Mode,
		)
	}

	if !cfg.WhatsApp.Configured() {
		logger.Warn("startup warning: WABA_PHONE_NUMBER_ID/WHATSAPP_TOKEN not set; webhook replies and invitations will not be delivered",
			"warning_code", "whatsapp_not_configured",
			"phone_number_id_set", cfg.WhatsApp.PhoneNumberID != "",
			"token_set", cfg.WhatsApp.Token != "",
			"mode", cfg.Mode,
		)
	}

	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("startup warning: invalid ICE server configuration; falling back to default STUN server",
			"warning_code", "ice_config_fallback",
			"err", err,
			"mode", cfg.Mode,
		)
	}

	for _, warn := range cfg.ICEServerWarnings() {
		logger.Warn("startup warning: ICE server entry is likely to be rejected by browsers; serving it unchanged",
			"warning_code", "ice_server_invalid",
			"err", warn,
			"mode", cfg.Mode,
		)
	}

	if cfg.Origins.AllowsAny() {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.RoomMode == config.RoomModeAnonymous && cfg.Mode == config.ModeProd {
		logger.Warn("startup security warning: ROOM_MODE=anonymous while --mode=prod (anyone who knows a room ID can join it)",
			"warning_code", "room_mode_anonymous_in_prod",
			"room_mode", cfg.RoomMode,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd {
		if u, err := url.Parse(cfg.PublicBaseURL); err == nil && u.Scheme == "http" {
			logger.Warn("startup security warning: PUBLIC_BASE_URL is plain http while --mode=prod (room links carry join tokens)",
				"warning_code", "public_base_url_insecure_in_prod",
				"public_base_url", cfg.PublicBaseURL,
				"mode", cfg.Mode,
			)
		}
		if cfg.MaxSignalingMessagesPerSecond <= 0 {
			logger.Warn("startup security warning: MAX_SIGNALING_MESSAGES_PER_SECOND is unset/0 (unlimited) while --mode=prod",
				"warning_code", "signaling_rate_limit_disabled_in_prod",
				"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
				"mode", cfg.Mode,
			)
		}
	}

	if cfg.RoomSweepInterval <= 0 {
		logger.Warn("startup warning: ROOM_SWEEP_INTERVAL is 0; expired rooms are only collected when new rooms are created",
			"warning_code", "room_sweep_disabled",
			"mode", cfg.Mode,
		)
	}
}
