package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/roomapi"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/rooms"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/turnrest"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/webhook"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/whatsapp"
)

// app owns every long-lived component of the broker.
type app struct {
	log     *slog.Logger
	cfg     config.Config
	metrics *metrics.Metrics
	store   *rooms.Store
	relay   *signaling.Relay
	webhook *webhook.Handler
	srv     *httpserver.Server

	stopJanitor context.CancelFunc
	janitorDone chan struct{}
}

func newApp(cfg config.Config, logger *slog.Logger, build httpserver.BuildInfo) (*app, error) {
	m := metrics.New()

	store := rooms.NewStore(rooms.Options{
		Mode:       rooms.Mode(cfg.RoomMode),
		DefaultTTL: cfg.RoomDefaultTTL,
		BaseURL:    cfg.PublicBaseURL,
		Metrics:    m,
		Logger:     logger,
	})

	var turn *turnrest.Generator
	if cfg.TURNREST.Enabled() {
		g, err := turnrest.NewGenerator(turnrest.Config{
			SharedSecret:   cfg.TURNREST.SharedSecret,
			TTL:            time.Duration(cfg.TURNREST.TTLSeconds) * time.Second,
			UsernamePrefix: cfg.TURNREST.UsernamePrefix,
		})
		if err != nil {
			return nil, err
		}
		turn = g
	}

	relay, err := signaling.New(signaling.Config{
		Rooms:                store,
		ICEServers:           cfg.ICEServers,
		TURNREST:             turn,
		Origins:              cfg.Origins,
		NotifyPeerLeft:       cfg.NotifyPeerLeft,
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		PingInterval:         cfg.SignalingWSPingInterval,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		Metrics:              m,
		Logger:               logger,
	})
	if err != nil {
		return nil, err
	}

	var notifier whatsapp.Notifier
	client := whatsapp.NewClient(whatsapp.Config{
		BaseURL:       cfg.WhatsApp.APIBaseURL,
		APIVersion:    cfg.WhatsApp.APIVersion,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		Token:         cfg.WhatsApp.Token,
		Timeout:       cfg.WhatsApp.Timeout,
	})
	if client.Configured() {
		notifier = client
	}
	hook, err := webhook.New(webhook.Config{
		VerifyToken:   cfg.VerifyToken,
		DefaultCallee: cfg.DefaultCalleePhone,
		RoomTTL:       cfg.RoomDefaultTTL,
		NotifyTimeout: cfg.WhatsApp.Timeout,
		Rooms:         store,
		Notifier:      notifier,
		Metrics:       m,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	srv := httpserver.New(cfg, logger, build, turn)
	mux := srv.Mux()
	relay.RegisterRoutes(mux)
	roomapi.New(store, logger).RegisterRoutes(mux)
	hook.RegisterRoutes(mux)
	mux.Handle("GET /metrics", metrics.PrometheusHandler(m))

	return &app{
		log:     logger,
		cfg:     cfg,
		metrics: m,
		store:   store,
		relay:   relay,
		webhook: hook,
		srv:     srv,
	}, nil
}

// start launches the room janitor and serves HTTP on ln. The returned
// channel yields the result of Serve.
func (a *app) start(ln net.Listener) <-chan error {
	ctx, cancel := context.WithCancel(context.Background())
	a.stopJanitor = cancel
	a.janitorDone = make(chan struct{})
	go func() {
		defer close(a.janitorDone)
		a.store.RunJanitor(ctx, a.cfg.RoomSweepInterval)
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.srv.Serve(ln)
	}()
	return errCh
}

// shutdown stops accepting requests, closes signaling connections with
// 1001 and waits for outstanding WhatsApp notifications.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if err := a.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, err)
	}
	if err := a.relay.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.stopJanitor != nil {
		a.stopJanitor()
		<-a.janitorDone
	}

	done := make(chan struct{})
	go func() {
		a.webhook.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}
