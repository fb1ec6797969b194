// Package webhook turns WhatsApp messages into call rooms.
//
// Meta verifies the endpoint with GET /webhook and then POSTs message
// notifications to it. A text starting with "video" (so also "videollamada")
// creates a room between the sender and the number in the text, or the
// configured default callee, and both get their links back over WhatsApp.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/rooms"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/whatsapp"
)

const (
	maxPayloadBytes      = 1 << 20
	defaultNotifyTimeout = 30 * time.Second

	triggerPrefix = "video"
)

const (
	helpText      = "Escribe:\n`videollamada +573001234567`\npara crear una sala y enviar el enlace."
	askCalleeText = "Dime a quién invitar: escribe por ejemplo\n`videollamada +573001234567`"
	callerText    = "🎥 Creé tu sala de videollamada:\n%s\n\nCompártela si deseas."
	calleeText    = "📞 %s te ha invitado a una videollamada:\n%s"
	guestLinkText = "🔗 Enlace para tu invitado:\n%s"
)

var calleePattern = regexp.MustCompile(`\+?\d{8,15}`)

// RoomCreator is the part of rooms.Store the webhook needs.
type RoomCreator interface {
	Create(participantA, participantB string, ttl time.Duration) (rooms.CreateResult, error)
}

type Config struct {
	// VerifyToken is the shared secret Meta echoes during verification. An
	// empty token rejects every verification attempt.
	VerifyToken   string
	DefaultCallee string
	RoomTTL       time.Duration
	NotifyTimeout time.Duration

	Rooms    RoomCreator
	Notifier whatsapp.Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

type Handler struct {
	cfg      Config
	log      *slog.Logger
	inflight sync.WaitGroup
}

func New(cfg Config) (*Handler, error) {
	if cfg.Rooms == nil {
		return nil, errors.New("webhook: room creator is required")
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.DefaultCallee = rooms.Normalize(cfg.DefaultCallee)
	return &Handler{cfg: cfg, log: cfg.Logger}, nil
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /webhook", h.verify)
	mux.HandleFunc("POST /webhook", h.receive)
}

// Wait blocks until every notification dispatched so far has finished.
func (h *Handler) Wait() {
	h.inflight.Wait()
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("hub.verify_token")
	ok := q.Get("hub.mode") == "subscribe" &&
		h.cfg.VerifyToken != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.VerifyToken)) == 1
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !ok {
		h.log.Warn("webhook verification rejected", "mode", q.Get("hub.mode"))
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, "Forbidden")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

type notification struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []inboundMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	From string `json:"from"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	var n notification
	if err := json.NewDecoder(io.LimitReader(r.Body, maxPayloadBytes)).Decode(&n); err != nil {
		h.cfg.Metrics.Inc(metrics.WebhookMalformed)
		h.log.Warn("malformed webhook payload", "err", err)
		// Meta retries non-2xx deliveries, so errors are still answered 200.
		httpserver.WriteJSON(w, http.StatusOK, map[string]string{"status": "error"})
		return
	}

	status := "received"
	for _, entry := range n.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if err := h.handleMessage(msg); err != nil {
					h.log.Error("failed to handle webhook message", "err", err)
					status = "error"
				}
			}
		}
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (h *Handler) handleMessage(msg inboundMessage) error {
	sender := rooms.Normalize(msg.From)
	if sender == "" {
		h.cfg.Metrics.Inc(metrics.WebhookMalformed)
		h.log.Debug("ignoring webhook message without sender", "type", msg.Type)
		return nil
	}

	var text string
	if msg.Type == "text" && msg.Text != nil {
		text = strings.ToLower(strings.TrimSpace(msg.Text.Body))
	}
	if !strings.HasPrefix(text, triggerPrefix) {
		h.notify(sender, helpText)
		return nil
	}

	callee, ok := ParseCallee(text)
	if !ok {
		callee = h.cfg.DefaultCallee
	}
	if callee == "" {
		h.notify(sender, askCalleeText)
		return nil
	}

	res, err := h.cfg.Rooms.Create(sender, callee, h.cfg.RoomTTL)
	if err != nil {
		return fmt.Errorf("create room for %s: %w", sender, err)
	}
	h.log.Debug("whatsapp room dispatched", "room_id", res.RoomID, "from", sender, "to", callee)

	if callee == sender {
		h.notify(sender, fmt.Sprintf(callerText, res.CallerURL), fmt.Sprintf(guestLinkText, res.CalleeURL))
		return nil
	}
	h.notify(sender, fmt.Sprintf(callerText, res.CallerURL))
	h.notify(callee, fmt.Sprintf(calleeText, sender, res.CalleeURL))
	return nil
}

// notify sends bodies to one recipient, in order, off the request path.
func (h *Handler) notify(to string, bodies ...string) {
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		for _, body := range bodies {
			if err := h.send(to, body); err != nil {
				h.cfg.Metrics.Inc(metrics.NotifyFailed)
				h.log.Warn("whatsapp notification failed", "to", to, "err", err)
				return
			}
			h.cfg.Metrics.Inc(metrics.NotifySent)
		}
	}()
}

func (h *Handler) send(to, body string) error {
	if h.cfg.Notifier == nil {
		return whatsapp.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.NotifyTimeout)
	defer cancel()
	return h.cfg.Notifier.SendText(ctx, to, body)
}

// ParseCallee finds the first phone number (8 to 15 digits, optional leading
// '+') in text once whitespace is removed, and returns it with a '+' prefix.
func ParseCallee(text string) (string, bool) {
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
	match := calleePattern.FindString(compact)
	if match == "" {
		return "", false
	}
	return rooms.Normalize(match), true
}
