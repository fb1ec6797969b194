package signaling

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/rooms"
)

type sdpSignal struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// TestRelay_WebRTCCallOverVNet negotiates a real DataChannel between two pion
// peers using only the broker for signaling.
func TestRelay_WebRTCCallOverVNet(t *testing.T) {
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	e := newTestEnv(t, rooms.ModeToken, func(cfg *Config) { cfg.ICEServers = nil })
	room, err := e.store.Create("+573001234567", "+573007654321", time.Hour)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	callerWS := e.dial(t, room.RoomID, room.CallerToken)
	callerRole := readControl(t, callerWS)
	if callerRole.Role != string(rooms.RoleCaller) {
		t.Fatalf("caller role=%q", callerRole.Role)
	}
	calleeWS := e.dial(t, room.RoomID, room.CalleeToken)
	calleeRole := readControl(t, calleeWS)
	if calleeRole.Role != string(rooms.RoleCallee) {
		t.Fatalf("callee role=%q", calleeRole.Role)
	}
	if msg := readControl(t, calleeWS); msg.Type != TypeReady {
		t.Fatalf("callee got %+v, want ready", msg)
	}
	if msg := readControl(t, callerWS); msg.Type != TypeReady {
		t.Fatalf("caller got %+v, want ready", msg)
	}

	pcCaller := newVNetPeerConnection(t, netA, roleICEServers(t, callerRole))
	pcCallee := newVNetPeerConnection(t, netB, roleICEServers(t, calleeRole))

	received := make(chan string, 1)
	pcCallee.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			select {
			case received <- string(msg.Data):
			default:
			}
		})
	})

	dc, err := pcCaller.CreateDataChannel("chat", nil)
	if err != nil {
		t.Fatalf("create datachannel: %v", err)
	}
	dc.OnOpen(func() { _ = dc.SendText("hola") })

	// Caller: offer.
	offer, err := pcCaller.CreateOffer(nil)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	sendLocalDescription(t, callerWS, pcCaller, offer)

	// Callee: answer.
	remoteOffer := readSignal(t, calleeWS, "offer")
	if err := pcCallee.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: remoteOffer.SDP}); err != nil {
		t.Fatalf("set remote offer: %v", err)
	}
	answer, err := pcCallee.CreateAnswer(nil)
	if err != nil {
		t.Fatalf("create answer: %v", err)
	}
	sendLocalDescription(t, calleeWS, pcCallee, answer)

	remoteAnswer := readSignal(t, callerWS, "answer")
	if err := pcCaller.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: remoteAnswer.SDP}); err != nil {
		t.Fatalf("set remote answer: %v", err)
	}

	select {
	case got := <-received:
		if got != "hola" {
			t.Fatalf("datachannel message=%q, want %q", got, "hola")
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for datachannel message")
	}
}

// roleICEServers decodes the iceServers of a role message the way a browser
// hands them to RTCPeerConnection.
func roleICEServers(t *testing.T, msg control) []webrtc.ICEServer {
	t.Helper()
	raw, err := json.Marshal(msg.ICEServers)
	if err != nil {
		t.Fatalf("marshal iceServers: %v", err)
	}
	var servers []webrtc.ICEServer
	if err := json.Unmarshal(raw, &servers); err != nil {
		t.Fatalf("decode iceServers %s: %v", raw, err)
	}
	return servers
}

func newVNetPeerConnection(t *testing.T, n *vnet.Net, servers []webrtc.ICEServer) *webrtc.PeerConnection {
	t.Helper()
	se := webrtc.SettingEngine{}
	se.SetNet(n)
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		t.Fatalf("register codecs: %v", err)
	}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se), webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		t.Fatalf("new peer connection: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })
	return pc
}

// sendLocalDescription applies desc, waits for ICE gathering and sends the
// complete SDP through the broker.
func sendLocalDescription(t *testing.T, ws *websocket.Conn, pc *webrtc.PeerConnection, desc webrtc.SessionDescription) {
	t.Helper()
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		t.Fatalf("set local description: %v", err)
	}
	select {
	case <-gathered:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out gathering ICE candidates")
	}
	local := pc.LocalDescription()
	frame, err := json.Marshal(sdpSignal{Type: local.Type.String(), SDP: local.SDP})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write %s: %v", local.Type, err)
	}
}

func readSignal(t *testing.T, ws *websocket.Conn, want string) sdpSignal {
	t.Helper()
	var msg sdpSignal
	if err := json.Unmarshal(readFrame(t, ws), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != want || msg.SDP == "" {
		t.Fatalf("got type=%q, want %q with sdp", msg.Type, want)
	}
	return msg
}
