package stream

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/hush/internal/audio"
	"github.com/satindergrewal/hush/internal/metrics"
)

const (
	opusRate    = 48000
	opusFrame   = opusRate / 50 // 960 samples = 20ms
	opusBitrate = 64000
)

// WebRTCHandler serves WebRTC SDP negotiation for low-latency Opus streaming.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	logger      *zap.Logger
	mu          sync.Mutex
	peers       []*webrtc.PeerConnection
}

// NewWebRTCHandler creates a WebRTC stream handler.
func NewWebRTCHandler(b *Broadcaster, logger *zap.Logger) *WebRTCHandler {
	return &WebRTCHandler{
		broadcaster: b,
		logger:      logger.With(zap.String("component", "webrtc")),
	}
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		h.logger.Error("create peer connection", zap.Error(err))
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}

	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"hush",
	)
	if err != nil {
		pc.Close()
		http.Error(w, "create audio track failed", http.StatusInternalServerError)
		return
	}

	if _, err := pc.AddTrack(audioTrack); err != nil {
		pc.Close()
		http.Error(w, "add track failed", http.StatusInternalServerError)
		return
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		http.Error(w, "set remote description failed", http.StatusBadRequest)
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		http.Error(w, "create answer failed", http.StatusInternalServerError)
		return
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		http.Error(w, "set local description failed", http.StatusInternalServerError)
		return
	}

	select {
	case <-gatherComplete:
	case <-r.Context().Done():
		pc.Close()
		return
	}

	h.mu.Lock()
	h.peers = append(h.peers, pc)
	h.mu.Unlock()

	metrics.Listeners.WithLabelValues("webrtc").Inc()
	h.logger.Info("peer connected", zap.Int("peers", h.PeerCount()))

	listener := h.broadcaster.Subscribe()
	go h.streamToPeer(listener, audioTrack)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed ||
			s == webrtc.PeerConnectionStateDisconnected {
			if h.removePeer(pc) {
				h.broadcaster.Unsubscribe(listener)
				metrics.Listeners.WithLabelValues("webrtc").Dec()
				h.logger.Info("peer disconnected",
					zap.String("state", s.String()),
					zap.Int("peers", h.PeerCount()),
				)
			}
			pc.Close()
		}
	})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(pc.LocalDescription()); err != nil {
		h.logger.Warn("write answer", zap.Error(err))
	}
}

// streamToPeer resamples frames to the Opus rate and writes 20ms packets to the
// track until the listener is unsubscribed.
func (h *WebRTCHandler) streamToPeer(listener *Listener, track *webrtc.TrackLocalStaticSample) {
	enc, err := opus.NewEncoder(opusRate, 1, opus.AppAudio)
	if err != nil {
		h.logger.Error("opus encoder", zap.Error(err))
		return
	}
	if err := enc.SetBitrate(opusBitrate); err != nil {
		h.logger.Warn("opus bitrate", zap.Error(err))
	}

	rs, err := audio.NewResampler(audio.SampleRate, opusRate)
	if err != nil {
		h.logger.Error("opus resampler", zap.Error(err))
		return
	}
	pending := make([]int16, 0, 2*opusFrame)
	opusBuf := make([]byte, 4000)

	for {
		select {
		case <-listener.Done():
			return
		case frame, ok := <-listener.C:
			if !ok {
				return
			}
			resampled, err := rs.Process(frame)
			if err != nil {
				metrics.EncodeErrorsTotal.WithLabelValues("webrtc").Inc()
				h.logger.Warn("resample", zap.Error(err))
				continue
			}
			pending = append(pending, resampled...)
			for len(pending) >= opusFrame {
				n, err := enc.Encode(pending[:opusFrame], opusBuf)
				pending = append(pending[:0], pending[opusFrame:]...)
				if err != nil {
					metrics.EncodeErrorsTotal.WithLabelValues("webrtc").Inc()
					h.logger.Warn("opus encode", zap.Error(err))
					continue
				}
				if err := track.WriteSample(media.Sample{
					Data:     opusBuf[:n],
					Duration: audio.FrameDuration,
				}); err != nil {
					return
				}
			}
		}
	}
}

// removePeer reports whether pc was still registered.
func (h *WebRTCHandler) removePeer(pc *webrtc.PeerConnection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, p := range h.peers {
		if p == pc {
			h.peers = append(h.peers[:i], h.peers[i+1:]...)
			return true
		}
	}
	return false
}

// Close disconnects every peer.
func (h *WebRTCHandler) Close() {
	h.mu.Lock()
	peers := slices.Clone(h.peers)
	h.mu.Unlock()
	for _, pc := range peers {
		pc.Close()
	}
}
