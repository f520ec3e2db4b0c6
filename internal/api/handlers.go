package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/satindergrewal/hush/internal/noise"
	"github.com/satindergrewal/hush/internal/playback"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine Engine
	logger *zap.Logger
}

// ParamsResponse uses the same keys as the settings file.
type ParamsResponse struct {
	WhiteVol     float64 `json:"white_vol"`
	PinkVol      float64 `json:"pink_vol"`
	BrownVol     float64 `json:"brown_vol"`
	WindVol      float64 `json:"wind_vol"`
	OceanVol     float64 `json:"ocean_vol"`
	WaterfallVol float64 `json:"waterfall_vol"`
	MasterVol    float64 `json:"master_vol"`
	TinnitusFreq float64 `json:"tinnitus_freq"`
	NotchQ       float64 `json:"notch_q"`
}

// SessionResponse describes the installed loop.
type SessionResponse struct {
	ID          string    `json:"id"`
	Seed        uint64    `json:"seed"`
	CreatedAt   time.Time `json:"created_at"`
	LoopSeconds float64   `json:"loop_seconds"`
}

// StatusResponse is returned by GET /api/status and the state-changing endpoints.
type StatusResponse struct {
	State               string           `json:"state"`
	Params              ParamsResponse   `json:"params"`
	Session             *SessionResponse `json:"session,omitempty"`
	PlaybackUnavailable string           `json:"playback_unavailable,omitempty"`
}

type valueRequest struct {
	Value *float64 `json:"value"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func paramsResponse(p playback.Params) ParamsResponse {
	return ParamsResponse{
		WhiteVol:     p.Volume(noise.White),
		PinkVol:      p.Volume(noise.Pink),
		BrownVol:     p.Volume(noise.Brown),
		WindVol:      p.Volume(noise.Wind),
		OceanVol:     p.Volume(noise.Ocean),
		WaterfallVol: p.Volume(noise.Waterfall),
		MasterVol:    p.Master,
		TinnitusFreq: p.Frequency,
		NotchQ:       p.Q,
	}
}

func (h *Handlers) status() StatusResponse {
	resp := StatusResponse{
		State:  h.engine.State().String(),
		Params: paramsResponse(h.engine.Params()),
	}
	if s := h.engine.Session(); s != nil {
		resp.Session = &SessionResponse{
			ID:          s.ID.String(),
			Seed:        s.Seed,
			CreatedAt:   s.CreatedAt,
			LoopSeconds: s.Loop.Duration().Seconds(),
		}
	}
	if err := h.engine.Unavailable(); err != nil {
		resp.PlaybackUnavailable = err.Error()
	}
	return resp
}

// Health handles GET /healthz.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// Status handles GET /api/status.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

// Play handles POST /api/play.
func (h *Handlers) Play(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Play(); err != nil {
		h.playError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

// Stop handles POST /api/stop.
func (h *Handlers) Stop(w http.ResponseWriter, r *http.Request) {
	h.engine.Stop()
	writeJSON(w, http.StatusOK, h.status())
}

// Toggle handles POST /api/toggle.
func (h *Handlers) Toggle(w http.ResponseWriter, r *http.Request) {
	if _, err := h.engine.Toggle(); err != nil {
		h.playError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

func (h *Handlers) playError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, playback.ErrPlaybackUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, playback.ErrClosed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("play", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// readValue decodes {"value": <number>}. It writes a 400 and returns false
// when the body is not that shape.
func readValue(w http.ResponseWriter, r *http.Request) (float64, bool) {
	var req valueRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10))
	if err := dec.Decode(&req); err != nil || req.Value == nil {
		writeError(w, http.StatusBadRequest, `body must be {"value": <number>}`)
		return 0, false
	}
	return *req.Value, true
}

// SetChannel handles PUT /api/channels/{channel}.
func (h *Handlers) SetChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := noise.ParseChannel(chi.URLParam(r, "channel"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	v, ok := readValue(w, r)
	if !ok {
		return
	}
	if err := h.engine.SetChannelVolume(ch, v); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

// SetMaster handles PUT /api/master.
func (h *Handlers) SetMaster(w http.ResponseWriter, r *http.Request) {
	v, ok := readValue(w, r)
	if !ok {
		return
	}
	h.engine.SetMasterVolume(v)
	writeJSON(w, http.StatusOK, h.status())
}

// readFrequency decodes {"value": ...} like readValue, but a value that is not
// a number, or a string that does not parse as one, disables the notch.
func readFrequency(w http.ResponseWriter, r *http.Request) (float64, bool) {
	var req struct {
		Value json.RawMessage `json:"value"`
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10))
	if err := dec.Decode(&req); err != nil || req.Value == nil {
		writeError(w, http.StatusBadRequest, `body must be {"value": <frequency>}`)
		return 0, false
	}

	var hz float64
	if err := json.Unmarshal(req.Value, &hz); err == nil {
		return hz, true
	}
	var text string
	if err := json.Unmarshal(req.Value, &text); err == nil {
		if hz, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
			return hz, true
		}
	}
	return 0, true
}

// SetFrequency handles PUT /api/frequency.
func (h *Handlers) SetFrequency(w http.ResponseWriter, r *http.Request) {
	v, ok := readFrequency(w, r)
	if !ok {
		return
	}
	h.engine.SetTinnitusFrequency(v)
	writeJSON(w, http.StatusOK, h.status())
}

// SetQ handles PUT /api/q.
func (h *Handlers) SetQ(w http.ResponseWriter, r *http.Request) {
	v, ok := readValue(w, r)
	if !ok {
		return
	}
	h.engine.SetNotchQ(v)
	writeJSON(w, http.StatusOK, h.status())
}
