package web

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"tg-filestream/internal/domain"
)

// infoResponse is the public service descriptor served at /api/info.
type infoResponse struct {
	Status    string        `json:"status"`
	BotInfo   botInfo       `json:"bot_info"`
	Features  features      `json:"features"`
	Bandwidth bandwidthInfo `json:"bandwidth"`
	Streaming streamingInfo `json:"streaming"`

	UptimeSeconds int64  `json:"uptime_seconds"`
	ServerTimeUTC string `json:"server_time_utc"`
	TotalUsers    int64  `json:"total_users"`
}

type botInfo struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	Mention   string `json:"mention"`
}

type features struct {
	LinkExpiryEnabled         bool   `json:"link_expiry_enabled"`
	LinkExpiryDurationSeconds int64  `json:"link_expiry_duration_seconds"`
	VideoFrontendURL          string `json:"video_frontend_url,omitempty"`
}

type bandwidthInfo struct {
	LimitBytes int64  `json:"limit_bytes"`
	UsedBytes  int64  `json:"used_bytes"`
	Month      string `json:"month"`
	Enabled    bool   `json:"enabled"`
}

type streamingInfo struct {
	ActiveStreams          int      `json:"active_streams"`
	SupportedFormats       []string `json:"supported_formats"`
	RangeRequestsSupported bool     `json:"range_requests_supported"`
	SeekingSupported       bool     `json:"seeking_supported"`
}

// Info serves GET /api/info.
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	svc := h.svc
	month, used, err := svc.Ledger().Usage(r.Context())
	if err != nil {
		h.log.Warn("bandwidth usage unavailable", zap.Error(err))
	}

	bot := svc.PrimaryBot()
	expiry := svc.Gates().LinkExpiry()

	status := "ok"
	if svc.Dispatcher().ReadyCount() == 0 {
		status = "degraded"
	}

	resp := infoResponse{
		Status: status,
		BotInfo: botInfo{
			ID:        bot.ID,
			Username:  bot.Username,
			FirstName: bot.FirstName,
			Mention:   bot.Mention(),
		},
		Features: features{
			LinkExpiryEnabled:         expiry > 0,
			LinkExpiryDurationSeconds: int64(expiry / time.Second),
			VideoFrontendURL:          svc.Links().FrontendURL(),
		},
		Bandwidth: bandwidthInfo{
			LimitBytes: svc.Ledger().Ceiling(),
			UsedBytes:  used,
			Month:      month,
			Enabled:    svc.Ledger().Ceiling() > 0,
		},
		Streaming: streamingInfo{
			ActiveStreams:          svc.Registry().Count(),
			SupportedFormats:       domain.VideoMimeTypes(),
			RangeRequestsSupported: true,
			SeekingSupported:       true,
		},
		UptimeSeconds: int64(svc.Uptime() / time.Second),
		ServerTimeUTC: time.Now().UTC().Format(time.RFC3339),
		TotalUsers:    svc.TotalUsers(r.Context()),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Debug("info encode", zap.Error(err))
	}
}

// healthResponse is the monitoring endpoint payload.
type healthResponse struct {
	Status          string  `json:"status"`
	Timestamp       string  `json:"timestamp"`
	Service         string  `json:"service"`
	ReadyIdentities int     `json:"ready_identities"`
	TotalIdentities int     `json:"total_identities"`
	ActiveStreams   int     `json:"active_streams"`
	ResponseTimeMS  int64   `json:"response_time_ms"`
	BandwidthUsedGB float64 `json:"bandwidth_used_gb"`
}

// Health serves GET /health for uptime monitors: 200 when at least one
// identity can serve, 503 otherwise.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	svc := h.svc

	ready := svc.Dispatcher().ReadyCount()
	total := len(svc.Dispatcher().Identities())

	status := "healthy"
	code := http.StatusOK
	switch {
	case ready == 0:
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	case ready < total:
		status = "degraded"
	}

	_, used, _ := svc.Ledger().Usage(r.Context())

	resp := healthResponse{
		Status:          status,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		Service:         "tg-filestream",
		ReadyIdentities: ready,
		TotalIdentities: total,
		ActiveStreams:   svc.Registry().Count(),
		ResponseTimeMS:  time.Since(start).Milliseconds(),
		BandwidthUsedGB: float64(used) / (1 << 30),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Debug("health encode", zap.Error(err))
	}
}
