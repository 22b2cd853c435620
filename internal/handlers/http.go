package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"netscope/internal/analysis"
	"netscope/internal/capture"
	"netscope/internal/chatbot"
	"netscope/internal/config"
	"netscope/internal/diagnostics"
	"netscope/internal/export"
	"netscope/internal/geoip"
	"netscope/internal/models"
	"netscope/internal/session"
	"netscope/internal/store"
	"netscope/internal/sysinfo"
)

const (
	maxUploadSize       = 100 << 20 // 100 MB
	defaultCaptureCount = 100

	apiVersion = "1.0.0"
)

// Server bundles the HTTP handler dependencies. geo and db are optional
// and may be nil.
type Server struct {
	log  *logrus.Logger
	cfg  *config.Config
	sess *session.Session
	hub  *Hub
	geo  *geoip.Resolver
	db   *store.Store
	bot  *chatbot.Responder
}

// NewServer wires the handler set.
func NewServer(log *logrus.Logger, cfg *config.Config, sess *session.Session, hub *Hub,
	geo *geoip.Resolver, db *store.Store, bot *chatbot.Responder) *Server {
	return &Server{log: log, cfg: cfg, sess: sess, hub: hub, geo: geo, db: db, bot: bot}
}

// Handler builds the routed handler, CORS-wrapped for the browser frontend.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)

	mux.HandleFunc("/capture/start", s.handleStartCapture)
	mux.HandleFunc("/capture/stop", s.handleStopCapture)
	mux.HandleFunc("/capture/packets", s.handlePackets)
	mux.HandleFunc("/capture/status", s.handleStatus)
	mux.HandleFunc("/capture/statistics", s.handleStatistics)
	mux.HandleFunc("/capture/statistics/export", s.handleExportStatistics)
	mux.HandleFunc("/capture/export/json", s.handleExportJSON)
	mux.HandleFunc("/capture/export/csv", s.handleExportCSV)
	mux.HandleFunc("/capture/export/pcap", s.handleExportPcap)
	mux.HandleFunc("/capture/conversations", s.handleConversations)
	mux.HandleFunc("/capture/upload", s.handleUpload)

	mux.HandleFunc("/interfaces", s.handleInterfaces)
	mux.HandleFunc("/network/info", s.handleNetworkInfo)
	mux.HandleFunc("/network/stats", s.handleNetworkStats)
	mux.HandleFunc("/network/connections", s.handleConnections)

	mux.HandleFunc("/diagnostics/ping", s.handlePing)
	mux.HandleFunc("/diagnostics/dns", s.handleDNS)
	mux.HandleFunc("/diagnostics/traceroute", s.handleTraceroute)

	mux.HandleFunc("/db/health", s.handleDBHealth)
	mux.HandleFunc("/chatbot", s.handleChatbot)

	mux.HandleFunc("/ws", HandleWebSocket(s.hub, s.sess, s.log))

	return cors.AllowAll().Handler(mux)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, method+" only", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"service": "netscope",
		"version": apiVersion,
		"status":  "ok",
	})
}

func (s *Server) handleStartCapture(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}
	var req models.StartCaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	count := defaultCaptureCount
	if req.Count != nil {
		count = *req.Count
	}
	resp, err := s.sess.Start(req.Interface, count)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to start capture: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStopCapture(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}
	resp := s.sess.Stop()
	if s.db != nil && resp.Status == "stopped" {
		s.persistSnapshot(r.Context(), resp.PacketCount)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// persistSnapshot writes the end-of-capture statistics row. Failures only
// warn: persistence is a side channel, never a reason to fail the stop.
func (s *Server) persistSnapshot(ctx context.Context, packetCount int) {
	stats := s.computeStatistics()
	data, err := json.Marshal(stats)
	if err != nil {
		s.log.WithError(err).Warn("snapshot marshal failed")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := s.db.SaveSnapshot(ctx, s.sess.SessionID(), packetCount, data); err != nil {
		s.log.WithError(err).Warn("snapshot persist failed")
	}
}

func (s *Server) handlePackets(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.sess.Packets())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.sess.Status())
}

// computeStatistics analyses the current snapshot and applies GeoIP
// enrichment when a database is loaded.
func (s *Server) computeStatistics() analysis.Statistics {
	stats := analysis.Compute(s.sess.Records())
	if s.geo == nil {
		return stats
	}
	for i := range stats.TopTalkers {
		stats.TopTalkers[i].Country, stats.TopTalkers[i].City = s.geo.Lookup(stats.TopTalkers[i].IP)
	}
	for i := range stats.SuspiciousIPs {
		stats.SuspiciousIPs[i].Country, stats.SuspiciousIPs[i].City = s.geo.Lookup(stats.SuspiciousIPs[i].IP)
	}
	return stats
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.computeStatistics())
}

// serveDownload writes the export to a temp file and serves it as an
// attachment. The temp file is removed once the response is sent.
func (s *Server) serveDownload(w http.ResponseWriter, r *http.Request, contentType, filename string, write func(io.Writer) error) {
	tmp, err := os.CreateTemp("", "netscope-export-*")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to create export file")
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := write(tmp); err != nil {
		tmp.Close()
		s.writeError(w, http.StatusInternalServerError, "failed to build export: "+err.Error())
		return
	}
	if err := tmp.Close(); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to write export file")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeFile(w, r, tmpPath)
}

func (s *Server) handleExportStatistics(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	data, err := export.BuildStatistics(s.computeStatistics())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to build export: "+err.Error())
		return
	}
	filename := export.Filename("packet_statistics", "", "json")
	s.serveDownload(w, r, "application/json", filename, func(f io.Writer) error {
		_, err := f.Write(data)
		return err
	})
}

func (s *Server) handleExportJSON(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	data, err := export.BuildJSON(s.sess.SessionID(), s.sess.Records())
	if err != nil {
		if errors.Is(err, export.ErrNothingToExport) {
			s.writeError(w, http.StatusBadRequest, "no packets to export")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to build export: "+err.Error())
		return
	}
	filename := export.Filename("packet_capture", s.sess.SessionID(), "json")
	s.serveDownload(w, r, "application/json", filename, func(f io.Writer) error {
		_, err := f.Write(data)
		return err
	})
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	records := s.sess.Records()
	if len(records) == 0 {
		s.writeError(w, http.StatusBadRequest, "no packets to export")
		return
	}
	filename := export.Filename("packet_capture", s.sess.SessionID(), "csv")
	s.serveDownload(w, r, "text/csv", filename, func(f io.Writer) error {
		return export.WriteCSV(f, records)
	})
}

func (s *Server) handleExportPcap(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	frames, linkType := s.sess.RawFrames()
	if len(frames) == 0 {
		s.writeError(w, http.StatusBadRequest, "no packets to export")
		return
	}
	filename := export.Filename("packet_capture", s.sess.SessionID(), "pcap")
	s.serveDownload(w, r, "application/vnd.tcpdump.pcap", filename, func(f io.Writer) error {
		return export.WritePcap(f, frames, linkType)
	})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	convs := s.sess.Conversations()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": convs,
		"count":         len(convs),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		s.writeError(w, http.StatusBadRequest, "file too large (max 100MB)")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	// Write to temp file (the pcap readers need a file path)
	tmp, err := os.CreateTemp("", "netscope-*.pcap")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to create temp file")
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		s.writeError(w, http.StatusInternalServerError, "failed to save file")
		return
	}
	tmp.Close()

	n, err := s.sess.LoadOffline(tmpPath)
	if err != nil {
		if errors.Is(err, session.ErrCaptureRunning) {
			s.writeError(w, http.StatusConflict, "capture already running")
			return
		}
		s.writeError(w, http.StatusBadRequest, "failed to read capture file: "+err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "capture file loaded",
		"packet_count": n,
		"session_id":   s.sess.SessionID(),
	})
}

func (s *Server) handleInterfaces(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	ifaces, err := capture.ListInterfaces()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list interfaces: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"interfaces": ifaces})
}

func (s *Server) handleNetworkInfo(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	info, err := sysinfo.Collect()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to collect network info: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleNetworkStats(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	stats, err := sysinfo.IOCounters()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read io counters: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	limit := 500
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	report, err := sysinfo.Connections(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list connections: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	host := r.URL.Query().Get("host")
	if !diagnostics.ValidHost(host) {
		s.writeError(w, http.StatusBadRequest, "invalid host")
		return
	}
	s.writeJSON(w, http.StatusOK, diagnostics.Ping(r.Context(), host, s.cfg.Diagnostics.PingTimeout))
}

func (s *Server) handleDNS(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	host := r.URL.Query().Get("host")
	if !diagnostics.ValidHost(host) {
		s.writeError(w, http.StatusBadRequest, "invalid host")
		return
	}
	s.writeJSON(w, http.StatusOK, diagnostics.Lookup(r.Context(), host, s.cfg.Diagnostics.DNSTimeout))
}

func (s *Server) handleTraceroute(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	host := r.URL.Query().Get("host")
	if !diagnostics.ValidHost(host) {
		s.writeError(w, http.StatusBadRequest, "invalid host")
		return
	}
	res := diagnostics.Traceroute(r.Context(), host, s.cfg.Diagnostics.MaxHops, s.cfg.Diagnostics.TracerouteTimeout)
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDBHealth(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	s.writeJSON(w, http.StatusOK, s.db.Health(ctx))
}

func (s *Server) handleChatbot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":        "ok",
			"message":       "chatbot endpoint is working",
			"ai_configured": s.bot.Configured(),
		})
	case http.MethodPost:
		var req struct {
			Question string `json:"question"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		s.writeJSON(w, http.StatusOK, s.bot.Respond(r.Context(), req.Question, s.computeStatistics()))
	default:
		http.Error(w, "GET or POST only", http.StatusMethodNotAllowed)
	}
}
