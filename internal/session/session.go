// Package session owns the single capture lifecycle: at most one capture
// runs per process, feeding the bounded packet log that every analysis and
// export endpoint reads from.
package session

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus"

	"netscope/internal/capture"
	"netscope/internal/classify"
	"netscope/internal/conversations"
	"netscope/internal/models"
)

const (
	// MaxLogSize bounds the classified packet log. The capture self-stops
	// once the log is full.
	MaxLogSize = 1000

	stopJoinWait = 2 * time.Second
)

const (
	stateIdle int32 = iota
	stateRunning
	stateStopping
)

// ErrCaptureRunning is returned by operations that need the session idle.
var ErrCaptureRunning = errors.New("capture already running")

// Opener opens a frame source on the named interface. Injected so tests can
// drive the worker with synthetic frames.
type Opener func(iface string) (capture.Source, error)

// Broadcaster fans capture events out to connected clients.
type Broadcaster interface {
	Broadcast(msg models.WSMessage)
}

// RawFrame is one frame kept verbatim for pcap export.
type RawFrame struct {
	Data []byte
	Info gopacket.CaptureInfo
}

// Session holds all capture state. Mutation is confined to the worker
// goroutine; every reader takes a point-in-time snapshot under the lock.
type Session struct {
	log         *logrus.Logger
	open        Opener
	tracker     *conversations.Tracker
	broadcaster Broadcaster

	state int32 // stateIdle, stateRunning or stateStopping, accessed atomically

	mu           sync.RWMutex
	records      []models.PacketRecord
	raw          []RawFrame
	sessionID    string
	target       int
	linkType     layers.LinkType
	decodeErrors int
	stopCh       chan struct{}
	doneCh       chan struct{}
	source       capture.Source
}

// New creates an idle session. A nil opener defaults to live pcap capture.
func New(log *logrus.Logger, open Opener) *Session {
	if open == nil {
		open = func(iface string) (capture.Source, error) {
			return capture.OpenLive(iface, "", capture.DefaultSnapLen)
		}
	}
	return &Session{
		log:     log,
		open:    open,
		tracker: conversations.NewTracker(),
	}
}

// SetBroadcaster wires the websocket hub. Call before the first Start.
func (s *Session) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// Start begins a capture on the named interface (empty selects the default
// device). count caps the capture; 0 runs until stopped or the log fills.
// A start while another capture runs reports already_running and leaves the
// existing session untouched.
func (s *Session) Start(iface string, count int) (models.StartCaptureResponse, error) {
	if count < 0 {
		count = 0
	}
	if !atomic.CompareAndSwapInt32(&s.state, stateIdle, stateRunning) {
		s.mu.RLock()
		resp := models.StartCaptureResponse{
			Message:     "capture already running",
			Status:      "already_running",
			SessionID:   s.sessionID,
			TargetCount: s.target,
		}
		s.mu.RUnlock()
		return resp, nil
	}

	src, err := s.open(iface)
	if err != nil {
		atomic.StoreInt32(&s.state, stateIdle)
		s.log.WithError(err).WithField("interface", iface).Error("capture start failed")
		return models.StartCaptureResponse{}, err
	}

	s.mu.Lock()
	s.source = src
	s.sessionID = time.Now().Format("20060102_150405")
	s.target = count
	s.records = nil
	s.raw = nil
	s.decodeErrors = 0
	s.linkType = src.LinkType()
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	id := s.sessionID
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	s.tracker.Reset()

	s.notify("capture_started", map[string]interface{}{
		"session_id": id,
		"interface":  iface,
	})
	s.log.WithFields(logrus.Fields{
		"session_id": id,
		"interface":  iface,
		"target":     count,
	}).Info("capture started")

	go s.run(src, stopCh, doneCh, count)

	return models.StartCaptureResponse{
		Message:     "capture started",
		Status:      "started",
		SessionID:   id,
		TargetCount: count,
	}, nil
}

// Stop ends the running capture, waiting up to two seconds for the worker
// to drain. Safe to call at any time, any number of times.
func (s *Session) Stop() models.StopCaptureResponse {
	if !atomic.CompareAndSwapInt32(&s.state, stateRunning, stateStopping) {
		return models.StopCaptureResponse{
			Message:     "no capture running",
			Status:      "not_running",
			PacketCount: s.Count(),
		}
	}

	s.mu.RLock()
	stopCh, doneCh, src := s.stopCh, s.doneCh, s.source
	s.mu.RUnlock()

	close(stopCh)

	select {
	case <-doneCh:
	case <-time.After(stopJoinWait):
		s.log.Warn("capture worker slow to stop, forcing source close")
	}
	src.Close()

	n := s.Count()
	s.log.WithField("packet_count", n).Info("capture stopped")
	return models.StopCaptureResponse{
		Message:     "capture stopped",
		Status:      "stopped",
		PacketCount: n,
	}
}

// LoadOffline replays a capture file through the classification pipeline as
// a new session, synchronously. Returns ErrCaptureRunning while a live
// capture holds the session.
func (s *Session) LoadOffline(path string) (int, error) {
	if !atomic.CompareAndSwapInt32(&s.state, stateIdle, stateRunning) {
		return 0, ErrCaptureRunning
	}

	src, err := capture.OpenOffline(path)
	if err != nil {
		atomic.StoreInt32(&s.state, stateIdle)
		return 0, err
	}

	s.mu.Lock()
	s.source = src
	s.sessionID = time.Now().Format("20060102_150405")
	s.target = 0
	s.records = nil
	s.raw = nil
	s.decodeErrors = 0
	s.linkType = src.LinkType()
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	id := s.sessionID
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	s.tracker.Reset()
	s.log.WithFields(logrus.Fields{"session_id": id, "file": path}).Info("replaying capture file")

	s.run(src, stopCh, doneCh, 0)

	return s.Count(), nil
}

// run is the capture worker. It blocks on the next frame or cancellation
// and self-stops on the target count or a full log. The deferred guard puts
// the session back to Idle on every exit path, panics included.
func (s *Session) run(src capture.Source, stopCh, doneCh chan struct{}, target int) {
	defer close(doneCh)
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("capture worker crashed")
		}
		src.Close()
		atomic.StoreInt32(&s.state, stateIdle)
		s.notify("capture_stopped", map[string]interface{}{
			"packet_count": s.Count(),
		})
	}()

	frames := src.Frames()
	processed := 0
	for {
		select {
		case <-stopCh:
			return
		case pkt, ok := <-frames:
			if !ok {
				return
			}
			processed++
			full := s.ingest(pkt)
			if target > 0 && processed >= target {
				return
			}
			if full {
				return
			}
		}
	}
}

// ingest classifies one frame into the logs. A frame that blows up during
// decoding is counted and skipped; the capture keeps running.
func (s *Session) ingest(pkt gopacket.Packet) (full bool) {
	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			s.decodeErrors++
			n := s.decodeErrors
			s.mu.Unlock()
			s.log.WithFields(logrus.Fields{"decode_errors": n, "panic": r}).Warn("frame skipped")
		}
	}()

	raw := RawFrame{
		Data: append([]byte(nil), pkt.Data()...),
		Info: pkt.Metadata().CaptureInfo,
	}
	rec := classify.Classify(pkt)
	s.tracker.Track(&rec)

	s.mu.Lock()
	s.raw = append(s.raw, raw)
	full = s.appendLocked(rec)
	s.mu.Unlock()

	s.notifyRecord(rec)
	return full
}

// appendLocked adds one record, evicting from the head once over capacity.
// Returns true when the log is full. Caller holds mu.
func (s *Session) appendLocked(rec models.PacketRecord) bool {
	s.records = append(s.records, rec)
	if len(s.records) > MaxLogSize {
		s.records = s.records[len(s.records)-MaxLogSize:]
	}
	return len(s.records) >= MaxLogSize
}

// IsCapturing reports whether a capture worker is active.
func (s *Session) IsCapturing() bool {
	return atomic.LoadInt32(&s.state) == stateRunning
}

// Count returns the current packet log length.
func (s *Session) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// SessionID returns the identifier of the current or most recent session.
func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Status builds the GET /capture/status response.
func (s *Session) Status() models.CaptureStatus {
	s.mu.RLock()
	n := len(s.records)
	id := s.sessionID
	s.mu.RUnlock()
	return models.CaptureStatus{
		IsCapturing: s.IsCapturing(),
		PacketCount: n,
		SessionID:   id,
	}
}

// Records returns a point-in-time copy of the packet log.
func (s *Session) Records() []models.PacketRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PacketRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Packets builds the GET /capture/packets response.
func (s *Session) Packets() models.PacketsResponse {
	recs := s.Records()
	return models.PacketsResponse{
		Packets:     recs,
		Count:       len(recs),
		IsCapturing: s.IsCapturing(),
	}
}

// RawFrames returns a copy of the raw frame log with its link type.
func (s *Session) RawFrames() ([]RawFrame, layers.LinkType) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RawFrame, len(s.raw))
	copy(out, s.raw)
	lt := s.linkType
	if lt == layers.LinkTypeNull {
		lt = layers.LinkTypeEthernet
	}
	return out, lt
}

// Conversations returns the flow table built from the current session.
func (s *Session) Conversations() []conversations.Conversation {
	return s.tracker.Snapshot()
}

func (s *Session) notifyRecord(rec models.PacketRecord) {
	if s.broadcaster == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	s.broadcaster.Broadcast(models.WSMessage{Type: "packet", Payload: payload})
}

func (s *Session) notify(event string, payload interface{}) {
	if s.broadcaster == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.broadcaster.Broadcast(models.WSMessage{Type: event, Payload: data})
}
