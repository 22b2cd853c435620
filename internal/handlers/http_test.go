package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netscope/internal/analysis"
	"netscope/internal/capture"
	"netscope/internal/chatbot"
	"netscope/internal/config"
	"netscope/internal/export"
	"netscope/internal/models"
	"netscope/internal/session"
)

type stubSource struct {
	ch   chan gopacket.Packet
	once sync.Once
}

func (s *stubSource) Frames() <-chan gopacket.Packet { return s.ch }
func (s *stubSource) LinkType() layers.LinkType      { return layers.LinkTypeEthernet }
func (s *stubSource) Close()                         { s.once.Do(func() { close(s.ch) }) }

type stubOpener struct {
	mu   sync.Mutex
	cur  *stubSource
	fail bool
}

func (o *stubOpener) open(string) (capture.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail {
		return nil, fmt.Errorf("no such device")
	}
	o.cur = &stubSource{ch: make(chan gopacket.Packet, 256)}
	return o.cur, nil
}

func (o *stubOpener) source() *stubSource {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cur
}

var frameBase = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func udpFrameData(t *testing.T, dstPort uint16) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       []byte{0x02, 0, 0, 0, 0, 1},
		DstMAC:       []byte{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: []byte{10, 0, 0, 1}, DstIP: []byte{10, 0, 0, 2},
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(dstPort)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload([]byte("ping"))))
	return buf.Bytes()
}

func udpFrame(t *testing.T, dstPort uint16, offset time.Duration) gopacket.Packet {
	t.Helper()
	data := udpFrameData(t, dstPort)
	pkt := gopacket.NewPacket(data, layers.LinkTypeEthernet, gopacket.Default)
	pkt.Metadata().CaptureInfo = gopacket.CaptureInfo{
		Timestamp:     frameBase.Add(offset),
		CaptureLength: len(data),
		Length:        len(data),
	}
	return pkt
}

func newTestServer(t *testing.T) (http.Handler, *stubOpener, *Server) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	opener := &stubOpener{}
	sess := session.New(log, opener.open)
	hub := NewHub()
	sess.SetBroadcaster(hub)

	cfg := &config.Config{
		Listen: ":0",
		Diagnostics: config.DiagnosticsConfig{
			PingTimeout:       time.Second,
			DNSTimeout:        2 * time.Second,
			TracerouteTimeout: time.Second,
			MaxHops:           5,
		},
	}
	srv := NewServer(log, cfg, sess, hub, nil, nil, chatbot.New(log, "", ""))
	return srv.Handler(), opener, srv
}

func doRequest(t *testing.T, h http.Handler, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), "body: %s", rr.Body.String())
}

func waitForCount(t *testing.T, h http.Handler, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		rr := doRequest(t, h, http.MethodGet, "/capture/status", nil)
		var st models.CaptureStatus
		if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
			return false
		}
		return st.PacketCount == want
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIndexBanner(t *testing.T) {
	h, _, _ := newTestServer(t)

	rr := doRequest(t, h, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var banner map[string]string
	decodeJSON(t, rr, &banner)
	assert.Equal(t, "netscope", banner["service"])
	assert.Equal(t, "ok", banner["status"])

	rr = doRequest(t, h, http.MethodGet, "/definitely/not/here", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStartCaptureDefaultCount(t *testing.T) {
	h, _, _ := newTestServer(t)

	rr := doRequest(t, h, http.MethodPost, "/capture/start", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp models.StartCaptureResponse
	decodeJSON(t, rr, &resp)
	assert.Equal(t, "started", resp.Status)
	assert.Equal(t, 100, resp.TargetCount)
	assert.NotEmpty(t, resp.SessionID)

	doRequest(t, h, http.MethodPost, "/capture/stop", nil)
}

func TestStartCaptureExplicitZero(t *testing.T) {
	h, _, _ := newTestServer(t)

	rr := doRequest(t, h, http.MethodPost, "/capture/start", bytes.NewBufferString(`{"count": 0}`))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp models.StartCaptureResponse
	decodeJSON(t, rr, &resp)
	assert.Equal(t, "started", resp.Status)
	assert.Zero(t, resp.TargetCount)

	doRequest(t, h, http.MethodPost, "/capture/stop", nil)
}

func TestStartCaptureBadBody(t *testing.T) {
	h, _, _ := newTestServer(t)

	rr := doRequest(t, h, http.MethodPost, "/capture/start", bytes.NewBufferString(`{"count":`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStartCaptureAlreadyRunning(t *testing.T) {
	h, _, _ := newTestServer(t)

	rr := doRequest(t, h, http.MethodPost, "/capture/start", nil)
	var first models.StartCaptureResponse
	decodeJSON(t, rr, &first)

	rr = doRequest(t, h, http.MethodPost, "/capture/start", bytes.NewBufferString(`{"interface": "other0"}`))
	require.Equal(t, http.StatusOK, rr.Code)

	var second models.StartCaptureResponse
	decodeJSON(t, rr, &second)
	assert.Equal(t, "already_running", second.Status)
	assert.Equal(t, first.SessionID, second.SessionID)

	doRequest(t, h, http.MethodPost, "/capture/stop", nil)
}

func TestStartCaptureOpenFailure(t *testing.T) {
	h, opener, _ := newTestServer(t)
	opener.fail = true

	rr := doRequest(t, h, http.MethodPost, "/capture/start", nil)
	require.Equal(t, http.StatusInternalServerError, rr.Code)

	var payload map[string]string
	decodeJSON(t, rr, &payload)
	assert.Contains(t, payload["error"], "failed to start capture")

	// session must be idle again
	opener.fail = false
	rr = doRequest(t, h, http.MethodPost, "/capture/start", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	doRequest(t, h, http.MethodPost, "/capture/stop", nil)
}

func TestStopCaptureIdle(t *testing.T) {
	h, _, _ := newTestServer(t)

	rr := doRequest(t, h, http.MethodPost, "/capture/stop", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp models.StopCaptureResponse
	decodeJSON(t, rr, &resp)
	assert.Equal(t, "not_running", resp.Status)
	assert.Zero(t, resp.PacketCount)
}

func TestCaptureRoundTrip(t *testing.T) {
	h, opener, _ := newTestServer(t)

	doRequest(t, h, http.MethodPost, "/capture/start", nil)
	src := opener.source()
	require.NotNil(t, src)
	for i := 0; i < 3; i++ {
		src.ch <- udpFrame(t, uint16(50000+i), time.Duration(i)*time.Second)
	}
	waitForCount(t, h, 3)

	rr := doRequest(t, h, http.MethodGet, "/capture/packets", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var packets models.PacketsResponse
	decodeJSON(t, rr, &packets)
	assert.Equal(t, 3, packets.Count)
	assert.Len(t, packets.Packets, 3)
	assert.True(t, packets.IsCapturing)

	rr = doRequest(t, h, http.MethodPost, "/capture/stop", nil)
	var stop models.StopCaptureResponse
	decodeJSON(t, rr, &stop)
	assert.Equal(t, "stopped", stop.Status)
	assert.Equal(t, 3, stop.PacketCount)

	rr = doRequest(t, h, http.MethodGet, "/capture/statistics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var stats analysis.Statistics
	decodeJSON(t, rr, &stats)
	assert.Equal(t, 3, stats.TotalPackets)
	assert.Equal(t, 3, stats.ProtocolDistribution[models.ProtocolUDP])
	assert.Equal(t, 1, stats.IPStatistics.UniqueSrcIPs)
}

func TestStatisticsEmptySnapshot(t *testing.T) {
	h, _, _ := newTestServer(t)

	rr := doRequest(t, h, http.MethodGet, "/capture/statistics", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var stats analysis.Statistics
	decodeJSON(t, rr, &stats)
	assert.Zero(t, stats.TotalPackets)
	assert.NotNil(t, stats.SuspiciousIPs)
}

func TestExportEmptyLog(t *testing.T) {
	h, _, _ := newTestServer(t)

	for _, path := range []string{
		"/capture/export/json",
		"/capture/export/csv",
		"/capture/export/pcap",
	} {
		rr := doRequest(t, h, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, path)
	}

	// statistics export works on an empty log
	rr := doRequest(t, h, http.MethodGet, "/capture/statistics/export", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "packet_statistics_")
}

func TestExportJSONDownload(t *testing.T) {
	h, opener, _ := newTestServer(t)

	doRequest(t, h, http.MethodPost, "/capture/start", nil)
	src := opener.source()
	src.ch <- udpFrame(t, 50000, 0)
	src.ch <- udpFrame(t, 50001, time.Second)
	waitForCount(t, h, 2)
	doRequest(t, h, http.MethodPost, "/capture/stop", nil)

	rr := doRequest(t, h, http.MethodGet, "/capture/export/json", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "packet_capture_")
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var doc export.JSONDocument
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	assert.Equal(t, 2, doc.PacketCount)
	assert.Len(t, doc.Packets, 2)
}

func TestExportPcapDownload(t *testing.T) {
	h, opener, _ := newTestServer(t)

	doRequest(t, h, http.MethodPost, "/capture/start", nil)
	src := opener.source()
	src.ch <- udpFrame(t, 50000, 0)
	waitForCount(t, h, 1)
	doRequest(t, h, http.MethodPost, "/capture/stop", nil)

	rr := doRequest(t, h, http.MethodGet, "/capture/export/pcap", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	reader, err := pcapgo.NewReader(bytes.NewReader(rr.Body.Bytes()))
	require.NoError(t, err)
	data, _, err := reader.ReadPacketData()
	require.NoError(t, err)
	assert.Equal(t, udpFrameData(t, 50000), data)
}

func TestConversationsEndpoint(t *testing.T) {
	h, opener, _ := newTestServer(t)

	doRequest(t, h, http.MethodPost, "/capture/start", nil)
	src := opener.source()
	src.ch <- udpFrame(t, 50000, 0)
	src.ch <- udpFrame(t, 50000, time.Second)
	waitForCount(t, h, 2)
	doRequest(t, h, http.MethodPost, "/capture/stop", nil)

	rr := doRequest(t, h, http.MethodGet, "/capture/conversations", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Count         int               `json:"count"`
		Conversations []json.RawMessage `json:"conversations"`
	}
	decodeJSON(t, rr, &resp)
	assert.Equal(t, 1, resp.Count)
	assert.Len(t, resp.Conversations, 1)
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func replayPcapBytes(t *testing.T, n int) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	for i := 0; i < n; i++ {
		data := udpFrameData(t, uint16(40000+i))
		ci := gopacket.CaptureInfo{
			Timestamp:     frameBase.Add(time.Duration(i) * time.Second),
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return buf.Bytes()
}

func TestUploadReplay(t *testing.T) {
	h, _, _ := newTestServer(t)

	body, contentType := multipartBody(t, "file", "replay.pcap", replayPcapBytes(t, 4))
	req := httptest.NewRequest(http.MethodPost, "/capture/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp map[string]interface{}
	decodeJSON(t, rr, &resp)
	assert.EqualValues(t, 4, resp["packet_count"])
	assert.NotEmpty(t, resp["session_id"])

	rr = doRequest(t, h, http.MethodGet, "/capture/packets", nil)
	var packets models.PacketsResponse
	decodeJSON(t, rr, &packets)
	assert.Equal(t, 4, packets.Count)
	assert.False(t, packets.IsCapturing)
}

func TestUploadWhileCapturing(t *testing.T) {
	h, _, _ := newTestServer(t)

	doRequest(t, h, http.MethodPost, "/capture/start", nil)

	body, contentType := multipartBody(t, "file", "replay.pcap", replayPcapBytes(t, 1))
	req := httptest.NewRequest(http.MethodPost, "/capture/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusConflict, rr.Code)

	doRequest(t, h, http.MethodPost, "/capture/stop", nil)
}

func TestUploadMissingFile(t *testing.T) {
	h, _, _ := newTestServer(t)

	body, contentType := multipartBody(t, "wrong_field", "replay.pcap", replayPcapBytes(t, 1))
	req := httptest.NewRequest(http.MethodPost, "/capture/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDiagnosticsRejectInvalidHost(t *testing.T) {
	h, _, _ := newTestServer(t)

	for _, path := range []string{
		"/diagnostics/ping?host=bad%20host",
		"/diagnostics/dns?host=a;b",
		"/diagnostics/traceroute?host=",
	} {
		rr := doRequest(t, h, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, path)
	}
}

func TestDNSLookupEndpoint(t *testing.T) {
	h, _, _ := newTestServer(t)

	rr := doRequest(t, h, http.MethodGet, "/diagnostics/dns?host=localhost", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var res struct {
		OK        bool     `json:"ok"`
		Addresses []string `json:"addresses"`
	}
	decodeJSON(t, rr, &res)
	assert.True(t, res.OK)
	assert.NotEmpty(t, res.Addresses)
}

func TestDBHealthNotConfigured(t *testing.T) {
	h, _, _ := newTestServer(t)

	rr := doRequest(t, h, http.MethodGet, "/db/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var health struct {
		OK         bool `json:"ok"`
		Configured bool `json:"configured"`
	}
	decodeJSON(t, rr, &health)
	assert.False(t, health.OK)
	assert.False(t, health.Configured)
}

func TestChatbotEndpoints(t *testing.T) {
	h, _, _ := newTestServer(t)

	rr := doRequest(t, h, http.MethodGet, "/chatbot", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var status map[string]interface{}
	decodeJSON(t, rr, &status)
	assert.Equal(t, "ok", status["status"])
	assert.Equal(t, false, status["ai_configured"])

	rr = doRequest(t, h, http.MethodPost, "/chatbot", bytes.NewBufferString(`{"question": "what is packet capture?"}`))
	require.Equal(t, http.StatusOK, rr.Code)
	var ans chatbot.Answer
	decodeJSON(t, rr, &ans)
	assert.Equal(t, "rule", ans.Source)
	assert.NotEmpty(t, ans.Answer)
}

func TestConnectionsInvalidLimit(t *testing.T) {
	h, _, _ := newTestServer(t)

	rr := doRequest(t, h, http.MethodGet, "/network/connections?limit=lots", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMethodGuards(t *testing.T) {
	h, _, _ := newTestServer(t)

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/capture/start"},
		{http.MethodGet, "/capture/stop"},
		{http.MethodPost, "/capture/packets"},
		{http.MethodPost, "/capture/statistics"},
		{http.MethodGet, "/capture/upload"},
		{http.MethodPost, "/diagnostics/ping"},
		{http.MethodPut, "/chatbot"},
	}
	for _, tc := range cases {
		rr := doRequest(t, h, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code, "%s %s", tc.method, tc.path)
	}
}
