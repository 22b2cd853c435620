// Package export renders capture snapshots as downloadable JSON, CSV and
// pcap payloads.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"netscope/internal/analysis"
	"netscope/internal/capture"
	"netscope/internal/models"
	"netscope/internal/session"
)

// ErrNothingToExport reports an empty capture log or raw frame log.
var ErrNothingToExport = errors.New("nothing to export")

// JSONDocument is the packet dump format.
type JSONDocument struct {
	SessionID   string                `json:"session_id"`
	CaptureTime string                `json:"capture_time"`
	PacketCount int                   `json:"packet_count"`
	Packets     []models.PacketRecord `json:"packets"`
}

// StatisticsDocument wraps the statistics report with an export timestamp.
type StatisticsDocument struct {
	ExportedAt string              `json:"exported_at"`
	Statistics analysis.Statistics `json:"statistics"`
}

// Filename builds the download name, substituting a timestamp when the
// session id is empty.
func Filename(prefix, sessionID, ext string) string {
	if sessionID == "" {
		sessionID = time.Now().Format("20060102_150405")
	}
	return fmt.Sprintf("%s_%s.%s", prefix, sessionID, ext)
}

// BuildJSON marshals the capture log dump.
func BuildJSON(sessionID string, records []models.PacketRecord) ([]byte, error) {
	if len(records) == 0 {
		return nil, ErrNothingToExport
	}
	doc := JSONDocument{
		SessionID:   sessionID,
		CaptureTime: time.Now().Format(time.RFC3339Nano),
		PacketCount: len(records),
		Packets:     records,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal packet dump: %w", err)
	}
	return data, nil
}

// BuildStatistics marshals the statistics report. A zero-valued report is
// exportable; emptiness is not an error here.
func BuildStatistics(stats analysis.Statistics) ([]byte, error) {
	doc := StatisticsDocument{
		ExportedAt: time.Now().Format(time.RFC3339Nano),
		Statistics: stats,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal statistics: %w", err)
	}
	return data, nil
}

var csvHeader = []string{
	"Timestamp", "Type", "Length", "Source IP", "Destination IP",
	"Source Port", "Destination Port", "Protocol Info", "Summary",
}

// WriteCSV renders one row per record. Ports and protocol info depend on
// the transport: TCP rows carry the flag string, ICMP rows the type/code
// pair, ARP and other traffic leave those columns blank.
func WriteCSV(w io.Writer, records []models.PacketRecord) error {
	if len(records) == 0 {
		return ErrNothingToExport
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i := range records {
		if err := cw.Write(csvRow(&records[i])); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(rec *models.PacketRecord) []string {
	row := []string{
		rec.Timestamp,
		string(rec.Type),
		strconv.Itoa(rec.Length),
		"", "", "", "", "",
		rec.Summary,
	}
	if rec.Network != nil {
		row[3] = rec.Network.SrcIP
		row[4] = rec.Network.DstIP
	}
	switch {
	case rec.TCP != nil:
		row[5] = strconv.Itoa(int(rec.TCP.SrcPort))
		row[6] = strconv.Itoa(int(rec.TCP.DstPort))
		row[7] = "Flags: " + rec.TCP.Flags
	case rec.UDP != nil:
		row[5] = strconv.Itoa(int(rec.UDP.SrcPort))
		row[6] = strconv.Itoa(int(rec.UDP.DstPort))
	case rec.ICMP != nil:
		row[7] = fmt.Sprintf("Type: %d, Code: %d", rec.ICMP.Type, rec.ICMP.Code)
	}
	return row
}

// WritePcap rebuilds a capture file from the raw frame log. Capture info is
// clamped to the stored bytes so synthetic or truncated frames stay valid.
func WritePcap(w io.Writer, frames []session.RawFrame, linkType layers.LinkType) error {
	if len(frames) == 0 {
		return ErrNothingToExport
	}
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(capture.DefaultSnapLen, linkType); err != nil {
		return fmt.Errorf("write pcap header: %w", err)
	}
	for _, fr := range frames {
		ci := fr.Info
		ci.CaptureLength = len(fr.Data)
		if ci.Length < ci.CaptureLength {
			ci.Length = ci.CaptureLength
		}
		if err := pw.WritePacket(ci, fr.Data); err != nil {
			return fmt.Errorf("write pcap frame: %w", err)
		}
	}
	return nil
}
