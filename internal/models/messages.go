package models

import "encoding/json"

// WSMessage is the envelope for all WebSocket communication.
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StartCaptureRequest is the body of POST /capture/start. Count is a
// pointer so an omitted count (default 100) can be told apart from an
// explicit 0, which means capture until stopped.
type StartCaptureRequest struct {
	Interface string `json:"interface,omitempty"`
	Count     *int   `json:"count,omitempty"`
}

// StartCaptureResponse reports the outcome of a start request.
// Status is "started" or "already_running"; both are 200 responses.
type StartCaptureResponse struct {
	Message     string `json:"message,omitempty"`
	Status      string `json:"status"`
	SessionID   string `json:"session_id"`
	TargetCount int    `json:"target_count"`
}

// StopCaptureResponse reports the outcome of a stop request.
// Status is "stopped" or "not_running".
type StopCaptureResponse struct {
	Message     string `json:"message,omitempty"`
	Status      string `json:"status"`
	PacketCount int    `json:"packet_count"`
}

// PacketsResponse is the body of GET /capture/packets.
type PacketsResponse struct {
	Packets     []PacketRecord `json:"packets"`
	Count       int            `json:"count"`
	IsCapturing bool           `json:"is_capturing"`
}

// CaptureStatus is the body of GET /capture/status.
type CaptureStatus struct {
	IsCapturing bool   `json:"is_capturing"`
	PacketCount int    `json:"packet_count"`
	SessionID   string `json:"session_id"`
}

// InterfaceInfo describes a network interface available for capture.
type InterfaceInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Addresses   []string `json:"addresses"`
}

// ErrorPayload describes an error sent to the client.
type ErrorPayload struct {
	Message string `json:"message"`
}
