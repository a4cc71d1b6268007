package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Reading is a single temperature and humidity sample.
type Reading struct {
	Temperature float64 `json:"temp"`
	Humidity    float64 `json:"humidity"`
}

// Message is the payload published on the telemetry topic.
type Message struct {
	DeviceID  string  `json:"device"`
	Timestamp int64   `json:"timestamp"`
	Reading   Reading `json:"data"`
}

// ErrorReport is the payload published on the errors topic.
type ErrorReport struct {
	DeviceID  string `json:"device"`
	Message   string `json:"error"`
	Timestamp int64  `json:"timestamp"`
}

// ControlRequest is an inbound instruction received on the telemetry topic.
type ControlRequest struct {
	Type string `json:"type"`
}

// ControlStatus asks the device to republish its last telemetry message.
const ControlStatus = "status"

// NewMessage stamps a reading with the device id and time.
func NewMessage(deviceID string, reading Reading, at time.Time) Message {
	return Message{DeviceID: deviceID, Timestamp: at.Unix(), Reading: reading}
}

// NewErrorReport builds a report for a caught fault.
func NewErrorReport(deviceID string, fault error, at time.Time) ErrorReport {
	msg := "unknown error"
	if fault != nil {
		msg = fault.Error()
	}
	return ErrorReport{DeviceID: deviceID, Message: msg, Timestamp: at.Unix()}
}

// EncodeMessage renders a telemetry message as compact JSON.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a telemetry payload.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("telemetry: decode message: %w", err)
	}
	if msg.DeviceID == "" {
		return Message{}, errors.New("telemetry: decode message: missing device")
	}
	return msg, nil
}

// EncodeErrorReport renders an error report as compact JSON.
func EncodeErrorReport(report ErrorReport) ([]byte, error) {
	return json.Marshal(report)
}

// DecodeErrorReport parses an errors-topic payload.
func DecodeErrorReport(payload []byte) (ErrorReport, error) {
	var report ErrorReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return ErrorReport{}, fmt.Errorf("telemetry: decode error report: %w", err)
	}
	return report, nil
}

// DecodeControlRequest parses an inbound control payload. Payloads without a
// type field, such as telemetry echoed back by the broker, are rejected.
func DecodeControlRequest(payload []byte) (ControlRequest, error) {
	var req ControlRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return ControlRequest{}, fmt.Errorf("telemetry: decode control request: %w", err)
	}
	if req.Type == "" {
		return ControlRequest{}, errors.New("telemetry: decode control request: missing type")
	}
	return req, nil
}
