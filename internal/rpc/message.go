package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ProtocolError reports an inbound frame that could not be interpreted.
type ProtocolError struct {
	Reason  string
	Payload string
	Err     error
}

func (e *ProtocolError) Error() string {
	msg := "protocol error: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Message is any inbound frame: a response (ID set) or a notification
// (Method set, no ID).
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`

	raw []byte
}

type rawMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *ResponseError  `json:"error"`
}

func Decode(data []byte) (Message, error) {
	var rm rawMessage
	if err := json.Unmarshal(data, &rm); err != nil {
		return Message{}, &ProtocolError{Reason: "malformed frame", Payload: string(data), Err: err}
	}

	id, err := decodeID(rm.ID)
	if err != nil {
		return Message{}, &ProtocolError{Reason: "malformed id", Payload: string(data), Err: err}
	}

	return Message{
		JSONRPC: rm.JSONRPC,
		ID:      id,
		Method:  rm.Method,
		Params:  rm.Params,
		Result:  rm.Result,
		Error:   rm.Error,
		raw:     append([]byte(nil), data...),
	}, nil
}

// aria2 echoes the id back verbatim; numeric ids are tolerated for peers
// that rewrite them.
func decodeID(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

func (m Message) IsNotification() bool {
	return m.Method != "" && m.ID == ""
}

func (m Message) IsResponse() bool {
	return m.ID != ""
}

func (m Message) Raw() string {
	return string(m.raw)
}

// Pretty renders the frame indented for log output.
func (m Message) Pretty() string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, m.raw, "", "    "); err != nil {
		return string(m.raw)
	}
	return buf.String()
}

type eventParam struct {
	GID string `json:"gid"`
}

// EventGID returns the gid carried by the last element of a download
// notification's parameter list.
func (m Message) EventGID() (string, error) {
	var params []json.RawMessage
	if err := json.Unmarshal(m.Params, &params); err != nil {
		return "", &ProtocolError{Reason: m.Method + " params are not a list", Payload: m.Raw(), Err: err}
	}
	if len(params) == 0 {
		return "", &ProtocolError{Reason: m.Method + " has no params", Payload: m.Raw()}
	}
	var event eventParam
	if err := json.Unmarshal(params[len(params)-1], &event); err != nil {
		return "", &ProtocolError{Reason: m.Method + " event is not an object", Payload: m.Raw(), Err: err}
	}
	if strings.TrimSpace(event.GID) == "" {
		return "", &ProtocolError{Reason: m.Method + " event has no gid", Payload: m.Raw()}
	}
	return event.GID, nil
}

// DownloadSpeed returns the aggregate download rate in bytes per second from
// an aria2.getGlobalStat result. aria2 sends numbers as strings.
func (m Message) DownloadSpeed() (float64, error) {
	var stat struct {
		DownloadSpeed json.RawMessage `json:"downloadSpeed"`
	}
	if err := json.Unmarshal(m.Result, &stat); err != nil {
		return 0, &ProtocolError{Reason: "global stat is not an object", Payload: m.Raw(), Err: err}
	}
	raw := bytes.TrimSpace(stat.DownloadSpeed)
	if len(raw) == 0 {
		return 0, &ProtocolError{Reason: "global stat has no downloadSpeed", Payload: m.Raw()}
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, &ProtocolError{Reason: "malformed downloadSpeed", Payload: m.Raw(), Err: err}
		}
		raw = []byte(s)
	}
	speed, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, &ProtocolError{Reason: "malformed downloadSpeed", Payload: m.Raw(), Err: err}
	}
	return speed, nil
}

// SingleGID returns the result of a plain aria2.addUri call.
func (m Message) SingleGID() (string, bool) {
	gid, ok := m.ResultString()
	if !ok || strings.TrimSpace(gid) == "" {
		return "", false
	}
	return gid, true
}

// MulticallOutcome is one entry of a system.multicall result: either the gid
// returned by the wrapped call or the fault it raised.
type MulticallOutcome struct {
	GID   string
	Fault *ResponseError
}

// MulticallGIDs decodes a system.multicall result of addUri calls. Each entry
// is either a one-element array holding the gid, a bare gid, or a fault struct.
func (m Message) MulticallGIDs() ([]MulticallOutcome, bool) {
	var entries []json.RawMessage
	if err := json.Unmarshal(m.Result, &entries); err != nil {
		return nil, false
	}

	outcomes := make([]MulticallOutcome, 0, len(entries))
	for _, entry := range entries {
		var gid string
		if err := json.Unmarshal(entry, &gid); err == nil {
			outcomes = append(outcomes, MulticallOutcome{GID: gid})
			continue
		}
		var wrapped []string
		if err := json.Unmarshal(entry, &wrapped); err == nil && len(wrapped) == 1 {
			outcomes = append(outcomes, MulticallOutcome{GID: wrapped[0]})
			continue
		}
		var fault struct {
			Code    int    `json:"faultCode"`
			Message string `json:"faultString"`
		}
		if err := json.Unmarshal(entry, &fault); err == nil && (fault.Code != 0 || fault.Message != "") {
			outcomes = append(outcomes, MulticallOutcome{Fault: &ResponseError{Code: fault.Code, Message: fault.Message}})
			continue
		}
		outcomes = append(outcomes, MulticallOutcome{Fault: &ResponseError{Code: -1, Message: "unrecognized multicall entry " + string(entry)}})
	}
	return outcomes, true
}

type URIInfo struct {
	URI    string `json:"uri"`
	Status string `json:"status"`
}

// URIs decodes an aria2.getUris result.
func (m Message) URIs() ([]URIInfo, error) {
	if m.Error != nil {
		return nil, m.Error
	}
	var uris []URIInfo
	if err := json.Unmarshal(m.Result, &uris); err != nil {
		return nil, &ProtocolError{Reason: "getUris result is not a list", Payload: m.Raw(), Err: err}
	}
	return uris, nil
}

// ResultString returns the result when it is a JSON string.
func (m Message) ResultString() (string, bool) {
	var s string
	if len(m.Result) == 0 {
		return "", false
	}
	if err := json.Unmarshal(m.Result, &s); err != nil {
		return "", false
	}
	return s, true
}
