package rpc

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func decode(t *testing.T, frame string) Message {
	t.Helper()
	msg, err := Decode([]byte(frame))
	if err != nil {
		t.Fatalf("decode %s: %v", frame, err)
	}
	return msg
}

func TestDecodeClassifiesFrames(t *testing.T) {
	notification := decode(t, `{"jsonrpc":"2.0","method":"aria2.onDownloadComplete","params":[{"gid":"a"}]}`)
	if !notification.IsNotification() || notification.IsResponse() {
		t.Fatalf("expected a notification: %+v", notification)
	}

	response := decode(t, `{"jsonrpc":"2.0","id":"getSpeed","result":{"downloadSpeed":"0"}}`)
	if !response.IsResponse() || response.IsNotification() {
		t.Fatalf("expected a response: %+v", response)
	}
	if response.ID != IDSpeed {
		t.Fatalf("unexpected id %q", response.ID)
	}
}

func TestDecodeToleratesNumericID(t *testing.T) {
	msg := decode(t, `{"jsonrpc":"2.0","id":7,"result":"OK"}`)
	if msg.ID != "7" {
		t.Fatalf("expected id 7, got %q", msg.ID)
	}
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	tests := map[string]string{
		`{"jsonrpc":`:                    "malformed frame",
		`{"jsonrpc":"2.0","id":{"x":1}}`: "malformed id",
	}
	for frame, reason := range tests {
		_, err := Decode([]byte(frame))
		var protoErr *ProtocolError
		if !errors.As(err, &protoErr) {
			t.Fatalf("decode %s: expected ProtocolError, got %v", frame, err)
		}
		if protoErr.Reason != reason {
			t.Fatalf("decode %s: reason = %q, want %q", frame, protoErr.Reason, reason)
		}
	}
}

func TestEventGID(t *testing.T) {
	gid, err := decode(t, `{"jsonrpc":"2.0","method":"aria2.onDownloadError","params":[{"gid":"2089b05ecca3d829"}]}`).EventGID()
	if err != nil {
		t.Fatalf("event gid: %v", err)
	}
	if gid != "2089b05ecca3d829" {
		t.Fatalf("unexpected gid %q", gid)
	}

	for _, frame := range []string{
		`{"jsonrpc":"2.0","method":"aria2.onDownloadComplete"}`,
		`{"jsonrpc":"2.0","method":"aria2.onDownloadComplete","params":[]}`,
		`{"jsonrpc":"2.0","method":"aria2.onDownloadComplete","params":["a"]}`,
		`{"jsonrpc":"2.0","method":"aria2.onDownloadComplete","params":[{"gid":""}]}`,
	} {
		_, err := decode(t, frame).EventGID()
		var protoErr *ProtocolError
		if !errors.As(err, &protoErr) {
			t.Fatalf("%s: expected ProtocolError, got %v", frame, err)
		}
	}
}

func TestDownloadSpeed(t *testing.T) {
	for frame, want := range map[string]float64{
		`{"jsonrpc":"2.0","id":"getSpeed","result":{"downloadSpeed":"2500000"}}`: 2500000,
		`{"jsonrpc":"2.0","id":"getSpeed","result":{"downloadSpeed":42}}`:        42,
	} {
		speed, err := decode(t, frame).DownloadSpeed()
		if err != nil {
			t.Fatalf("%s: %v", frame, err)
		}
		if math.Abs(speed-want) > 0.001 {
			t.Fatalf("%s: speed = %v, want %v", frame, speed, want)
		}
	}

	for _, frame := range []string{
		`{"jsonrpc":"2.0","id":"getSpeed","result":{"downloadSpeed":"fast"}}`,
		`{"jsonrpc":"2.0","id":"getSpeed","result":{}}`,
	} {
		if _, err := decode(t, frame).DownloadSpeed(); err == nil {
			t.Fatalf("%s: expected error", frame)
		}
	}
}

func TestSingleGID(t *testing.T) {
	gid, ok := decode(t, `{"jsonrpc":"2.0","id":"addUrl","result":"c"}`).SingleGID()
	if !ok || gid != "c" {
		t.Fatalf("expected gid c, got %q ok=%v", gid, ok)
	}

	for _, frame := range []string{
		`{"jsonrpc":"2.0","id":"addUrl","result":[["a"]]}`,
		`{"jsonrpc":"2.0","id":"addUrl","result":""}`,
	} {
		if _, ok := decode(t, frame).SingleGID(); ok {
			t.Fatalf("%s: expected no single gid", frame)
		}
	}
}

func TestMulticallGIDs(t *testing.T) {
	outcomes, ok := decode(t, `{"jsonrpc":"2.0","id":"addUrl","result":[["a"],"b",{"faultCode":1,"faultString":"No URI"},42]}`).MulticallGIDs()
	if !ok || len(outcomes) != 4 {
		t.Fatalf("expected 4 outcomes, got %d ok=%v", len(outcomes), ok)
	}
	if outcomes[0].GID != "a" || outcomes[1].GID != "b" {
		t.Fatalf("unexpected gids: %q %q", outcomes[0].GID, outcomes[1].GID)
	}
	if f := outcomes[2].Fault; f == nil || f.Code != 1 || f.Message != "No URI" {
		t.Fatalf("unexpected fault: %+v", f)
	}
	if f := outcomes[3].Fault; f == nil || f.Code != -1 {
		t.Fatalf("expected synthetic fault for unrecognised entry, got %+v", f)
	}

	if _, ok := decode(t, `{"jsonrpc":"2.0","id":"addUrl","result":{"gid":"a"}}`).MulticallGIDs(); ok {
		t.Fatalf("expected object result to be rejected")
	}
}

func TestURIs(t *testing.T) {
	uris, err := decode(t, `{"jsonrpc":"2.0","id":"getUrlForRetry","result":[{"uri":"https://mirror/a","status":"used"},{"uri":"https://mirror/b","status":"waiting"}]}`).URIs()
	if err != nil {
		t.Fatalf("uris: %v", err)
	}
	want := []URIInfo{
		{URI: "https://mirror/a", Status: "used"},
		{URI: "https://mirror/b", Status: "waiting"},
	}
	if !reflect.DeepEqual(uris, want) {
		t.Fatalf("unexpected uris: %+v", uris)
	}

	_, err = decode(t, `{"jsonrpc":"2.0","id":"getUrlForRetry","error":{"code":1,"message":"GID a is not found"}}`).URIs()
	var respErr *ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("expected ResponseError, got %v", err)
	}
	if respErr.Message != "GID a is not found" {
		t.Fatalf("unexpected message %q", respErr.Message)
	}
}

func TestPrettyIndentsFrame(t *testing.T) {
	msg := decode(t, `{"jsonrpc":"2.0","id":"x","result":"OK"}`)
	if got, want := msg.Pretty(), "{\n    \"jsonrpc\": \"2.0\",\n    \"id\": \"x\",\n    \"result\": \"OK\"\n}"; got != want {
		t.Fatalf("pretty = %q, want %q", got, want)
	}
	if got := msg.Raw(); got != `{"jsonrpc":"2.0","id":"x","result":"OK"}` {
		t.Fatalf("raw = %q", got)
	}
}
