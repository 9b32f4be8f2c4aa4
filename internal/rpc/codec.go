package rpc

import (
	"encoding/json"
	"fmt"
)

const Version = "2.0"

const (
	MethodAddURI             = "aria2.addUri"
	MethodGetURIs            = "aria2.getUris"
	MethodChangeOption       = "aria2.changeOption"
	MethodChangeGlobalOption = "aria2.changeGlobalOption"
	MethodMulticall          = "system.multicall"
	MethodGetGlobalStat      = "aria2.getGlobalStat"
	MethodShutdown           = "aria2.shutdown"
)

const (
	NotificationDownloadStart    = "aria2.onDownloadStart"
	NotificationDownloadComplete = "aria2.onDownloadComplete"
	NotificationDownloadError    = "aria2.onDownloadError"
)

// Well-known correlation ids. Responses are matched against these by exact
// string equality.
const (
	IDDefault    = "ariadl"
	IDSpeed      = "getSpeed"
	IDAddURL     = "addUrl"
	IDShutdown   = "shutdown"
	IDRetryQuery = "getUrlForRetry"
)

type Options map[string]string

type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type MulticallElement struct {
	MethodName string `json:"methodName"`
	Params     []any  `json:"params,omitempty"`
}

func NewRequest(method string, params []any, id string) Request {
	if id == "" {
		id = IDDefault
	}
	if len(params) == 0 {
		params = nil
	}
	return Request{JSONRPC: Version, ID: id, Method: method, Params: params}
}

func NewMulticallElement(method string, params []any) MulticallElement {
	if len(params) == 0 {
		params = nil
	}
	return MulticallElement{MethodName: method, Params: params}
}

// TokenPrefix marks the first positional parameter that carries the
// daemon's --rpc-secret.
const TokenPrefix = "token:"

// WithToken returns a copy of r authorised with secret. aria2.* methods get
// the token as their first parameter; for system.multicall every element is
// authorised instead. An empty secret returns r unchanged.
func (r Request) WithToken(secret string) Request {
	if secret == "" {
		return r
	}
	token := TokenPrefix + secret
	if r.Method == MethodMulticall {
		if len(r.Params) == 0 {
			return r
		}
		calls, ok := r.Params[0].([]MulticallElement)
		if !ok {
			return r
		}
		authorised := make([]MulticallElement, len(calls))
		for i, call := range calls {
			authorised[i] = MulticallElement{MethodName: call.MethodName, Params: prependParam(token, call.Params)}
		}
		r.Params = append([]any{authorised}, r.Params[1:]...)
		return r
	}
	r.Params = prependParam(token, r.Params)
	return r
}

func prependParam(first any, params []any) []any {
	out := make([]any, 0, len(params)+1)
	out = append(out, first)
	return append(out, params...)
}

func (r Request) Encode() ([]byte, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", r.Method, err)
	}
	return payload, nil
}

// AddURIParams is the positional parameter list of aria2.addUri. options may
// be nil.
func AddURIParams(uri string, options Options) []any {
	params := []any{[]string{uri}}
	if len(options) > 0 {
		params = append(params, options)
	}
	return params
}

func AddURI(uri string, options Options, id string) Request {
	return NewRequest(MethodAddURI, AddURIParams(uri, options), id)
}

func GetURIs(gid string, id string) Request {
	return NewRequest(MethodGetURIs, []any{gid}, id)
}

func ChangeOption(gid string, options Options, id string) Request {
	return NewRequest(MethodChangeOption, []any{gid, options}, id)
}

func ChangeGlobalOption(options Options, id string) Request {
	return NewRequest(MethodChangeGlobalOption, []any{options}, id)
}

func Multicall(calls []MulticallElement, id string) Request {
	return NewRequest(MethodMulticall, []any{calls}, id)
}

func GetGlobalStat(id string) Request {
	return NewRequest(MethodGetGlobalStat, nil, id)
}

func Shutdown(id string) Request {
	return NewRequest(MethodShutdown, nil, id)
}
