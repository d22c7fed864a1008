package rpc

import (
	"encoding/json"
	"fmt"
)

// Namespace is the single well-known envelope key. Traffic without it is
// unrelated and silently ignored.
const Namespace = "solid-auth-client"

// WildcardOrigin addresses any origin. It is only legitimate for the very
// first bootstrap call that discovers a peer's true origin; see
// Client.Request.
const WildcardOrigin = "*"

// Request is the wire form of one call.
type Request struct {
	ID     string            `json:"id"`
	Method string            `json:"method"`
	Args   []json.RawMessage `json:"args"`
}

// Response is the wire form of one call's result.
type Response struct {
	ID  string          `json:"id"`
	Ret json.RawMessage `json:"ret"`
}

func encodeRequest(req Request) ([]byte, error) {
	return json.Marshal(map[string]Request{Namespace: req})
}

func encodeResponse(resp Response) ([]byte, error) {
	return json.Marshal(map[string]Response{Namespace: resp})
}

// decodeRequest extracts a request from an envelope. ok is false for
// anything that is not a well-formed request in our namespace; such traffic
// is overheard, not erroneous.
func decodeRequest(data []byte) (Request, bool) {
	payload, found := envelopePayload(data)
	if !found {
		return Request{}, false
	}
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return Request{}, false
	}
	if req.ID == "" || req.Method == "" {
		return Request{}, false
	}
	return req, true
}

// decodeResponse extracts a response from an envelope. A response must carry
// a "ret" key; its value may be JSON null.
func decodeResponse(data []byte) (Response, bool) {
	payload, found := envelopePayload(data)
	if !found {
		return Response{}, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Response{}, false
	}
	if _, hasRet := fields["ret"]; !hasRet {
		return Response{}, false
	}
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return Response{}, false
	}
	if resp.ID == "" {
		return Response{}, false
	}
	return resp, true
}

func envelopePayload(data []byte) (json.RawMessage, bool) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, false
	}
	payload, ok := envelope[Namespace]
	return payload, ok
}

// marshalArgs converts caller arguments to their wire form.
func marshalArgs(args []interface{}) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(args))
	for i, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("rpc: marshaling arg %d: %w", i, err)
		}
		out = append(out, raw)
	}
	return out, nil
}
