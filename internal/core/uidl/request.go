package uidl

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// Request is the client-to-server half of a sync cycle. Transports
// carry it as the body of a sync POST and as text frames on the push
// channel; both end up in the same service entry point.
//
// ClientID acknowledges the newest client message folded into the
// server tree. Resynchronize asks the server to replay full state,
// which a client does after spotting a gap in the syncId sequence.
type Request struct {
	SessionID     string `json:"session"`
	UI            int    `json:"ui"`
	ClientID      int    `json:"clientId"`
	Resynchronize bool   `json:"resynchronize,omitempty"`
}

// DecodeRequest reads one request from r.
func DecodeRequest(r io.Reader) (Request, error) {
	var req Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return Request{}, errors.Wrap(err, "decode sync request")
	}
	return req, nil
}

// Validate reports the first structural problem with the request.
func (r Request) Validate() error {
	if r.SessionID == "" {
		return ErrNoSession
	}
	if r.UI <= 0 {
		return ErrNoUI
	}
	return nil
}
