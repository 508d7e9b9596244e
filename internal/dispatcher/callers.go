package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/recursivelm/rlm/internal/rlmtype"
	"github.com/recursivelm/rlm/internal/wire"
)

// TCPCaller implements Caller for the non-isolated transport: one
// framed request, one framed response, over a fresh connection to the
// LM Handler — the same round trip the Python shim's socket transport
// performs.
type TCPCaller struct {
	HandlerAddr string
	DialTimeout time.Duration
}

func (c TCPCaller) Call(ctx context.Context, req rlmtype.LMRequest) (rlmtype.LMResponse, error) {
	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.HandlerAddr)
	if err != nil {
		return rlmtype.LMResponse{}, err
	}
	defer conn.Close()

	if err := wire.WriteFrame(conn, req); err != nil {
		return rlmtype.LMResponse{}, err
	}

	var resp rlmtype.LMResponse
	if err := wire.ReadFrame(conn, &resp, 0); err != nil {
		return rlmtype.LMResponse{}, err
	}
	return resp, nil
}

// BrokerCaller implements Caller for the isolated transport: a POST to
// the local broker's /enqueue, matching §4.4's wire shape.
type BrokerCaller struct {
	BrokerURL  string
	HTTPClient *http.Client
}

func (c BrokerCaller) Call(ctx context.Context, req rlmtype.LMRequest) (rlmtype.LMResponse, error) {
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 610 * time.Second}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return rlmtype.LMResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BrokerURL+"/enqueue", bytes.NewReader(body))
	if err != nil {
		return rlmtype.LMResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return rlmtype.LMResponse{}, err
	}
	defer resp.Body.Close()

	var lmResp rlmtype.LMResponse
	if err := json.NewDecoder(resp.Body).Decode(&lmResp); err != nil {
		return rlmtype.LMResponse{}, err
	}
	return lmResp, nil
}
