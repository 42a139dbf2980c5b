package chainhandle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params []any           `json:"params"`
}

// newMockNode serves just enough of the JSON-RPC surface
// (eth_blockNumber, eth_getCode) for the chainhandle client to exercise.
func newMockNode(t *testing.T, code string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode JSON-RPC request: %v", err)
		}

		var result any
		switch req.Method {
		case "eth_blockNumber":
			result = "0x64" // 100
		case "eth_getCode":
			result = code
		default:
			t.Fatalf("unexpected RPC method: %s", req.Method)
		}

		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestNewClient_VerifiesConnectivity(t *testing.T) {
	srv := newMockNode(t, "0x60006000")
	defer srv.Close()

	client, err := NewClient(context.Background(), Config{RPCURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error connecting to the mock node: %v", err)
	}
	defer client.Close()
}

func TestNewClient_FailsOnUnreachableNode(t *testing.T) {
	_, err := NewClient(context.Background(), Config{RPCURL: "http://127.0.0.1:0"})
	if err == nil {
		t.Fatal("expected an error dialing an unreachable node")
	}
}

func TestGetCode_LatestAndHistorical(t *testing.T) {
	srv := newMockNode(t, "0x6001600201")
	defer srv.Close()

	client, err := NewClient(context.Background(), Config{RPCURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer client.Close()

	addr := common.HexToAddress("0x1234567890123456789012345678901234567890")

	code, err := client.GetCode(context.Background(), addr, nil)
	if err != nil {
		t.Fatalf("unexpected error fetching latest code: %v", err)
	}
	if len(code) == 0 {
		t.Error("expected nonempty deployed code")
	}

	var block uint64 = 50
	code, err = client.GetCode(context.Background(), addr, &block)
	if err != nil {
		t.Fatalf("unexpected error fetching historical code: %v", err)
	}
	if len(code) == 0 {
		t.Error("expected nonempty deployed code at a historical block")
	}
}

func TestCurrentBlock(t *testing.T) {
	srv := newMockNode(t, "0x60")
	defer srv.Close()

	client, err := NewClient(context.Background(), Config{RPCURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer client.Close()

	block, err := client.CurrentBlock(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if block != 100 {
		t.Errorf("expected block 100, got %d", block)
	}
}
