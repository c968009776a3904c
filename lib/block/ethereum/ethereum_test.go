package ethereum

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
)

// block contains the sample data to decode: a plain ether transfer and a contract creation.
var block = map[string]interface{}{"difficulty": "0x7ee56684", "gasLimit": "0x47b784", "gasUsed": "0x47addd", "hash": "0xd44a255e40eee23bd90a54a792f7a35c175400958de22a9bbfe08a7b2c244ed6", "number": "0x29bf9b", "parentHash": "0x25e2e6cfc2f49ef320c652d91a7bea99a2d115d29ea832631e5f11911a463158", "timestamp": "0x5a952da9", "transactions": []interface{}{map[string]interface{}{"blockHash": "0xd44a255e40eee23bd90a54a792f7a35c175400958de22a9bbfe08a7b2c244ed6", "blockNumber": "0x29bf9b", "from": "0x1cd434711fbae1f2d9c70001409fd82d71fdccaa", "gas": "0xff59", "gasPrice": "0x98bca5a00", "hash": "0xdbd3184b2f947dab243071000df22cf5acc6efdce90a04aaf057521b1ee5bf60", "input": "0x", "nonce": "0x0", "to": "0xa34de7bd2b4270c0b12d5fd7a0c219a4d68d732f", "transactionIndex": "0x0", "value": "0x16345785d8a0000"}, map[string]interface{}{"blockHash": "0xd44a255e40eee23bd90a54a792f7a35c175400958de22a9bbfe08a7b2c244ed6", "blockNumber": "0x29bf9b", "from": "0xc4581843a8dacd100c7d435bb00b2a20d038e31d", "gas": "0x47b760", "gasPrice": "0x174876e800", "hash": "0xc39f3c2c2b5c0a772e8605bbeef7d341937b85e739a3c55d1e7384ac88f31c65", "input": "0x60806040", "nonce": "0x46", "transactionIndex": "0x1", "value": "0x0"}}, "uncles": []string{}} //nolint:gochecknoglobals, lll // testdata

// TestEthereum tests the DecodeBlock and DecodeTxs functions only as the others are direct calls to the ethcli package.
func TestEthereum(t *testing.T) {
	var e *Ethereum = new(Ethereum)

	b, err := e.DecodeBlock(block)
	if err != nil || (b.Hash != "0xd44a255e40eee23bd90a54a792f7a35c175400958de22a9bbfe08a7b2c244ed6" ||
		b.Number != "0x29bf9b" ||
		b.PHash != "0x25e2e6cfc2f49ef320c652d91a7bea99a2d115d29ea832631e5f11911a463158" ||
		b.TS != "0x5a952da9") {
		t.Errorf("DecodeBlock error:%e Block:%+v", err, b)
	}

	txs, err := e.DecodeTxs(block)
	if err != nil || len(txs) != 2 {
		t.Fatalf("DecodeTxs error:%e txs:%+v", err, txs)
	}

	// the value transfer is fully decoded
	if txs[0].Hash != "0xdbd3184b2f947dab243071000df22cf5acc6efdce90a04aaf057521b1ee5bf60" ||
		txs[0].To != "0xa34de7bd2b4270c0b12d5fd7a0c219a4d68d732f" ||
		txs[0].Value != "0x16345785d8a0000" ||
		txs[0].From != "0x1cd434711fbae1f2d9c70001409fd82d71fdccaa" {
		t.Errorf("DecodeTxs txs[0]:%+v", txs[0])
	}

	// the contract creation keeps an empty To so the deposit pipeline skips it
	if txs[1].Hash != "0xc39f3c2c2b5c0a772e8605bbeef7d341937b85e739a3c55d1e7384ac88f31c65" || txs[1].To != "" {
		t.Errorf("DecodeTxs txs[1]:%+v expected empty To", txs[1])
	}
}

// TestBalance checks the ether balance of an address is loaded from the node through the JSON-RPC client.
func TestBalance(t *testing.T) {
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     *json.RawMessage `json:"id"`
			Method string           `json:"method"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Cannot decode RPC request, err:%e", err)
		}

		if req.Method != "eth_getBalance" {
			t.Errorf("RPC method %s expected:eth_getBalance", req.Method)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  "0x166c761c586733c0",
		})
	}))
	defer node.Close()

	e, err := Init(node.URL, "", 8)
	if err != nil {
		t.Fatalf("Init error:%e", err)
	}
	defer e.Close()

	bal := new(big.Int)
	if err = e.Balance("0xcba75f167b03e34b8a572c50273c082401b073ed", bal); err != nil {
		t.Fatalf("Balance error:%e", err)
	}

	if bal.String() != "1615796230433485760" {
		t.Errorf("Balance %s expected:1615796230433485760", bal.String())
	}
}

// TestDecodeTxsHashesOnly checks a block fetched without full transaction data decodes to a hash-only list.
func TestDecodeTxsHashesOnly(t *testing.T) {
	var e *Ethereum = new(Ethereum)

	hashes := map[string]interface{}{
		"transactions": []interface{}{"0xaaa1", "0xaaa2"},
	}

	txs, err := e.DecodeTxs(hashes)
	if err != nil || len(txs) != 2 || txs[0].Hash != "0xaaa1" || txs[1].Hash != "0xaaa2" {
		t.Errorf("DecodeTxs error:%e txs:%+v", err, txs)
	}
}
