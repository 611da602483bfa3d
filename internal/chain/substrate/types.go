package substrate

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Polkawatch/substrate-archive/internal/domain/model"
)

type Request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("rpc error %d: %s: %s", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsClientError reports whether the node rejected the request itself
// (malformed request, unknown method, bad params) rather than failing to
// serve it.
func (e *RPCError) IsClientError() bool {
	switch e.Code {
	case -32700, -32600, -32601, -32602:
		return true
	}
	return false
}

// HexBytes is a 0x-prefixed hex string on the wire.
type HexBytes []byte

func (b *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return fmt.Errorf("decode hex bytes: %w", err)
	}
	*b = raw
	return nil
}

func (b HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal("0x" + hex.EncodeToString(b))
}

type rpcHeader struct {
	ParentHash     model.Hash `json:"parentHash"`
	Number         string     `json:"number"`
	StateRoot      model.Hash `json:"stateRoot"`
	ExtrinsicsRoot model.Hash `json:"extrinsicsRoot"`
}

func (h rpcHeader) toModel(hash model.Hash) (model.Header, error) {
	number, err := ParseHexUint32(h.Number)
	if err != nil {
		return model.Header{}, fmt.Errorf("parse header number: %w", err)
	}
	return model.Header{
		ParentHash:     h.ParentHash,
		Hash:           hash,
		Number:         number,
		StateRoot:      h.StateRoot,
		ExtrinsicsRoot: h.ExtrinsicsRoot,
	}, nil
}

type rpcBlock struct {
	Header     rpcHeader  `json:"header"`
	Extrinsics []HexBytes `json:"extrinsics"`
}

type signedBlock struct {
	Block rpcBlock `json:"block"`
}

// ParseHexUint32 parses a 0x-prefixed quantity as returned by header numbers.
func ParseHexUint32(s string) (uint32, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if trimmed == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(trimmed, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("parse hex quantity %q: %w", s, err)
	}
	return uint32(v), nil
}
