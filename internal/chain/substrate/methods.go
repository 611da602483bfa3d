package substrate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Polkawatch/substrate-archive/internal/domain/model"
)

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// FinalizedHash returns the hash of the latest finalized block.
func (c *Client) FinalizedHash(ctx context.Context) (model.Hash, error) {
	result, err := c.call(ctx, "chain_getFinalizedHead", nil)
	if err != nil {
		return model.Hash{}, fmt.Errorf("chain_getFinalizedHead: %w", err)
	}
	var hash model.Hash
	if err := json.Unmarshal(result, &hash); err != nil {
		return model.Hash{}, fmt.Errorf("unmarshal finalized head: %w", err)
	}
	return hash, nil
}

// Header returns the header of hash, or nil when the node does not know it.
func (c *Client) Header(ctx context.Context, hash model.Hash) (*model.Header, error) {
	result, err := c.call(ctx, "chain_getHeader", []interface{}{hash.String()})
	if err != nil {
		return nil, fmt.Errorf("chain_getHeader(%s): %w", hash, err)
	}
	if isNull(result) {
		return nil, nil
	}
	var raw rpcHeader
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal header: %w", err)
	}
	header, err := raw.toModel(hash)
	if err != nil {
		return nil, err
	}
	return &header, nil
}

// BlockHash returns the canonical hash at number, or ok=false when the node
// has no block at that height.
func (c *Client) BlockHash(ctx context.Context, number uint32) (model.Hash, bool, error) {
	result, err := c.call(ctx, "chain_getBlockHash", []interface{}{number})
	if err != nil {
		return model.Hash{}, false, fmt.Errorf("chain_getBlockHash(%d): %w", number, err)
	}
	if isNull(result) {
		return model.Hash{}, false, nil
	}
	var hash model.Hash
	if err := json.Unmarshal(result, &hash); err != nil {
		return model.Hash{}, false, fmt.Errorf("unmarshal block hash: %w", err)
	}
	return hash, true, nil
}

// Block returns the full block at hash, or nil when unknown.
func (c *Client) Block(ctx context.Context, hash model.Hash) (*model.BackendBlock, error) {
	result, err := c.call(ctx, "chain_getBlock", []interface{}{hash.String()})
	if err != nil {
		return nil, fmt.Errorf("chain_getBlock(%s): %w", hash, err)
	}
	if isNull(result) {
		return nil, nil
	}
	var signed signedBlock
	if err := json.Unmarshal(result, &signed); err != nil {
		return nil, fmt.Errorf("unmarshal block: %w", err)
	}
	header, err := signed.Block.Header.toModel(hash)
	if err != nil {
		return nil, err
	}
	extrinsics := make([][]byte, len(signed.Block.Extrinsics))
	for i, xt := range signed.Block.Extrinsics {
		extrinsics[i] = []byte(xt)
	}
	return &model.BackendBlock{Header: header, Extrinsics: extrinsics}, nil
}

// RuntimeVersion returns the runtime version at hash.
func (c *Client) RuntimeVersion(ctx context.Context, hash model.Hash) (*model.RuntimeVersion, error) {
	result, err := c.call(ctx, "state_getRuntimeVersion", []interface{}{hash.String()})
	if err != nil {
		return nil, fmt.Errorf("state_getRuntimeVersion(%s): %w", hash, err)
	}
	if isNull(result) {
		return nil, nil
	}
	var version model.RuntimeVersion
	if err := json.Unmarshal(result, &version); err != nil {
		return nil, fmt.Errorf("unmarshal runtime version: %w", err)
	}
	return &version, nil
}

// Storage reads the raw value under key at hash. Absent keys return nil.
func (c *Client) Storage(ctx context.Context, hash model.Hash, key []byte) ([]byte, error) {
	result, err := c.call(ctx, "state_getStorage", []interface{}{HexBytes(key), hash.String()})
	if err != nil {
		return nil, fmt.Errorf("state_getStorage(%s): %w", hash, err)
	}
	if isNull(result) {
		return nil, nil
	}
	var value HexBytes
	if err := json.Unmarshal(result, &value); err != nil {
		return nil, fmt.Errorf("unmarshal storage value: %w", err)
	}
	return []byte(value), nil
}
