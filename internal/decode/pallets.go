package decode

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// palletFile is the on-disk layout of a pallet name table:
//
//	pallets:
//	  0:
//	    name: system
//	    calls: {0: remark, 1: set_heap_pages}
//	  3:
//	    name: timestamp
//	    calls: {0: set}
type palletFile struct {
	Pallets map[uint8]struct {
		Name  string           `yaml:"name"`
		Calls map[uint8]string `yaml:"calls"`
	} `yaml:"pallets"`
}

// LoadPallets reads a pallet name table from a YAML file. An empty path
// yields an empty table.
func LoadPallets(path string) (map[uint8]Pallet, error) {
	if path == "" {
		return map[uint8]Pallet{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pallet table: %w", err)
	}
	return ParsePallets(raw)
}

func ParsePallets(raw []byte) (map[uint8]Pallet, error) {
	var parsed palletFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse pallet table: %w", err)
	}
	out := make(map[uint8]Pallet, len(parsed.Pallets))
	for idx, p := range parsed.Pallets {
		if p.Name == "" {
			return nil, fmt.Errorf("parse pallet table: pallet %d has no name", idx)
		}
		out[idx] = Pallet{Name: p.Name, Calls: p.Calls}
	}
	return out, nil
}
