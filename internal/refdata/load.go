package refdata

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads reference tables from a YAML file.
//
//	patterns:
//	  - regex: 'paypal.*\.com-'
//	    severity: high
//	    description: Imitation of PayPal domain
//	reputation:
//	  google.com: 95
//	suspiciousTlds: [".tk", ".xyz"]
//	keywords: [login, verify]
func LoadFile(path string) (*ReferenceData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference data: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML reference tables. Unknown fields are rejected.
func Parse(data []byte) (*ReferenceData, error) {
	var t Tables
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTables, err)
	}
	return New(t)
}
