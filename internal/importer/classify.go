package importer

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Kind is the detected shape of an imported file.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindBatch
	KindLegacy
	KindBulk
)

func (k Kind) String() string {
	switch k {
	case KindBatch:
		return "batch"
	case KindLegacy:
		return "legacy"
	case KindBulk:
		return "bulk"
	default:
		return "unrecognized"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

var depositFields = []string{"pubkey", "withdrawal_credentials", "signature", "deposit_data_root"}

// Classify detects the shape of a parsed document. The checks run in a fixed
// order and the first match wins: a single batch file, then an array of
// deposit data, then a bulk export envelope.
func Classify(doc interface{}) Kind {
	if obj, ok := doc.(map[string]interface{}); ok {
		if truthy(obj["meta"]) && truthy(obj["transactions"]) {
			return KindBatch
		}
	}
	if arr, ok := doc.([]interface{}); ok && allDeposits(arr) {
		return KindLegacy
	}
	if obj, ok := doc.(map[string]interface{}); ok {
		if _, ok := obj["data"].(map[string]interface{}); ok {
			return KindBulk
		}
	}
	return KindUnrecognized
}

// allDeposits is vacuously true for an empty array.
func allDeposits(arr []interface{}) bool {
	for _, el := range arr {
		if !isDeposit(el) {
			return false
		}
	}
	return true
}

func isDeposit(el interface{}) bool {
	obj, ok := el.(map[string]interface{})
	if !ok {
		return false
	}
	for _, f := range depositFields {
		if !truthy(obj[f]) {
			return false
		}
	}
	return true
}

// truthy reports whether a decoded value counts as present: null, false,
// 0 and "" do not.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := strconv.ParseFloat(t.String(), 64)
		return err != nil || f != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

func parse(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	// anything after the document is a parse error
	if len(bytes.TrimSpace(raw[dec.InputOffset():])) > 0 {
		return nil, errTrailingData
	}
	return doc, nil
}
