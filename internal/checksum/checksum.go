// Package checksum computes and verifies batch file checksums.
//
// The checksum is the Keccak-256 of a key-sorted serialization of the batch
// with meta.name nulled and meta.checksum removed, so renaming a batch does
// not invalidate it.
package checksum

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/robertlestak/txbatch/internal/schema"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"
)

var (
	ErrNotObject = errors.New("checksum input is not a JSON object")
)

// Stringify encodes v as compact JSON without HTML escaping. Struct field
// order is kept, so the output is stable for a given value.
func Stringify(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Calculate returns the 0x-prefixed checksum of b.
func Calculate(b *schema.BatchFile) (string, error) {
	jd, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	return CalculateRaw(jd)
}

// CalculateRaw computes the checksum of a batch file as authored, without
// decoding it into schema types first.
func CalculateRaw(raw []byte) (string, error) {
	l := log.WithFields(log.Fields{
		"package": "checksum",
		"func":    "CalculateRaw",
	})
	doc, err := decode(raw)
	if err != nil {
		l.Error(err)
		return "", err
	}
	obj, ok := doc.(map[string]interface{})
	if !ok {
		return "", ErrNotObject
	}
	stripped := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		stripped[k] = v
	}
	meta := map[string]interface{}{}
	if m, ok := obj["meta"].(map[string]interface{}); ok {
		for k, v := range m {
			if k == "checksum" {
				continue
			}
			meta[k] = v
		}
	}
	meta["name"] = nil
	stripped["meta"] = meta

	var buf bytes.Buffer
	if err := serialize(&buf, stripped); err != nil {
		l.Error(err)
		return "", err
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(buf.Bytes())
	return "0x" + hex.EncodeToString(h.Sum(nil)), nil
}

// Validate reports whether raw carries a meta.checksum matching its content.
// A file without a checksum is not valid.
func Validate(raw []byte) (bool, error) {
	var doc struct {
		Meta struct {
			Checksum string `json:"checksum"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false, err
	}
	if doc.Meta.Checksum == "" {
		return false, nil
	}
	sum, err := CalculateRaw(raw)
	if err != nil {
		return false, err
	}
	return sum == doc.Meta.Checksum, nil
}

func decode(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// serialize writes objects as {[sorted keys]v1,v2,} and arrays as [v1,v2].
// Scalars are plain JSON.
func serialize(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case []interface{}:
		buf.WriteByte('[')
		for i, el := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := serialize(buf, el); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		kd, err := Stringify(keys)
		if err != nil {
			return err
		}
		buf.WriteByte('{')
		buf.Write(kd)
		for _, k := range keys {
			if err := serialize(buf, t[k]); err != nil {
				return err
			}
			buf.WriteByte(',')
		}
		buf.WriteByte('}')
	default:
		sd, err := Stringify(t)
		if err != nil {
			return fmt.Errorf("serialize %T: %w", t, err)
		}
		buf.Write(sd)
	}
	return nil
}
