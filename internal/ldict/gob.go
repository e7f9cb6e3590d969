package ldict

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

func init() {
	// Keys and values travel as interface values; gob needs the concrete
	// types named ahead of time.
	gob.Register("")
	gob.Register(false)
	gob.Register(int(0))
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register([]any(nil))
	gob.Register([]float64(nil))
	gob.Register([][]float64(nil))
	gob.Register(map[string]any(nil))
	gob.Register(&LDict{})
}

// gobLDict is the wire form for the state cache; exported fields only.
type gobLDict struct {
	Label string
	Keys  []any
	Vals  []any
}

// GobEncode implements gob.GobEncoder so LDict trees can pass through the
// engine's on-disk state cache.
func (d *LDict) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(gobLDict{Label: d.label, Keys: d.keys, Vals: d.vals}); err != nil {
		return nil, fmt.Errorf("gob encode ldict %q: %w", d.label, err)
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (d *LDict) GobDecode(data []byte) error {
	var w gobLDict
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return fmt.Errorf("gob decode ldict: %w", err)
	}
	pairs := make([]Pair, len(w.Keys))
	for i, k := range w.Keys {
		pairs[i] = Pair{K: k, V: w.Vals[i]}
	}
	*d = *New(w.Label, pairs...)
	return nil
}
