package ldict

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// tagPrefix is the YAML local tag carrying the label, e.g. "!ldict:pert_amp".
const tagPrefix = "!ldict:"

// MarshalYAML encodes the LDict as a mapping node tagged with its label, so
// the label survives a round trip through a config or sidecar file.
func (d *LDict) MarshalYAML() (any, error) {
	node := &yaml.Node{
		Kind: yaml.MappingNode,
		Tag:  tagPrefix + d.label,
	}
	for i, k := range d.keys {
		var kn, vn yaml.Node
		if err := kn.Encode(k); err != nil {
			return nil, fmt.Errorf("encode key %v of label %q: %w", k, d.label, err)
		}
		if err := vn.Encode(d.vals[i]); err != nil {
			return nil, fmt.Errorf("encode value for key %v of label %q: %w", k, d.label, err)
		}
		node.Content = append(node.Content, &kn, &vn)
	}
	return node, nil
}

// UnmarshalYAML decodes a tagged mapping node back into an LDict, reading
// the label out of the tag and preserving key order and key scalar types.
func (d *LDict) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("ldict: expected mapping node, got %v", value.Kind)
	}
	if !strings.HasPrefix(value.Tag, tagPrefix) {
		return fmt.Errorf("ldict: expected tag %q, got %q", tagPrefix+"<label>", value.Tag)
	}
	label := strings.TrimPrefix(value.Tag, tagPrefix)

	rebuilt := &LDict{
		label: label,
		index: make(map[any]int, len(value.Content)/2),
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, err := decodeScalarKey(value.Content[i])
		if err != nil {
			return fmt.Errorf("ldict: label %q: %w", label, err)
		}
		val, err := decodeValue(value.Content[i+1])
		if err != nil {
			return fmt.Errorf("ldict: label %q, key %v: %w", label, key, err)
		}
		rebuilt.index[key] = len(rebuilt.keys)
		rebuilt.keys = append(rebuilt.keys, key)
		rebuilt.vals = append(rebuilt.vals, val)
	}
	*d = *rebuilt
	return nil
}

// decodeScalarKey decodes a key node into the native scalar type its YAML
// tag implies, so float axis keys (0.0, 1.0) round-trip as floats.
func decodeScalarKey(n *yaml.Node) (any, error) {
	if n.Kind != yaml.ScalarNode {
		return nil, fmt.Errorf("key must be a scalar, got kind %v", n.Kind)
	}
	switch n.Tag {
	case "!!int":
		var v int64
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	case "!!float":
		var v float64
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	case "!!bool":
		var v bool
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return n.Value, nil
	}
}

// decodeValue decodes a value node, recursing into tagged mappings so that
// nested LDicts come back as LDicts rather than plain maps.
func decodeValue(n *yaml.Node) (any, error) {
	if n.Kind == yaml.MappingNode && strings.HasPrefix(n.Tag, tagPrefix) {
		child := &LDict{}
		if err := child.UnmarshalYAML(n); err != nil {
			return nil, err
		}
		return child, nil
	}
	if n.Kind == yaml.SequenceNode {
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := decodeValue(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
