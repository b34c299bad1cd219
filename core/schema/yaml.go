package schema

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/artpar/conveyr/core/types"
)

// ParseYAML builds a Spec from YAML. A scalar kind name yields a root
// Primitive; a mapping yields a FieldMap in key order whose values are
// either kind names or {type, default} descriptors.
//
//	name: string
//	age:
//	  type: number
//	  default: 18
func ParseYAML(data []byte) (Spec, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return FromNode(&node)
}

// FromNode builds a Spec from a decoded YAML node. A nil or null node
// yields a nil Spec.
func FromNode(node *yaml.Node) (Spec, error) {
	if node == nil {
		return nil, nil
	}

	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return nil, nil
		}
		return FromNode(node.Content[0])
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil, nil
		}
		return kindSpec(node)
	case yaml.MappingNode:
		return fieldMapFromNode(node)
	default:
		return nil, fmt.Errorf("%w: line %d: expected kind name or field mapping", ErrInvalidFormat, node.Line)
	}
}

func fieldMapFromNode(node *yaml.Node) (FieldMap, error) {
	fm := make(FieldMap, 0, len(node.Content)/2)

	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		value := node.Content[i+1]

		var (
			spec Spec
			err  error
		)
		switch value.Kind {
		case yaml.ScalarNode:
			spec, err = kindSpec(value)
		case yaml.MappingNode:
			spec, err = descriptorFromNode(value)
		default:
			err = fmt.Errorf("%w: line %d", ErrInvalidFieldType, value.Line)
		}
		if err != nil {
			return nil, &FieldError{Field: name, Err: err}
		}

		fm = append(fm, Field{Name: name, Spec: spec})
	}

	return fm, nil
}

func descriptorFromNode(node *yaml.Node) (Descriptor, error) {
	var d Descriptor

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		value := node.Content[i+1]

		switch key {
		case "type":
			spec, err := kindSpec(value)
			if err != nil {
				return Descriptor{}, err
			}
			d.Type = spec
		case "default":
			var def any
			if err := value.Decode(&def); err != nil {
				return Descriptor{}, fmt.Errorf("decode default: %w", err)
			}
			d.Default = def
			d.HasDefault = true
		default:
			return Descriptor{}, fmt.Errorf("%w: unknown descriptor key %q", ErrInvalidFieldType, key)
		}
	}

	if d.Type == nil {
		return Descriptor{}, fmt.Errorf("%w: descriptor without type", ErrInvalidFieldType)
	}
	return d, nil
}

func kindSpec(node *yaml.Node) (Primitive, error) {
	if node.Kind != yaml.ScalarNode {
		return Primitive{}, fmt.Errorf("%w: line %d: expected kind name", ErrInvalidFieldType, node.Line)
	}
	k, err := types.ParseKind(node.Value)
	if err != nil {
		return Primitive{}, fmt.Errorf("%w: %v", ErrInvalidFieldType, err)
	}
	return Primitive{Kind: k}, nil
}
