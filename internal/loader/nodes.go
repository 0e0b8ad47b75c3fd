package loader

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

const mergeTag = "!!merge"

type pair struct {
	key   string
	value *yaml.Node
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

// mappingPairs lists a mapping's entries in document order with merge keys
// expanded. Explicit keys win over merged ones.
func mappingPairs(n *yaml.Node) ([]pair, error) {
	var out []pair
	index := map[string]int{}
	var merged []pair

	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if k.Kind != yaml.ScalarNode {
			return nil, schema.ConfigurationError("mapping keys must be scalars (line %d)", k.Line)
		}
		if k.ShortTag() == mergeTag {
			sources, err := mergeSources(v)
			if err != nil {
				return nil, err
			}
			merged = append(merged, sources...)
			continue
		}
		if _, dup := index[k.Value]; dup {
			return nil, schema.ConfigurationError("duplicate key %q (line %d)", k.Value, k.Line)
		}
		index[k.Value] = len(out)
		out = append(out, pair{key: k.Value, value: v})
	}

	for _, p := range merged {
		if _, ok := index[p.key]; ok {
			continue
		}
		index[p.key] = len(out)
		out = append(out, p)
	}
	return out, nil
}

func mergeSources(v *yaml.Node) ([]pair, error) {
	v = resolveAlias(v)
	switch v.Kind {
	case yaml.MappingNode:
		return mappingPairs(v)
	case yaml.SequenceNode:
		var out []pair
		seen := map[string]bool{}
		for _, item := range v.Content {
			item = resolveAlias(item)
			if item.Kind != yaml.MappingNode {
				return nil, schema.ConfigurationError("merge key needs mappings (line %d)", item.Line)
			}
			ps, err := mappingPairs(item)
			if err != nil {
				return nil, err
			}
			for _, p := range ps {
				if !seen[p.key] {
					seen[p.key] = true
					out = append(out, p)
				}
			}
		}
		return out, nil
	}
	return nil, schema.ConfigurationError("merge key needs a mapping (line %d)", v.Line)
}

// nodeValue converts a YAML node into the raw descriptor tree the step
// decoder understands: map[string]any, []any and scalars, with `!step name`
// scalars becoming schema.StepRef.
func nodeValue(n *yaml.Node) (any, error) {
	n = resolveAlias(n)
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return nodeValue(n.Content[0])

	case yaml.MappingNode:
		pairs, err := mappingPairs(n)
		if err != nil {
			return nil, err
		}
		m := make(map[string]any, len(pairs))
		for _, p := range pairs {
			v, err := nodeValue(p.value)
			if err != nil {
				return nil, err
			}
			m[p.key] = v
		}
		return m, nil

	case yaml.SequenceNode:
		list := make([]any, 0, len(n.Content))
		for _, item := range n.Content {
			v, err := nodeValue(item)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, nil

	case yaml.ScalarNode:
		if n.Tag == StepTag {
			name := strings.TrimSpace(n.Value)
			if name == "" {
				return nil, schema.ConfigurationError("%s needs a step name (line %d)", StepTag, n.Line)
			}
			return schema.StepRef{Name: name}, nil
		}
		if strings.HasPrefix(n.Tag, "!") && !strings.HasPrefix(n.Tag, "!!") {
			return nil, schema.ConfigurationError("unknown tag %s (line %d)", n.Tag, n.Line)
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, schema.ConfigurationError("line %d: %v", n.Line, err).WithCause(err)
		}
		return v, nil
	}
	return nil, schema.ConfigurationError("unsupported YAML node at line %d", n.Line)
}
