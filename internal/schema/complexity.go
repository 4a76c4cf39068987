// Package schema analyzes the shape of JSON-schema generation constraints.
//
// A constrained generator that must emit syntactically valid nested output
// can be cut off by a token ceiling mid-structure, producing an unparseable
// result even when the content was fine. The estimator here reserves extra
// tokens from the schema's shape alone so the generator can always close its
// open structures.
package schema

// Complexity describes the structural shape of a JSON schema.
// Derived, never stored; a pure function of the schema.
type Complexity struct {
	MaxDepth          int
	ObjectFieldCount  int
	ArrayFieldCount   int
	NestedObjectCount int
}

const (
	depthWeight  = 10
	arrayWeight  = 5
	nestedWeight = 3
	baseReserve  = 50

	// maxReserve caps the extra budget so a pathological schema cannot
	// starve the actual content budget.
	maxReserve = 300
)

// Analyze walks the schema and aggregates its structural complexity.
func Analyze(s map[string]any) Complexity {
	var c Complexity
	walk(s, 0, &c)
	return c
}

// EstimateBudget returns the extra tokens to reserve for closing structures.
// Always in [baseReserve, maxReserve]; an empty object schema yields exactly
// the base value. The weights are empirical safety margins.
func EstimateBudget(s map[string]any) int {
	c := Analyze(s)

	reserve := c.MaxDepth*depthWeight +
		c.ArrayFieldCount*arrayWeight +
		c.NestedObjectCount*nestedWeight +
		baseReserve
	if reserve > maxReserve {
		reserve = maxReserve
	}
	return reserve
}

func walk(s map[string]any, depth int, c *Complexity) {
	if s == nil {
		return
	}

	if depth > c.MaxDepth {
		c.MaxDepth = depth
	}

	if isObject(s) && depth > 0 {
		c.NestedObjectCount++
	}

	if props, ok := s["properties"].(map[string]any); ok {
		for _, p := range props {
			c.ObjectFieldCount++
			if sub, ok := p.(map[string]any); ok {
				walk(sub, depth+1, c)
			}
		}
	}

	if items, ok := s["items"].(map[string]any); ok {
		c.ArrayFieldCount++
		walk(items, depth+1, c)
	} else if typeName(s) == "array" {
		// Array without an item schema still counts as an array field.
		c.ArrayFieldCount++
	}

	// Alternative constructs: each branch one level deeper; MaxDepth keeps
	// the deepest branch seen.
	for _, key := range []string{"anyOf", "oneOf", "allOf"} {
		if alts, ok := s[key].([]any); ok {
			for _, alt := range alts {
				if sub, ok := alt.(map[string]any); ok {
					walk(sub, depth+1, c)
				}
			}
		}
	}
}

func typeName(s map[string]any) string {
	t, _ := s["type"].(string)
	return t
}

func isObject(s map[string]any) bool {
	if typeName(s) == "object" {
		return true
	}
	_, hasProps := s["properties"]
	return hasProps
}
