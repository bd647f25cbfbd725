package orders

import "strings"

// VariantKey identifies a purchasable configuration of a product.
// A nil attribute is a concrete value ("no color"), not a wildcard.
type VariantKey struct {
	Color    *string `json:"color"`
	Size     *string `json:"size"`
	Material *string `json:"material"`
}

// NewVariantKey trims the attributes; blank strings count as absent.
func NewVariantKey(color, size, material *string) VariantKey {
	return VariantKey{Color: norm(color), Size: norm(size), Material: norm(material)}
}

func norm(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

func sameAttr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (k VariantKey) Equal(o VariantKey) bool {
	return sameAttr(k.Color, o.Color) && sameAttr(k.Size, o.Size) && sameAttr(k.Material, o.Material)
}

// String renders the key for logs. Absent attributes render as "-".
func (k VariantKey) String() string {
	part := func(s *string) string {
		if s == nil {
			return "-"
		}
		return `"` + *s + `"`
	}
	return part(k.Color) + "/" + part(k.Size) + "/" + part(k.Material)
}

type attrKey struct {
	set bool
	v   string
}

func attr(s *string) attrKey {
	if s == nil {
		return attrKey{}
	}
	return attrKey{set: true, v: *s}
}

// lineKey compares by value; String() is for display and may collide.
type lineKey struct {
	productID             string
	color, size, material attrKey
}

func keyOf(productID string, k VariantKey) lineKey {
	return lineKey{productID: productID, color: attr(k.Color), size: attr(k.Size), material: attr(k.Material)}
}

// MergeLines collapses inputs that share product and variant, keeping first-seen order.
func MergeLines(items []ItemInput) []ItemInput {
	out := make([]ItemInput, 0, len(items))
	idx := map[lineKey]int{}
	for _, it := range items {
		v := it.Variant()
		k := keyOf(it.ProductID, v)
		if i, ok := idx[k]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		it.Color, it.Size, it.Material = v.Color, v.Size, v.Material
		idx[k] = len(out)
		out = append(out, it)
	}
	return out
}
