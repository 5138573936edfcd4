// Package capability declares the contracts an adapter has to satisfy for
// each capability kind, together with the result values they produce.
package capability

import "fmt"

// Kind names a capability an adapter can provide.
type Kind string

const (
	KindOCR        Kind = "ocr"
	KindTranslator Kind = "translator"
	KindSearch     Kind = "search"
)

var allKinds = []Kind{KindOCR, KindTranslator, KindSearch}

// Kinds returns every supported capability kind in a stable order.
func Kinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindOCR, KindTranslator, KindSearch:
		return true
	default:
		return false
	}
}

func (k Kind) String() string { return string(k) }

// ParseKind converts s into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("invalid adapter kind %q", s)
	}
	return k, nil
}
