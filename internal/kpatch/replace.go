package kpatch

import (
	"bytes"
	"fmt"

	"github.com/fwemu/tools/internal/fault"
	"go4.org/bytereplacer"
)

// Replacement is an in-place literal patch. Old and New must have the same
// length so that no offsets in the image move.
type Replacement struct {
	Old string
	New string
}

// ReplaceLiterals applies all replacements to a copy of buf. Every Old
// string must occur at least once.
func ReplaceLiterals(buf []byte, repls []Replacement) ([]byte, error) {
	if len(repls) == 0 {
		return bytes.Clone(buf), nil
	}
	oldnew := make([]string, 0, 2*len(repls))
	for _, r := range repls {
		if len(r.Old) != len(r.New) {
			return nil, fmt.Errorf("replacement length %d != %d, from %q to %q", len(r.Old), len(r.New), r.Old, r.New)
		}
		if !bytes.Contains(buf, []byte(r.Old)) {
			return nil, &fault.StructuralMismatch{What: "literal replacement", Offset: -1, Want: fmt.Sprintf("%q", r.Old), Got: "no match"}
		}
		oldnew = append(oldnew, r.Old, r.New)
	}
	return bytereplacer.New(oldnew...).Replace(bytes.Clone(buf)), nil
}
