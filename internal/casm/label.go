package casm

import "github.com/google/uuid"

// LabelId is an opaque 128-bit label identifier (spec §3: "opaque 128-bit
// identifiers generated fresh"). Grounded on the rest-of-pack convention of
// using github.com/google/uuid for this kind of handle (GlyphLang,
// estevaofon-noxy, funvibe-funxy, nspcc-dev-neo-go all depend on it) and on
// the original Rust source's u128/Ulid scope and label identifiers.
type LabelId uuid.UUID

// NewLabelId generates a fresh label identifier.
func NewLabelId() LabelId { return LabelId(uuid.New()) }

func (l LabelId) String() string { return uuid.UUID(l).String() }

// IsZero reports whether l is the zero value (no label), used by
// instructions whose label is optional (e.g. a fall-through Goto).
func (l LabelId) IsZero() bool { return l == LabelId{} }
