package sema

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/google/uuid"
)

// ScopeId identifies one lexical scope. Unlike VarId, scopes need no
// reproducible hash — each is freshly minted when opened (spec §3).
type ScopeId uuid.UUID

func newScopeId() ScopeId       { return ScopeId(uuid.New()) }
func (s ScopeId) String() string { return uuid.UUID(s).String() }
func (s ScopeId) IsZero() bool   { return s == ScopeId{} }

// VarId is a deterministic hash of (name, shadow count, defining scope),
// per spec §3's "VarId = hash(name, count, scope)" and the name-resolution
// determinism testable property (spec §8): re-running the same compile
// must assign identical ids to identical variables.
type VarId [32]byte

func (v VarId) String() string { return hex.EncodeToString(v[:8]) }
func (v VarId) IsZero() bool   { var z VarId; return v == z }

func hashVarId(name string, count int, scope ScopeId) VarId {
	h := sha256.New()
	h.Write([]byte(name))
	var cb [8]byte
	binary.LittleEndian.PutUint64(cb[:], uint64(count))
	h.Write(cb[:])
	sb := uuid.UUID(scope)
	h.Write(sb[:])
	var id VarId
	copy(id[:], h.Sum(nil))
	return id
}
