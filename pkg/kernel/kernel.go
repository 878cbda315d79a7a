// Package kernel is the registration boundary for fully elaborated
// declarations. The obligation machinery never type-checks terms
// itself; it hands ground declarations to a Checker and works with
// versioned Env handles so that no step can read a view that predates
// one of its own side effects.
package kernel

import (
	"errors"
	"fmt"

	"github.com/proviso-lang/proviso/pkg/term"
)

// DeclKind classifies registered declarations.
type DeclKind string

const (
	KindDefinition DeclKind = "definition"
	KindTheorem    DeclKind = "theorem"
	KindAxiom      DeclKind = "axiom"
)

// Ref is the global reference of a registered declaration.
type Ref struct {
	Name   string `json:"name"`
	Digest string `json:"digest"`
}

// Declaration is a fully elaborated, ground declaration.
type Declaration struct {
	Name              string           `json:"name"`
	Kind              DeclKind         `json:"kind"`
	Type              *term.Expr       `json:"type"`
	Body              *term.Expr       `json:"body,omitempty"` // nil for axioms
	Univ              term.UnivContext `json:"univ"`
	Opaque            bool             `json:"opaque"`
	DependsOnAdmitted bool             `json:"depends_on_admitted,omitempty"`
	Version           string           `json:"version,omitempty"` // support-library version, if any
}

var (
	ErrAlreadyDeclared = errors.New("declaration already exists")
	ErrNotDeclared     = errors.New("declaration not found")
	ErrNotGround       = errors.New("declaration contains unsolved holes")
)

// Store persists registered declarations. Implementations must be safe
// for concurrent readers; writes come from the single command thread.
type Store interface {
	Put(decl *Declaration) error
	Get(name string) (*Declaration, error)
	Contains(name string) bool
	Names() ([]string, error)
	// Version increases monotonically with every successful Put.
	Version() uint64
}

// Env is an immutable view of a Store at a specific version. Register
// returns a fresh Env; holding on to a stale one across a side effect
// is the bug class the version check below exists to catch.
type Env struct {
	store   Store
	version uint64
}

// NewEnv returns the current view of store.
func NewEnv(store Store) Env {
	return Env{store: store, version: store.Version()}
}

// Lookup fetches a declaration visible in this view.
func (e Env) Lookup(name string) (*Declaration, error) {
	return e.store.Get(term.NormalizeName(name))
}

// Contains reports visibility of name in this view.
func (e Env) Contains(name string) bool {
	return e.store.Contains(term.NormalizeName(name))
}

// Stale reports whether the underlying store has advanced past this
// view. A finalize pass must never continue with a stale handle.
func (e Env) Stale() bool {
	return e.store != nil && e.store.Version() > e.version
}

// Version returns the view's store version.
func (e Env) Version() uint64 { return e.version }

// Checker validates and registers declarations.
type Checker interface {
	// Check validates decl against env without registering it.
	Check(env Env, decl *Declaration) error
	// Register validates and stores decl, returning the advanced Env
	// and the global reference of the new declaration.
	Register(env Env, decl *Declaration) (Env, Ref, error)
}

// TrustingChecker performs structural checks only: groundness, name
// collisions, and reference resolution. Full type checking is the
// external kernel's concern.
type TrustingChecker struct{}

func (TrustingChecker) Check(env Env, decl *Declaration) error {
	if decl == nil {
		return errors.New("nil declaration")
	}
	if decl.Name == "" {
		return errors.New("declaration has no name")
	}
	if decl.Type == nil {
		return fmt.Errorf("declaration %s has no type", decl.Name)
	}
	if !term.IsGround(decl.Type) {
		return fmt.Errorf("%w: type of %s", ErrNotGround, decl.Name)
	}
	if decl.Kind != KindAxiom {
		if decl.Body == nil {
			return fmt.Errorf("declaration %s has no body", decl.Name)
		}
		if !term.IsGround(decl.Body) {
			return fmt.Errorf("%w: body of %s", ErrNotGround, decl.Name)
		}
	}
	if env.Contains(decl.Name) {
		return fmt.Errorf("%w: %s", ErrAlreadyDeclared, decl.Name)
	}
	return nil
}

func (c TrustingChecker) Register(env Env, decl *Declaration) (Env, Ref, error) {
	if err := c.Check(env, decl); err != nil {
		return env, Ref{}, err
	}
	d := *decl
	d.Name = term.NormalizeName(decl.Name)
	digest, err := term.Digest(d.Type)
	if err != nil {
		return env, Ref{}, err
	}
	if err := env.store.Put(&d); err != nil {
		return env, Ref{}, err
	}
	return NewEnv(env.store), Ref{Name: d.Name, Digest: digest}, nil
}
