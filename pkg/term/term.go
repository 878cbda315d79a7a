// Package term is the kernel-boundary term representation.
//
// Terms here are a fixed algebraic tree: global references, variables,
// named holes (unsolved obligations), applications, binders, and sorts.
// The real type checker lives behind the kernel boundary; this package
// only gives the obligation machinery enough structure to substitute
// solved subterms and compute canonical digests.
package term

import (
	"fmt"
	"strings"
)

// Kind discriminates expression nodes.
type Kind string

const (
	KindRef  Kind = "ref"
	KindVar  Kind = "var"
	KindHole Kind = "hole"
	KindApp  Kind = "app"
	KindLam  Kind = "lam"
	KindPi   Kind = "pi"
	KindSort Kind = "sort"
)

// Expr is a closed expression tree. Exactly the fields relevant to the
// node's Kind are set; the rest stay zero so JCS digests are stable.
type Expr struct {
	Kind   Kind   `json:"kind"`
	Name   string `json:"name,omitempty"`   // Ref target, Var name, Hole name
	Binder string `json:"binder,omitempty"` // Lam/Pi bound variable
	Level  string `json:"level,omitempty"`  // Sort universe level
	Fn     *Expr  `json:"fn,omitempty"`
	Arg    *Expr  `json:"arg,omitempty"`
	Dom    *Expr  `json:"dom,omitempty"`
	Body   *Expr  `json:"body,omitempty"`
}

// Ref references a registered global constant.
func Ref(name string) *Expr { return &Expr{Kind: KindRef, Name: NormalizeName(name)} }

// Var references a bound or section variable.
func Var(name string) *Expr { return &Expr{Kind: KindVar, Name: name} }

// Hole is a named placeholder for a not-yet-solved obligation.
func Hole(name string) *Expr { return &Expr{Kind: KindHole, Name: name} }

// App applies fn to arg.
func App(fn, arg *Expr) *Expr { return &Expr{Kind: KindApp, Fn: fn, Arg: arg} }

// Lam is a lambda abstraction.
func Lam(binder string, dom, body *Expr) *Expr {
	return &Expr{Kind: KindLam, Binder: binder, Dom: dom, Body: body}
}

// Pi is a dependent product.
func Pi(binder string, dom, body *Expr) *Expr {
	return &Expr{Kind: KindPi, Binder: binder, Dom: dom, Body: body}
}

// Sort is a universe.
func Sort(level string) *Expr { return &Expr{Kind: KindSort, Level: level} }

// Clone returns a deep copy.
func (e *Expr) Clone() *Expr {
	if e == nil {
		return nil
	}
	c := *e
	c.Fn = e.Fn.Clone()
	c.Arg = e.Arg.Clone()
	c.Dom = e.Dom.Clone()
	c.Body = e.Body.Clone()
	return &c
}

// Equal reports structural equality.
func (e *Expr) Equal(o *Expr) bool {
	if e == nil || o == nil {
		return e == o
	}
	if e.Kind != o.Kind || e.Name != o.Name || e.Binder != o.Binder || e.Level != o.Level {
		return false
	}
	return e.Fn.Equal(o.Fn) && e.Arg.Equal(o.Arg) && e.Dom.Equal(o.Dom) && e.Body.Equal(o.Body)
}

// Subst replaces every hole named in repl with its replacement term.
// Replacements are closed terms (solved obligation bodies or constant
// references), so no capture avoidance is needed.
func Subst(e *Expr, repl map[string]*Expr) *Expr {
	if e == nil {
		return nil
	}
	if e.Kind == KindHole {
		if r, ok := repl[e.Name]; ok {
			return r.Clone()
		}
		return e
	}
	c := *e
	c.Fn = Subst(e.Fn, repl)
	c.Arg = Subst(e.Arg, repl)
	c.Dom = Subst(e.Dom, repl)
	c.Body = Subst(e.Body, repl)
	return &c
}

// Holes returns hole names in first-occurrence (depth-first) order.
func Holes(e *Expr) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(*Expr)
	walk = func(x *Expr) {
		if x == nil {
			return
		}
		if x.Kind == KindHole && !seen[x.Name] {
			seen[x.Name] = true
			out = append(out, x.Name)
		}
		walk(x.Fn)
		walk(x.Arg)
		walk(x.Dom)
		walk(x.Body)
	}
	walk(e)
	return out
}

// IsGround reports whether e contains no holes.
func IsGround(e *Expr) bool { return len(Holes(e)) == 0 }

// FreeVars returns the names of variables not bound by any enclosing
// Lam/Pi, in first-occurrence order.
func FreeVars(e *Expr) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(x *Expr, bound map[string]bool)
	walk = func(x *Expr, bound map[string]bool) {
		if x == nil {
			return
		}
		switch x.Kind {
		case KindVar:
			if !bound[x.Name] && !seen[x.Name] {
				seen[x.Name] = true
				out = append(out, x.Name)
			}
		case KindLam, KindPi:
			walk(x.Dom, bound)
			inner := make(map[string]bool, len(bound)+1)
			for k := range bound {
				inner[k] = true
			}
			inner[x.Binder] = true
			walk(x.Body, inner)
		default:
			walk(x.Fn, bound)
			walk(x.Arg, bound)
			walk(x.Dom, bound)
			walk(x.Body, bound)
		}
	}
	walk(e, map[string]bool{})
	return out
}

// String renders a compact human-readable form for status output.
func (e *Expr) String() string {
	if e == nil {
		return "_"
	}
	switch e.Kind {
	case KindRef, KindVar:
		return e.Name
	case KindHole:
		return "?" + e.Name
	case KindSort:
		return "Sort(" + e.Level + ")"
	case KindApp:
		return fmt.Sprintf("(%s %s)", e.Fn, e.Arg)
	case KindLam:
		return fmt.Sprintf("(fun %s : %s => %s)", e.Binder, e.Dom, e.Body)
	case KindPi:
		return fmt.Sprintf("(forall %s : %s, %s)", e.Binder, e.Dom, e.Body)
	}
	return string(e.Kind)
}

// UnivVarsOf collects the sort levels mentioned by e.
func UnivVarsOf(e *Expr) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(*Expr)
	walk = func(x *Expr) {
		if x == nil {
			return
		}
		if x.Kind == KindSort && x.Level != "" && !strings.HasPrefix(x.Level, "0") && !seen[x.Level] {
			seen[x.Level] = true
			out = append(out, x.Level)
		}
		walk(x.Fn)
		walk(x.Arg)
		walk(x.Dom)
		walk(x.Body)
	}
	walk(e)
	return out
}
