// Package hierarchy models which role may forward a case to which other role.
package hierarchy

import (
	"errors"
	"fmt"
	"sort"

	"github.com/armslicense/armslicense/internal/catalog"
)

var (
	// ErrSelfLoop indicates an edge whose endpoints are the same role.
	ErrSelfLoop = errors.New("hierarchy: self-loop edge")
	// ErrUnknownRole indicates an edge referencing a role missing from the catalog.
	ErrUnknownRole = errors.New("hierarchy: edge references unknown role")
)

// Edge is a directed "may forward to" relation.
type Edge struct {
	From string
	To   string
}

// Graph is an immutable adjacency structure over role codes. Cycles are
// allowed; the graph is never assumed to be a tree.
type Graph struct {
	adjacency map[string]map[string]struct{}
	roles     map[string]catalog.Role
	admin     string
}

// Build validates edges against the known roles and returns a Graph. The
// admin role, when non-empty, may forward to every other role regardless of
// which of its edges were materialised.
func Build(roles []catalog.Role, edges []Edge, admin string) (*Graph, error) {
	g := &Graph{
		adjacency: make(map[string]map[string]struct{}),
		roles:     make(map[string]catalog.Role, len(roles)),
		admin:     catalog.NormalizeCode(admin),
	}
	for _, r := range roles {
		g.roles[catalog.NormalizeCode(r.Code)] = r
	}
	for _, e := range edges {
		from := catalog.NormalizeCode(e.From)
		to := catalog.NormalizeCode(e.To)
		if from == to {
			return nil, fmt.Errorf("%w: %s", ErrSelfLoop, from)
		}
		if _, ok := g.roles[from]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRole, from)
		}
		if _, ok := g.roles[to]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRole, to)
		}
		targets, ok := g.adjacency[from]
		if !ok {
			targets = make(map[string]struct{})
			g.adjacency[from] = targets
		}
		targets[to] = struct{}{}
	}
	return g, nil
}

// IsAdmin reports whether role is the super-forwarder.
func (g *Graph) IsAdmin(role string) bool {
	return g != nil && g.admin != "" && catalog.NormalizeCode(role) == g.admin
}

// CanForward reports whether from may hand a case to to.
func (g *Graph) CanForward(from, to string) bool {
	if g == nil {
		return false
	}
	from = catalog.NormalizeCode(from)
	to = catalog.NormalizeCode(to)
	if from == to {
		return false
	}
	if _, ok := g.roles[to]; !ok {
		return false
	}
	if g.IsAdmin(from) {
		return true
	}
	_, ok := g.adjacency[from][to]
	return ok
}

// AllowedTargets returns the roles from may forward to, most senior first.
func (g *Graph) AllowedTargets(from string) []catalog.Role {
	if g == nil {
		return nil
	}
	from = catalog.NormalizeCode(from)
	var targets []catalog.Role
	if g.IsAdmin(from) {
		for code, r := range g.roles {
			if code != from {
				targets = append(targets, r)
			}
		}
	} else {
		for code := range g.adjacency[from] {
			targets = append(targets, g.roles[code])
		}
	}
	sortRoles(targets)
	return targets
}

// Reachable reports whether to can be reached from from through one or more
// forwards. Admin shortcuts apply only when from itself is the admin.
func (g *Graph) Reachable(from, to string) bool {
	if g == nil {
		return false
	}
	from = catalog.NormalizeCode(from)
	to = catalog.NormalizeCode(to)
	if g.CanForward(from, to) {
		return true
	}
	seen := map[string]struct{}{from: {}}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range g.adjacency[cur] {
			if next == to {
				return true
			}
			if _, ok := seen[next]; ok {
				continue
			}
			seen[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	return false
}

// Edges returns the materialised edges sorted by endpoints.
func (g *Graph) Edges() []Edge {
	if g == nil {
		return nil
	}
	var out []Edge
	for from, targets := range g.adjacency {
		for to := range targets {
			out = append(out, Edge{From: from, To: to})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

func sortRoles(roles []catalog.Role) {
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Precedence != roles[j].Precedence {
			return roles[i].Precedence < roles[j].Precedence
		}
		return roles[i].Code < roles[j].Code
	})
}
