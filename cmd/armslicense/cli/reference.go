package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/armslicense/armslicense/internal/catalog"
	"github.com/armslicense/armslicense/internal/reference"
	"github.com/armslicense/armslicense/internal/seed"
)

// ExitWarnings is returned when the reference data compiles but has gaps.
const ExitWarnings = 10

// ReferenceValidateOptions defines the flags of the reference validate command.
type ReferenceValidateOptions struct {
	File       string
	AdminRole  string
	IntakeRole string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReferenceSummary is the JSON report of reference validate.
type ReferenceSummary struct {
	OK          bool             `json:"ok"`
	Roles       int              `json:"roles"`
	Permissions int              `json:"permissions"`
	Edges       int              `json:"edges"`
	Unreachable []string         `json:"unreachable"`
	DeadGrants  []ReferenceGrant `json:"dead_grants"`
	Unwired     []ReferenceGrant `json:"unwired_edges"`
}

// ReferenceGrant names a role and a forward target.
type ReferenceGrant struct {
	Role   string `json:"role"`
	Target string `json:"target"`
}

// ValidateReferenceCommand compiles a seed file and reports structural gaps:
// officers the intake role can never reach, forward grants with no edge
// behind them and edges no grant unlocks.
func ValidateReferenceCommand(opts ReferenceValidateOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.AdminRole == "" {
		opts.AdminRole = catalog.RoleAdmin
	}
	if opts.IntakeRole == "" {
		opts.IntakeRole = catalog.RoleZS
	}
	f, err := seed.LoadOrDefault(opts.File)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reference validate: %v\n", err)
		return 1
	}
	data := f.Data()
	snap, err := reference.Compile(data, opts.AdminRole)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reference validate: %v\n", err)
		return 1
	}
	summary := Summarize(snap, opts.AdminRole, opts.IntakeRole)

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "reference validate: encode json: %v\n", err)
			return 1
		}
	} else {
		renderSummaryHuman(opts.Stdout, summary, opts.IntakeRole)
	}
	if !summary.OK {
		return ExitWarnings
	}
	return 0
}

// Summarize inspects a compiled snapshot.
func Summarize(snap *reference.Snapshot, admin, intake string) ReferenceSummary {
	admin = catalog.NormalizeCode(admin)
	intake = catalog.NormalizeCode(intake)
	roles := snap.Catalog.Roles()
	summary := ReferenceSummary{
		Roles:       len(roles),
		Permissions: len(snap.Catalog.Permissions()),
		Unreachable: []string{},
		DeadGrants:  []ReferenceGrant{},
		Unwired:     []ReferenceGrant{},
	}
	edges := snap.Graph.Edges()
	summary.Edges = len(edges)

	for _, role := range roles {
		if role.Code == admin || role.Code == intake {
			continue
		}
		if snap.Catalog.HasPermission(role.Code, catalog.PermSubmitApplication) {
			continue
		}
		if len(snap.Graph.AllowedTargets(role.Code)) > 0 && !snap.Graph.Reachable(intake, role.Code) {
			summary.Unreachable = append(summary.Unreachable, role.Code)
		}
		for _, perm := range snap.Catalog.PermissionsOf(role.Code) {
			target, ok := strings.CutPrefix(perm, catalog.ForwardPrefix)
			if !ok {
				continue
			}
			if !snap.Graph.CanForward(role.Code, target) {
				summary.DeadGrants = append(summary.DeadGrants, ReferenceGrant{Role: role.Code, Target: target})
			}
		}
	}
	for _, e := range edges {
		if e.From == admin {
			continue
		}
		if !snap.Catalog.HasPermission(e.From, catalog.ForwardPermission(e.To)) {
			summary.Unwired = append(summary.Unwired, ReferenceGrant{Role: e.From, Target: e.To})
		}
	}
	sort.Strings(summary.Unreachable)
	sort.Slice(summary.DeadGrants, func(i, j int) bool {
		if summary.DeadGrants[i].Role == summary.DeadGrants[j].Role {
			return summary.DeadGrants[i].Target < summary.DeadGrants[j].Target
		}
		return summary.DeadGrants[i].Role < summary.DeadGrants[j].Role
	})
	summary.OK = len(summary.Unreachable) == 0 && len(summary.DeadGrants) == 0 && len(summary.Unwired) == 0
	return summary
}

func renderSummaryHuman(out io.Writer, s ReferenceSummary, intake string) {
	_, _ = fmt.Fprintf(out, "%d roles, %d permissions, %d forward edges\n", s.Roles, s.Permissions, s.Edges)
	if s.OK {
		_, _ = fmt.Fprintln(out, "Reference data is consistent.")
		return
	}
	for _, role := range s.Unreachable {
		_, _ = fmt.Fprintf(out, " - %s cannot be reached from %s\n", role, intake)
	}
	for _, g := range s.DeadGrants {
		_, _ = fmt.Fprintf(out, " - %s holds %s%s but has no edge to %s\n", g.Role, catalog.ForwardPrefix, g.Target, g.Target)
	}
	for _, g := range s.Unwired {
		_, _ = fmt.Fprintf(out, " - edge %s -> %s is not unlocked by any grant\n", g.Role, g.Target)
	}
}

// TargetsCommand prints the roles a role may forward to.
func TargetsCommand(file, admin, role string, out, errOut io.Writer) int {
	f, err := seed.LoadOrDefault(file)
	if err != nil {
		_, _ = fmt.Fprintf(errOut, "reference targets: %v\n", err)
		return 1
	}
	snap, err := reference.Compile(f.Data(), admin)
	if err != nil {
		_, _ = fmt.Fprintf(errOut, "reference targets: %v\n", err)
		return 1
	}
	code := catalog.NormalizeCode(role)
	if _, ok := snap.Catalog.Role(code); !ok {
		_, _ = fmt.Fprintf(errOut, "reference targets: %v: %s\n", catalog.ErrUnknownRole, code)
		return 1
	}
	for _, target := range snap.Graph.AllowedTargets(code) {
		_, _ = fmt.Fprintf(out, "%s\t%s\n", target.Code, target.Name)
	}
	return 0
}
