package workflow

import (
	"fmt"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Validate checks a definition against the creation rules and returns
// every issue found. A nil return means the definition is usable.
func Validate(d *Definition) ValidationIssues {
	var issues ValidationIssues

	add := func(format string, args ...any) {
		issues = append(issues, fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...))
	}

	if len(d.Participants) == 0 {
		add("at least one participant is required")
	}

	seenEmails := make(map[string]string, len(d.Participants))
	seenIDs := make(map[string]bool, len(d.Participants))
	for _, p := range d.Participants {
		if p.ID == "" {
			add("participant %q has no id", p.Email)
			continue
		}
		if seenIDs[p.ID] {
			add("duplicate participant id %q", p.ID)
		}
		seenIDs[p.ID] = true

		email := strings.ToLower(strings.TrimSpace(p.Email))
		if err := validateEmail(email); err != nil {
			add("participant %s: %v", p.ID, err)
			continue
		}
		if prev, dup := seenEmails[email]; dup {
			add("duplicate email %q (participants %s and %s)", email, prev, p.ID)
		}
		seenEmails[email] = p.ID
	}

	switch d.Type {
	case Sequential, Parallel:
		if len(d.Stages) > 0 {
			add("%s definitions derive stages implicitly; none may be declared", d.Type)
		}
	case Custom:
		validateStageGraph(d, add)
	default:
		add("unknown definition type %q", d.Type)
	}

	if len(issues) == 0 {
		return nil
	}
	return issues
}

func validateStageGraph(d *Definition, add func(string, ...any)) {
	stages := d.Stages
	if len(stages) == 0 {
		add("custom definitions require at least one stage")
		return
	}

	byID := make(map[string]*StageDef, len(stages))
	autoStart := make([]string, 0, 1)
	for i := range stages {
		s := &stages[i]
		if s.ID == "" {
			add("stage %d has no id", i)
			continue
		}
		if _, dup := byID[s.ID]; dup {
			add("duplicate stage id %q", s.ID)
			continue
		}
		byID[s.ID] = s
		if s.AutoStart {
			autoStart = append(autoStart, s.ID)
		}
		if len(s.ParticipantIDs) == 0 {
			add("stage %s has no participants", s.ID)
		}
		for _, pid := range s.ParticipantIDs {
			if d.Participant(pid) == nil {
				add("stage %s references unknown participant %q", s.ID, pid)
			}
		}
		for _, dep := range s.DependsOn {
			if dep == s.ID {
				add("stage %s depends on itself", s.ID)
			}
		}
	}
	if len(autoStart) == 0 {
		add("at least one stage must auto-start")
	}

	// Unknown dependencies fail fast; the graph walks below assume a
	// closed id space.
	valid := true
	for _, s := range stages {
		for _, dep := range s.DependsOn {
			if _, ok := byID[dep]; !ok {
				add("stage %s depends on unknown stage %q", s.ID, dep)
				valid = false
			}
		}
	}
	if !valid || len(byID) != len(stages) {
		return
	}

	if cycle := findCycle(stages); cycle != nil {
		add("dependency cycle: %s", strings.Join(cycle, " -> "))
		return
	}

	for _, id := range unreachableStages(stages, autoStart) {
		add("stage %s is not reachable from any auto-start stage", id)
	}
}

// graph colors for the cycle walk.
const (
	white = iota // unvisited
	gray         // on the current path
	black        // fully explored
)

// findCycle runs a colored depth-first search over the dependency
// edges and returns one cycle if any exists.
func findCycle(stages []StageDef) []string {
	deps := make(map[string][]string, len(stages))
	for _, s := range stages {
		deps[s.ID] = s.DependsOn
	}
	color := make(map[string]int, len(stages))
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		path = append(path, id)
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				// Found the back edge; slice the cycle out of the path.
				for i, node := range path {
					if node == dep {
						cycle = append(append([]string{}, path[i:]...), dep)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return false
	}

	for _, s := range stages {
		if color[s.ID] == white && visit(s.ID) {
			return cycle
		}
	}
	return nil
}

// unreachableStages walks forward from the auto-start set and returns
// stage ids no breadth-first path reaches.
func unreachableStages(stages []StageDef, autoStart []string) []string {
	// Forward edges: dependency -> dependent.
	next := make(map[string][]string, len(stages))
	for _, s := range stages {
		for _, dep := range s.DependsOn {
			next[dep] = append(next[dep], s.ID)
		}
	}

	reached := make(map[string]bool, len(stages))
	queue := append([]string{}, autoStart...)
	for _, id := range queue {
		reached[id] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, succ := range next[id] {
			if !reached[succ] {
				reached[succ] = true
				queue = append(queue, succ)
			}
		}
	}

	var missing []string
	for _, s := range stages {
		if !reached[s.ID] {
			missing = append(missing, s.ID)
		}
	}
	return missing
}

// validateEmail checks basic shape and that the domain sits under a
// real public suffix (so "user@localhost" or bare hosts are rejected).
func validateEmail(email string) error {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return fmt.Errorf("invalid email %q", email)
	}
	domain := email[at+1:]
	if strings.Contains(domain, "..") || !strings.Contains(domain, ".") {
		return fmt.Errorf("invalid email domain %q", domain)
	}
	suffix, icann := publicsuffix.PublicSuffix(domain)
	if !icann {
		return fmt.Errorf("email domain %q is not under a public suffix", domain)
	}
	if suffix == domain {
		return fmt.Errorf("email domain %q is a bare public suffix", domain)
	}
	return nil
}
