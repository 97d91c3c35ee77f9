package pjl

import (
	"strconv"
	"strings"
)

// Job language markers. A statement is only considered when its first
// whitespace-separated token is exactly one of these.
const (
	MarkerPJL = "@PJL"
	MarkerEJL = "@EJL"
)

// Vars maps an upper-cased variable name to every value assigned to it,
// in statement order.
type Vars map[string][]string

// Get returns the last value assigned to name.
func (v Vars) Get(name string) (string, bool) {
	values := v[name]
	if len(values) == 0 {
		return "", false
	}
	return values[len(values)-1], true
}

// Int returns the last value assigned to name as an integer. Values that
// do not parse are reported as unset.
func (v Vars) Int(name string) (int, bool) {
	s, ok := v.Get(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Job holds the variables set by a block of job language statements.
type Job struct {
	Default     Vars // @PJL DEFAULT var=value
	Environment Vars // @PJL SET var=value (and @EJL JI for EJL)
}

// Parse extracts the DEFAULT and SET assignments of a PJL block.
func Parse(text string) *Job {
	return parse(text, MarkerPJL)
}

// ParseEJL extracts the DEFAULT, SET and JI assignments of an EJL block.
func ParseEJL(text string) *Job {
	return parse(text, MarkerEJL)
}

func parse(text, marker string) *Job {
	job := &Job{Default: Vars{}, Environment: Vars{}}
	for _, statement := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if !strings.HasPrefix(statement, marker) {
			continue
		}
		parts := strings.Fields(statement)
		if len(parts) < 3 || parts[0] != marker {
			continue
		}
		verb := strings.ToUpper(parts[1])
		if verb != "SET" && verb != "DEFAULT" && !(marker == MarkerEJL && verb == "JI") {
			continue
		}
		// Only the first assignment of a statement is kept.
		name, value, ok := strings.Cut(strings.Join(parts[2:], ""), "=")
		if !ok {
			continue
		}
		vars := job.Environment
		if verb == "DEFAULT" {
			vars = job.Default
		}
		name = strings.ToUpper(name)
		vars[name] = append(vars[name], value)
	}
	return job
}
