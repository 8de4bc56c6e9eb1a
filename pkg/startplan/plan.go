// Package startplan decides how to launch a project's files in the sandbox.
//
// Resolution is a heuristic. A [Resolver] walks a prioritized list of named
// [Strategy] values and the first one that matches produces the [Plan]:
//
//  1. package-json: a declared start, dev or serve script
//  2. replit: the run command of a .replit manifest
//  3. procfile: the web process of a Procfile
//  4. server-script: a script whose content constructs a server or spawns processes
//  5. static: a markup entry served as static files
//
// When nothing matches, Resolve fails with no_startable_target and the
// caller falls back to the static preview. Each strategy is exported so it
// can be tested or reordered without touching the sandbox coordinator.
package startplan

import (
	"strings"

	"github.com/kballard/go-shellquote"
)

// Kind is the launch mechanism of a Plan.
type Kind string

const (
	KindDeclaredScript    Kind = "declared_script"
	KindDirectInterpreter Kind = "direct_interpreter"
	KindStaticServer      Kind = "static_server"
)

// Plan describes how to launch a project. Command and Args are empty for
// KindStaticServer; the runtime serves the files itself.
type Plan struct {
	Kind     Kind              `json:"kind"`
	Strategy string            `json:"strategy"`
	Command  string            `json:"command,omitempty"`
	Args     []string          `json:"args,omitempty"`
	Env      map[string]string `json:"env,omitempty"`

	// EntryFile is the script run by a direct interpreter plan or the
	// markup entry of a static plan.
	EntryFile string `json:"entry_file,omitempty"`

	// Script is the declared command line as written in the manifest.
	Script string `json:"script,omitempty"`
}

// Argv returns the command followed by its arguments.
func (p Plan) Argv() []string {
	if p.Command == "" {
		return nil
	}
	return append([]string{p.Command}, p.Args...)
}

// BrowsePath is the path, relative to the served address, a browser should
// open. It is empty when the server root already shows the entry.
func (p Plan) BrowsePath() string {
	if p.Kind != KindStaticServer {
		return ""
	}
	switch p.EntryFile {
	case "", "index.html", "index.htm":
		return ""
	}
	return p.EntryFile
}

// String renders the plan as a shell command line.
func (p Plan) String() string {
	switch p.Kind {
	case KindStaticServer:
		return "static " + p.EntryFile
	default:
		return shellquote.Join(p.Argv()...)
	}
}

// shellMeta marks command lines that need a shell to run.
var shellMeta = []string{"&&", "||", "|", ";", ">", "<", "$(", "`", "*"}

// commandLine turns a declared command line into a Plan. Leading NAME=value
// words become environment variables. Command lines using shell operators
// run under sh -c.
func commandLine(kind Kind, strategy, script string) (Plan, bool) {
	script = strings.TrimSpace(script)
	if script == "" {
		return Plan{}, false
	}
	plan := Plan{Kind: kind, Strategy: strategy, Script: script}

	for _, meta := range shellMeta {
		if strings.Contains(script, meta) {
			plan.Command = "sh"
			plan.Args = []string{"-c", script}
			return plan, true
		}
	}

	words, err := shellquote.Split(script)
	if err != nil || len(words) == 0 {
		plan.Command = "sh"
		plan.Args = []string{"-c", script}
		return plan, true
	}

	for len(words) > 0 && isAssignment(words[0]) {
		if plan.Env == nil {
			plan.Env = make(map[string]string)
		}
		k, v, _ := strings.Cut(words[0], "=")
		plan.Env[k] = v
		words = words[1:]
	}
	if len(words) == 0 {
		return Plan{}, false
	}
	plan.Command = words[0]
	plan.Args = words[1:]
	return plan, true
}

func isAssignment(word string) bool {
	k, _, ok := strings.Cut(word, "=")
	if !ok || k == "" {
		return false
	}
	for i, c := range k {
		switch {
		case c == '_', c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
