package startplan

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/rhuss/vibe/pkg/merge"
	"github.com/rhuss/vibe/pkg/project"
)

// Strategy names.
const (
	StrategyPackageJSON  = "package-json"
	StrategyReplit       = "replit"
	StrategyProcfile     = "procfile"
	StrategyServerScript = "server-script"
	StrategyStatic       = "static"
)

// declaredScripts are the package.json scripts that start a project, in
// order of preference.
var declaredScripts = []string{"start", "dev", "serve"}

// PackageJSON matches a root package.json declaring a start, dev or serve
// script.
func PackageJSON() Strategy {
	return Strategy{
		Name: StrategyPackageJSON,
		Match: func(files project.FileSet) (Plan, bool) {
			content, ok := files["package.json"]
			if !ok {
				return Plan{}, false
			}
			var manifest struct {
				Scripts map[string]string `json:"scripts"`
			}
			if err := json.Unmarshal([]byte(content), &manifest); err != nil {
				slog.Warn("ignoring unparsable package.json", "error", err)
				return Plan{}, false
			}
			for _, name := range declaredScripts {
				if script, ok := manifest.Scripts[name]; ok {
					return commandLine(KindDeclaredScript, StrategyPackageJSON, script)
				}
			}
			return Plan{}, false
		},
	}
}

// Replit matches a .replit manifest with a run command, given either as a
// command line or as an argv array.
func Replit() Strategy {
	return Strategy{
		Name: StrategyReplit,
		Match: func(files project.FileSet) (Plan, bool) {
			content, ok := files[".replit"]
			if !ok {
				return Plan{}, false
			}
			var manifest struct {
				Run any `toml:"run"`
			}
			if _, err := toml.Decode(content, &manifest); err != nil {
				slog.Warn("ignoring unparsable .replit", "error", err)
				return Plan{}, false
			}
			switch run := manifest.Run.(type) {
			case string:
				return commandLine(KindDeclaredScript, StrategyReplit, run)
			case []any:
				argv := make([]string, 0, len(run))
				for _, v := range run {
					s, ok := v.(string)
					if !ok {
						return Plan{}, false
					}
					argv = append(argv, s)
				}
				if len(argv) == 0 {
					return Plan{}, false
				}
				return Plan{
					Kind:     KindDeclaredScript,
					Strategy: StrategyReplit,
					Command:  argv[0],
					Args:     argv[1:],
					Script:   strings.Join(argv, " "),
				}, true
			}
			return Plan{}, false
		},
	}
}

// Procfile matches the web process type of a Procfile.
func Procfile() Strategy {
	return Strategy{
		Name: StrategyProcfile,
		Match: func(files project.FileSet) (Plan, bool) {
			content, ok := files["Procfile"]
			if !ok {
				return Plan{}, false
			}
			sc := bufio.NewScanner(strings.NewReader(content))
			for sc.Scan() {
				name, cmd, ok := strings.Cut(sc.Text(), ":")
				if ok && strings.TrimSpace(name) == "web" {
					return commandLine(KindDeclaredScript, StrategyProcfile, cmd)
				}
			}
			return Plan{}, false
		},
	}
}

// serverIndicators are substrings suggesting that a script starts a server
// or spawns processes, keyed by interpreter.
var serverIndicators = map[string][]string{
	"node": {
		"http.createServer", "https.createServer", "createServer(", ".listen(",
		"express()", "require('http')", `require("http")`, "from 'http'", `from "http"`,
		"from 'node:http'", `from "node:http"`, "require('express')", `require("express")`,
		"child_process", "spawn(", "fastify(", "new Koa", "Bun.serve", "Deno.serve",
	},
	"python3": {
		"http.server", "HTTPServer", "socketserver", "serve_forever", "Flask(",
		"app.run(", "uvicorn.run", "FastAPI(", "web.run_app", "subprocess", "socket.socket",
	},
}

// ServerScript matches a script whose content looks like it starts a
// server or spawns processes. Conventional entry names are checked first.
func ServerScript() Strategy {
	return Strategy{
		Name: StrategyServerScript,
		Match: func(files project.FileSet) (Plan, bool) {
			for _, name := range scriptCandidates(files) {
				interp := Interpreter(name)
				if !containsAny(files[name], serverIndicators[interp]) {
					continue
				}
				return Plan{
					Kind:      KindDirectInterpreter,
					Strategy:  StrategyServerScript,
					Command:   interp,
					Args:      []string{name},
					EntryFile: name,
				}, true
			}
			return Plan{}, false
		},
	}
}

// Static matches a file set with a markup entry.
func Static() Strategy {
	return Strategy{
		Name: StrategyStatic,
		Match: func(files project.FileSet) (Plan, bool) {
			entry, ok := merge.Entry(files)
			if !ok || entry.Kind != merge.EntryMarkup {
				return Plan{}, false
			}
			return Plan{Kind: KindStaticServer, Strategy: StrategyStatic, EntryFile: entry.Name}, true
		},
	}
}

// Interpreter returns the interpreter that runs the script name.
func Interpreter(name string) string {
	if strings.EqualFold(path.Ext(name), ".py") {
		return "python3"
	}
	return "node"
}

// scriptCandidates lists script files, conventional entry names first,
// then shallower paths, then lexical order.
func scriptCandidates(files project.FileSet) []string {
	var names []string
	for name := range files {
		if merge.IsScript(name) && !strings.Contains(name, "node_modules/") {
			names = append(names, name)
		}
	}
	rank := func(name string) int {
		if r := merge.ScriptEntryRank(name); r >= 0 {
			return r
		}
		return 1 << 16
	}
	slices.SortFunc(names, func(a, b string) int {
		if d := rank(a) - rank(b); d != 0 {
			return d
		}
		if d := strings.Count(a, "/") - strings.Count(b, "/"); d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
	return names
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
