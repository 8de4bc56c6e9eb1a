package startplan

import (
	"slices"
	"testing"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/project"
)

func TestResolveStaticForMarkupOnly(t *testing.T) {
	plan, err := Resolve(project.FileSet{"index.html": "<h1>Hello</h1>"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if plan.Kind != KindStaticServer {
		t.Errorf("Kind = %q, want %q", plan.Kind, KindStaticServer)
	}
	if plan.EntryFile != "index.html" {
		t.Errorf("EntryFile = %q, want index.html", plan.EntryFile)
	}
	if plan.Command != "" {
		t.Errorf("Command = %q, want none for a static plan", plan.Command)
	}
}

func TestResolvePriority(t *testing.T) {
	tests := []struct {
		name         string
		files        project.FileSet
		wantKind     Kind
		wantStrategy string
		wantArgv     []string
	}{
		{
			name: "declared start script beats server script",
			files: project.FileSet{
				"package.json": `{"scripts":{"start":"node server.js","test":"jest"}}`,
				"index.js":     "require('http').createServer().listen(3000)",
			},
			wantKind:     KindDeclaredScript,
			wantStrategy: StrategyPackageJSON,
			wantArgv:     []string{"node", "server.js"},
		},
		{
			name:         "dev script when no start",
			files:        project.FileSet{"package.json": `{"scripts":{"dev":"vite --host"}}`},
			wantKind:     KindDeclaredScript,
			wantStrategy: StrategyPackageJSON,
			wantArgv:     []string{"vite", "--host"},
		},
		{
			name: "package.json without scripts falls through",
			files: project.FileSet{
				"package.json": `{"name":"x"}`,
				"server.js":    "const app = express();\napp.listen(3000)",
			},
			wantKind:     KindDirectInterpreter,
			wantStrategy: StrategyServerScript,
			wantArgv:     []string{"node", "server.js"},
		},
		{
			name: "broken package.json falls through",
			files: project.FileSet{
				"package.json": `{"scripts":`,
				"index.html":   "<p>x</p>",
			},
			wantKind:     KindStaticServer,
			wantStrategy: StrategyStatic,
		},
		{
			name: "replit run string",
			files: project.FileSet{
				".replit": "run = \"python3 main.py --port 8080\"\nlanguage = \"python3\"\n",
				"main.py": "print('hi')",
			},
			wantKind:     KindDeclaredScript,
			wantStrategy: StrategyReplit,
			wantArgv:     []string{"python3", "main.py", "--port", "8080"},
		},
		{
			name:         "replit run array",
			files:        project.FileSet{".replit": `run = ["node", "index.js"]`},
			wantKind:     KindDeclaredScript,
			wantStrategy: StrategyReplit,
			wantArgv:     []string{"node", "index.js"},
		},
		{
			name:         "procfile web",
			files:        project.FileSet{"Procfile": "worker: python3 jobs.py\nweb: python3 app.py\n"},
			wantKind:     KindDeclaredScript,
			wantStrategy: StrategyProcfile,
			wantArgv:     []string{"python3", "app.py"},
		},
		{
			name: "python server script",
			files: project.FileSet{
				"util.py": "def add(a, b): return a + b",
				"app.py":  "from flask import Flask\napp = Flask(__name__)\napp.run(port=5000)",
			},
			wantKind:     KindDirectInterpreter,
			wantStrategy: StrategyServerScript,
			wantArgv:     []string{"python3", "app.py"},
		},
		{
			name: "conventional name beats lexical order",
			files: project.FileSet{
				"a_server.js": "http.createServer()",
				"index.js":    "require('http').createServer().listen(1)",
			},
			wantKind:     KindDirectInterpreter,
			wantStrategy: StrategyServerScript,
			wantArgv:     []string{"node", "index.js"},
		},
		{
			name: "plain script with markup is static",
			files: project.FileSet{
				"index.html": "<script src=script.js></script>",
				"script.js":  "document.body.append('hi')",
			},
			wantKind:     KindStaticServer,
			wantStrategy: StrategyStatic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Resolve(tt.files)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if plan.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", plan.Kind, tt.wantKind)
			}
			if plan.Strategy != tt.wantStrategy {
				t.Errorf("Strategy = %q, want %q", plan.Strategy, tt.wantStrategy)
			}
			if tt.wantArgv != nil && !slices.Equal(plan.Argv(), tt.wantArgv) {
				t.Errorf("Argv() = %q, want %q", plan.Argv(), tt.wantArgv)
			}
		})
	}
}

func TestResolveNoStartableTarget(t *testing.T) {
	tests := []struct {
		name  string
		files project.FileSet
	}{
		{"empty", project.FileSet{}},
		{"plain python", project.FileSet{"main.py": "print('Hello, World!')"}},
		{"data only", project.FileSet{"notes.md": "# notes", "data.csv": "a,b"}},
		{"package.json without scripts", project.FileSet{"package.json": `{"name":"x"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.files)
			if !api.IsType(err, api.ErrorTypeNoStartableTarget) {
				t.Errorf("Resolve() error = %v, want no_startable_target", err)
			}
		})
	}
}

func TestNewResolverCustomOrder(t *testing.T) {
	files := project.FileSet{
		"package.json": `{"scripts":{"start":"node index.js"}}`,
		"index.html":   "<p>x</p>",
	}
	r := NewResolver(Static(), PackageJSON())

	plan, err := r.Resolve(files)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if plan.Strategy != StrategyStatic {
		t.Errorf("Strategy = %q, want %q", plan.Strategy, StrategyStatic)
	}
	if got := r.Strategies(); !slices.Equal(got, []string{StrategyStatic, StrategyPackageJSON}) {
		t.Errorf("Strategies() = %v", got)
	}
}

func TestCommandLine(t *testing.T) {
	tests := []struct {
		name     string
		script   string
		wantArgv []string
		wantEnv  map[string]string
		wantOK   bool
	}{
		{"simple", "node index.js", []string{"node", "index.js"}, nil, true},
		{"quoted", `python3 -c "print('a b')"`, []string{"python3", "-c", "print('a b')"}, nil, true},
		{"env prefix", "PORT=8080 NODE_ENV=dev node app.js", []string{"node", "app.js"}, map[string]string{"PORT": "8080", "NODE_ENV": "dev"}, true},
		{"shell operators", "npm install && node app.js", []string{"sh", "-c", "npm install && node app.js"}, nil, true},
		{"unterminated quote", `node "app.js`, []string{"sh", "-c", `node "app.js`}, nil, true},
		{"blank", "   ", nil, nil, false},
		{"env only", "PORT=1", nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, ok := commandLine(KindDeclaredScript, "test", tt.script)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if !slices.Equal(plan.Argv(), tt.wantArgv) {
				t.Errorf("Argv() = %q, want %q", plan.Argv(), tt.wantArgv)
			}
			if len(plan.Env) != len(tt.wantEnv) {
				t.Fatalf("Env = %v, want %v", plan.Env, tt.wantEnv)
			}
			for k, v := range tt.wantEnv {
				if plan.Env[k] != v {
					t.Errorf("Env[%q] = %q, want %q", k, plan.Env[k], v)
				}
			}
		})
	}
}

func TestPlanString(t *testing.T) {
	p := Plan{Kind: KindDirectInterpreter, Command: "node", Args: []string{"my app.js"}}
	if got := p.String(); got != `node 'my app.js'` {
		t.Errorf("String() = %q", got)
	}
	s := Plan{Kind: KindStaticServer, EntryFile: "index.html"}
	if got := s.String(); got != "static index.html" {
		t.Errorf("String() = %q", got)
	}
}

func TestEachStrategyIndependently(t *testing.T) {
	files := project.FileSet{"index.html": "<p>x</p>"}
	for _, s := range DefaultStrategies() {
		_, ok := s.Match(files)
		if want := s.Name == StrategyStatic; ok != want {
			t.Errorf("strategy %s Match() = %v, want %v", s.Name, ok, want)
		}
	}
}

func TestBrowsePath(t *testing.T) {
	tests := []struct {
		plan Plan
		want string
	}{
		{Plan{Kind: KindStaticServer, EntryFile: "index.html"}, ""},
		{Plan{Kind: KindStaticServer, EntryFile: "index.htm"}, ""},
		{Plan{Kind: KindStaticServer, EntryFile: "page.html"}, "page.html"},
		{Plan{Kind: KindStaticServer, EntryFile: "docs/guide.html"}, "docs/guide.html"},
		{Plan{Kind: KindDirectInterpreter, Command: "node", EntryFile: "server.js"}, ""},
	}
	for _, tt := range tests {
		if got := tt.plan.BrowsePath(); got != tt.want {
			t.Errorf("%+v.BrowsePath() = %q, want %q", tt.plan, got, tt.want)
		}
	}
}
