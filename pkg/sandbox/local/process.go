package local

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// portPattern matches the address line most dev servers print once they
// listen, for example "Server listening on http://localhost:3000" or
// "Serving HTTP on 0.0.0.0 port 8000".
var portPattern = regexp.MustCompile(`(?i)(?:listening|running|started|serving|server|ready|available)\b.*?(?:(?:localhost|127\.0\.0\.1|0\.0\.0\.0|\[::\]|::):|port\s+)(\d{2,5})\b`)

// outputPort returns the port announced on line, if any.
func outputPort(line string) (int, bool) {
	m := portPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	port, err := strconv.Atoi(m[1])
	if err != nil || port <= 0 || port > 65535 {
		return 0, false
	}
	return port, true
}

// process is a host process. Its combined output is forwarded to Output
// after port detection, so readers must drain it.
type process struct {
	cmd  *exec.Cmd
	out  *io.PipeReader
	done chan struct{}
	once sync.Once
}

func startProcess(cmd *exec.Cmd, onPort func(int)) (*process, error) {
	raw, w := io.Pipe()
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Start(); err != nil {
		w.Close()
		return nil, err
	}

	out, fwd := io.Pipe()
	p := &process{cmd: cmd, out: out, done: make(chan struct{})}

	go func() {
		sc := bufio.NewScanner(raw)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := sc.Text()
			if port, ok := outputPort(line); ok {
				onPort(port)
			}
			// Writes fail once Kill closes the reader; keep draining so
			// the child never blocks on a full pipe.
			io.WriteString(fwd, line+"\n")
		}
		io.Copy(io.Discard, raw)
		fwd.Close()
	}()

	go func() {
		cmd.Wait()
		w.Close()
		close(p.done)
	}()
	return p, nil
}

func (p *process) Output() io.Reader { return p.out }

// Kill terminates the process and any children it started.
func (p *process) Kill() error {
	var err error
	p.once.Do(func() {
		err = killProcessGroup(p.cmd)
		p.out.Close()
	})
	return err
}

func (p *process) Done() <-chan struct{} { return p.done }

// staticProcess is the in-process file server used for static plans.
type staticProcess struct {
	srv  *http.Server
	url  string
	done chan struct{}
	once sync.Once
}

func newStaticProcess(srv *http.Server, url string) *staticProcess {
	return &staticProcess{srv: srv, url: url, done: make(chan struct{})}
}

func (p *staticProcess) Output() io.Reader {
	return strings.NewReader("serving static files on " + p.url + "\n")
}

func (p *staticProcess) Kill() error {
	var err error
	p.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err = p.srv.Shutdown(ctx)
	})
	return err
}

func (p *staticProcess) Done() <-chan struct{} { return p.done }
