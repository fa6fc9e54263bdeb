// Package adminweb is the shared tsweb debug-route wiring used by every
// subsystem that wants an operator-facing HTTP surface: a command console
// that submits lines to the command executor, and a live SSE tail of event
// bus traffic. Individual subsystems (opsdb) attach their own additional
// routes onto the same *http.ServeMux through Mux.Handle.
package adminweb

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"

	"tailscale.com/tsweb"

	"github.com/md2ctl/md2d/internal/eventbus"
)

var consoleTemplate = template.Must(template.New("console").Parse(`<!DOCTYPE html>
<html><head><title>md2d command console</title></head>
<body>
<h1>md2d command console</h1>
<form id="f"><input name="command" size="60" autofocus><button>Submit</button></form>
<pre id="out"></pre>
<script>
document.getElementById("f").addEventListener("submit", function(e) {
  e.preventDefault();
  var cmd = this.command.value;
  fetch("console-api", {method: "POST", body: new URLSearchParams({command: cmd})})
    .then(r => r.text()).then(t => { document.getElementById("out").textContent += t + "\n"; });
});
</script>
</body></html>`))

// Submitter is the narrow surface adminweb needs from the command executor —
// *md2cmds.Executor satisfies it directly.
type Submitter interface {
	Submit(line string) error
}

// Mux wraps an http.ServeMux, attaching debug routes through tsweb.Debugger
// on demand — subsystems that want to attach their own debug endpoints can
// call tsweb.Debugger(m.Raw) directly and register their own AttachAdminRoutes-style
// methods.
type Mux struct {
	Raw *http.ServeMux
}

// New wraps mux for debug-route registration.
func New(mux *http.ServeMux) *Mux {
	return &Mux{Raw: mux}
}

// Handle registers a named debug route with a one-line description.
func (m *Mux) Handle(name, desc string, h http.Handler) {
	tsweb.Debugger(m.Raw).Handle(name, desc, h)
}

// AttachCommandConsole wires a simple HTML form plus a POST API endpoint
// that submits command lines to exec.
func (m *Mux) AttachCommandConsole(exec Submitter) {
	debug := tsweb.Debugger(m.Raw)
	debug.HandleFunc("console", "submit a command to the command executor", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := consoleTemplate.Execute(buf, nil); err != nil {
			http.Error(w, "failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	debug.HandleSilentFunc("console-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		line := strings.TrimSpace(r.FormValue("command"))
		if line == "" {
			http.Error(w, "missing command", http.StatusBadRequest)
			return
		}
		if err := exec.Submit(line); err != nil {
			http.Error(w, fmt.Sprintf("command failed: %v", err), http.StatusOK)
			return
		}
		io.WriteString(w, fmt.Sprintf("dispatched %q", line))
	})
}

// AttachEventTail wires a Server-Sent-Events stream of every event bus
// publication, for live tailing from a browser.
func (m *Mux) AttachEventTail(bus *eventbus.Bus) {
	tsweb.Debugger(m.Raw).HandleSilentFunc("events", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		// eventbus.Bus has no listener-removal API, so this registers one
		// listener per open tail connection for the life of the process;
		// acceptable for an operator debug endpoint opened rarely and by
		// hand, unlike the per-move listeners orchestrate.MoveWaiter avoids.
		events := make(chan string, 256)
		if err := bus.AddListener(".*", func(name string) {
			select {
			case events <- name:
			default:
			}
		}); err != nil {
			http.Error(w, fmt.Sprintf("failed to attach listener: %v", err), http.StatusInternalServerError)
			return
		}

		w.Write([]byte(": connected\n\n"))
		flusher.Flush()

		for {
			select {
			case name := <-events:
				fmt.Fprintf(w, "data: %s\n\n", name)
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
