package adminweb

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/md2ctl/md2d/internal/eventbus"
)

type fakeSubmitter struct {
	lastLine string
	err      error
}

func (f *fakeSubmitter) Submit(line string) error {
	f.lastLine = line
	return f.err
}

func TestAttachCommandConsoleRendersForm(t *testing.T) {
	mux := http.NewServeMux()
	m := New(mux)
	m.AttachCommandConsole(&fakeSubmitter{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/console", nil)
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "command console")
}

func TestAttachCommandConsoleDispatchesCommand(t *testing.T) {
	mux := http.NewServeMux()
	m := New(mux)
	sub := &fakeSubmitter{}
	m.AttachCommandConsole(sub)

	form := url.Values{"command": {"moveAbs omega 10"}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/debug/console-api", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "moveAbs omega 10", sub.lastLine)
	require.Contains(t, rec.Body.String(), "dispatched")
}

func TestAttachCommandConsoleRejectsEmptyCommand(t *testing.T) {
	mux := http.NewServeMux()
	m := New(mux)
	m.AttachCommandConsole(&fakeSubmitter{})

	form := url.Values{"command": {"  "}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/debug/console-api", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAttachEventTailStreamsEvents(t *testing.T) {
	mux := http.NewServeMux()
	m := New(mux)
	bus := eventbus.New(16)
	defer bus.Close()
	m.AttachEventTail(bus)

	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := http.Get(server.URL + "/debug/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	bus.Send("omega.homed")

	buf := make([]byte, 4096)
	deadline := time.Now().Add(2 * time.Second)
	var collected string
	for time.Now().Before(deadline) && !strings.Contains(collected, "omega.homed") {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			collected += string(buf[:n])
		}
		if err != nil {
			break
		}
	}
	require.Contains(t, collected, "data: omega.homed")
}
