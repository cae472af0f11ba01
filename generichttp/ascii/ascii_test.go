package ascii_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nasa-jpl/gopulser/generichttp"
	"github.com/nasa-jpl/gopulser/generichttp/ascii"
)

type echoComm struct {
	last string
}

func (e *echoComm) Raw(s string) (string, error) {
	e.last = s
	if strings.HasSuffix(s, "?") {
		return "KEYSIGHT", nil
	}
	return "", nil
}

func TestInjectRawCommAddsRoute(t *testing.T) {
	rt := generichttp.RouteTable{}
	ascii.InjectRawComm(rt, &echoComm{})
	mp := generichttp.MethodPath{Method: http.MethodPost, Path: "/raw"}
	if _, ok := rt[mp]; !ok {
		t.Errorf("expected POST /raw in route table, eps were %v", rt.Endpoints())
	}
}

func TestHTTPRawForwardsQueries(t *testing.T) {
	comm := &echoComm{}
	wrap := ascii.RawWrapper{Comm: comm}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/raw", strings.NewReader(`{"str": "*IDN?"}`))
	wrap.HTTPRaw(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", w.Code)
	}
	if comm.last != "*IDN?" {
		t.Errorf("expected *IDN? got %s", comm.last)
	}
	body := strings.TrimSpace(w.Body.String())
	if body != `{"str":"KEYSIGHT"}` {
		t.Errorf("expected {\"str\":\"KEYSIGHT\"} got %s", body)
	}
}

func TestHTTPRawBadJSONIs400(t *testing.T) {
	wrap := ascii.RawWrapper{Comm: &echoComm{}}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/raw", strings.NewReader(`{"str": 5}`))
	wrap.HTTPRaw(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 got %d", w.Code)
	}
}
