package keysight

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseCatalog(t *testing.T) {
	cases := []struct {
		resp string
		want []int
	}{
		{"", nil},
		{"0,0", nil},
		{"1,2400", []int{1}},
		{"1,2400,2,480", []int{1, 2}},
	}
	for _, tc := range cases {
		got, err := parseCatalog(tc.resp)
		if err != nil {
			t.Fatalf("%q: expected nil error, got %v", tc.resp, err)
		}
		if len(got) != len(tc.want) {
			t.Errorf("%q: expected %v, got %v", tc.resp, tc.want, got)
			continue
		}
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Errorf("%q: expected %v, got %v", tc.resp, tc.want, got)
			}
		}
	}
}

func TestParseCatalogRejectsGarbage(t *testing.T) {
	if _, err := parseCatalog("1,2400,7"); err == nil {
		t.Error("expected error for an odd piece count, got nil")
	}
	if _, err := parseCatalog("one,2400"); err == nil {
		t.Error("expected error for a non-numeric id, got nil")
	}
}

func TestParseFileCatalog(t *testing.T) {
	resp := "519168,8031404032,\"rabi_ch1.bin8,BIN,2560\",\"rabi_ch2.bin8,BIN,2560\""
	names := parseFileCatalog(resp)
	if len(names) != 2 || names[0] != "rabi_ch1.bin8" || names[1] != "rabi_ch2.bin8" {
		t.Errorf("expected both file names, got %v", names)
	}
	if got := parseFileCatalog("0,8031404032"); len(got) != 0 {
		t.Errorf("expected no names for an empty directory, got %v", got)
	}
}

func TestUnquote(t *testing.T) {
	cases := map[string]string{
		"\"rabi_ch1\"":  "rabi_ch1",
		"'echo'":        "echo",
		" \"padded\" \n": "padded",
		"bare":          "bare",
	}
	for in, want := range cases {
		if got := unquote(in); got != want {
			t.Errorf("unquote(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestHWSuffix(t *testing.T) {
	if got := hw("a_ch2"); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
	if got := hw("d_ch3"); got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
}

func TestWaitForTimesOut(t *testing.T) {
	err := waitFor("the impossible", 0, func() (bool, error) { return false, nil })
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
	if !strings.Contains(err.Error(), "waiting for the impossible") {
		t.Errorf("error does not name what it waited for: %v", err)
	}
}

func TestWaitForPropagatesPredicateError(t *testing.T) {
	sentinel := errors.New("link down")
	err := waitFor("anything", time.Second, func() (bool, error) { return false, sentinel })
	if !errors.Is(err, sentinel) {
		t.Errorf("expected the predicate error, got %v", err)
	}
}

func TestWaitForStopsOnSuccess(t *testing.T) {
	calls := 0
	err := waitFor("one shot", time.Second, func() (bool, error) {
		calls++
		return true, nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single predicate call, got %d", calls)
	}
}

func TestMakerForAcceptsBothSchemes(t *testing.T) {
	for _, addr := range []string{"192.168.100.23:5025", "usb:0957:1b8d", "USB:0957:1B8D"} {
		maker, err := makerFor(addr)
		if err != nil {
			t.Fatalf("%q: expected nil error, got %v", addr, err)
		}
		if maker == nil {
			t.Errorf("%q: expected a connection maker, got nil", addr)
		}
	}
}

func TestMakerForRejectsMalformedUSB(t *testing.T) {
	for _, addr := range []string{"usb:0957", "usb:catfe:1b8d", "usb:0957:99999"} {
		if _, err := makerFor(addr); err == nil {
			t.Errorf("%q: expected an error, got nil", addr)
		}
	}
}

func TestConstructorsRejectBadUSBAddresses(t *testing.T) {
	if _, err := NewM8190A("usb:nope", 14); err == nil {
		t.Error("expected NewM8190A to reject a malformed usb address, got nil")
	}
	if _, err := NewM8195A("usb:nope", "SING", 1); err == nil {
		t.Error("expected NewM8195A to reject a malformed usb address, got nil")
	}
}
