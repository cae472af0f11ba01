package scpi_test

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/nasa-jpl/gopulser/comm"
	"github.com/nasa-jpl/gopulser/scpi"
)

// scriptConn plays back one queued response per read, the way a device
// answers one query at a time
type scriptConn struct {
	queue  [][]byte
	tx     bytes.Buffer
	closed bool
}

func (s *scriptConn) Read(p []byte) (int, error) {
	if len(s.queue) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.queue[0])
	if n < len(s.queue[0]) {
		s.queue[0] = s.queue[0][n:]
	} else {
		s.queue = s.queue[1:]
	}
	return n, nil
}

func (s *scriptConn) Write(p []byte) (int, error) { return s.tx.Write(p) }
func (s *scriptConn) Close() error                { s.closed = true; return nil }

func deviceWith(responses ...string) (*scriptConn, *scpi.SCPI) {
	c := &scriptConn{}
	for _, r := range responses {
		c.queue = append(c.queue, []byte(r))
	}
	pool := comm.NewPool(1, time.Hour, func() (io.ReadWriteCloser, error) { return c, nil })
	return c, &scpi.SCPI{Pool: pool}
}

func TestWriteHandshakingFramesCommand(t *testing.T) {
	c, s := deviceWith("+0,\"No error\"\n")
	s.Handshaking = true
	err := s.Write(":OUTPut1:NORMal ON")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	want := "*CLS; :OUTPut1:NORMal ON ;:SYSTem:ERRor?\n"
	if got := c.tx.String(); got != want {
		t.Errorf("expected %q on the wire, got %q", want, got)
	}
}

func TestWriteHandshakingSurfacesDeviceError(t *testing.T) {
	_, s := deviceWith("-222,\"Data out of range\"\n")
	s.Handshaking = true
	err := s.Write(":FREQuency:RASTer 99e9")
	if err == nil {
		t.Fatal("expected device error, got nil")
	}
	if !strings.Contains(err.Error(), "-222") {
		t.Errorf("expected error to carry the device code, got %q", err.Error())
	}
}

func TestWriteReadStripsHandshakeTail(t *testing.T) {
	_, s := deviceWith("1.25E+09;+0,\"No error\"\n")
	s.Handshaking = true
	resp, err := s.WriteRead(":FREQuency:RASTer?")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if string(resp) != "1.25E+09" {
		t.Errorf("expected bare response, got %q", resp)
	}
}

func TestReadStringStripsCRLF(t *testing.T) {
	_, s := deviceWith("M8190A\r\n")
	resp, err := s.ReadString("*IDN?")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if resp != "M8190A" {
		t.Errorf("expected M8190A, got %q", resp)
	}
}

func TestReadStringSpansFrames(t *testing.T) {
	long := strings.Repeat("a", 4000)
	// catalogs longer than one TCP frame arrive over several reads
	_, s := deviceWith(long[:1500], long[1500:3000], long[3000:]+"\n")
	resp, err := s.ReadString("TRACe1:CATalog?")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if resp != long {
		t.Errorf("expected %d byte response, got %d", len(long), len(resp))
	}
}

func TestReadFloat(t *testing.T) {
	_, s := deviceWith("1.25E+09\n")
	f, err := s.ReadFloat(":FREQuency:RASTer?")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if f != 1.25e9 {
		t.Errorf("expected 1.25e9, got %g", f)
	}
}

func TestRawRestoresHandshaking(t *testing.T) {
	c, s := deviceWith("M8195A\n")
	s.Handshaking = true
	resp, err := s.Raw("*IDN?")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if resp != "M8195A" {
		t.Errorf("expected M8195A, got %q", resp)
	}
	if !s.Handshaking {
		t.Errorf("expected handshaking restored after Raw")
	}
	if got := c.tx.String(); got != "*IDN?\n" {
		t.Errorf("expected raw query without handshake framing, got %q", got)
	}
}

func TestAllErrorsDrainIsBounded(t *testing.T) {
	var responses []string
	for i := 0; i < 40; i++ {
		responses = append(responses, "-113,\"Undefined header\"\n")
	}
	_, s := deviceWith(responses...)
	errs := s.AllErrors()
	if len(errs) != 30 {
		t.Errorf("expected drain capped at 30 entries, got %d", len(errs))
	}
}

func TestPopErrorEmptyQueue(t *testing.T) {
	_, s := deviceWith("+0,\"No error\"\n")
	if err := s.PopError(); err != nil {
		t.Errorf("expected nil for empty queue, got %v", err)
	}
}

func TestWriteBinaryFramesBlock(t *testing.T) {
	c, s := deviceWith()
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	err := s.WriteBinary("TRACe1:DATA 1,0,", data)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	want := append([]byte("TRACe1:DATA 1,0,#15"), data...)
	want = append(want, '\n')
	if got := c.tx.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("expected %q on the wire, got %q", want, got)
	}
}

func TestWriteBinaryPacedKeepsPayloadIntact(t *testing.T) {
	c, s := deviceWith()
	s.Pace = rate.NewLimiter(1<<20, 1<<10)
	data := bytes.Repeat([]byte{0xAB}, 3000)
	err := s.WriteBinary("TRACe2:DATA 4,0,", data)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	got := c.tx.Bytes()
	if !bytes.HasPrefix(got, []byte("TRACe2:DATA 4,0,#43000")) {
		t.Errorf("expected block header for 3000 bytes, got %q", got[:24])
	}
	if len(got) != len("TRACe2:DATA 4,0,#43000")+3000+1 {
		t.Errorf("expected full payload plus terminator, got %d bytes", len(got))
	}
}

func TestWriteBinaryHandshakes(t *testing.T) {
	c, s := deviceWith("+0,\"No error\"\n")
	s.Handshaking = true
	err := s.WriteBinary("TRACe1:DATA 1,0,", []byte{0xFF})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !bytes.HasSuffix(c.tx.Bytes(), []byte(":SYSTem:ERRor?\n")) {
		t.Errorf("expected trailing error query, got %q", c.tx.String())
	}
}

func TestReadBinaryParsesBlock(t *testing.T) {
	payload := []byte{9, 8, 7, 6, 5, 4, 3, 2, 1, 0, 1, 2}
	resp := append([]byte("#3012"), payload...)
	resp = append(resp, '\n')
	_, s := deviceWith(string(resp))
	data, err := s.ReadBinary("MMEMory:DATA?", "\"wave.bin\"")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("expected %v, got %v", payload, data)
	}
}

func TestReadBinarySpansFrames(t *testing.T) {
	payload := bytes.Repeat([]byte{0x5A}, 4000)
	resp := append([]byte("#44000"), payload...)
	resp = append(resp, '\n')
	_, s := deviceWith(string(resp[:1000]), string(resp[1000:2500]), string(resp[2500:]))
	data, err := s.ReadBinary("MMEMory:DATA? \"big.bin8\"")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("expected %d byte payload intact, got %d", len(payload), len(data))
	}
}

func TestReadBinaryRejectsNonBlock(t *testing.T) {
	_, s := deviceWith("garbage\n")
	_, err := s.ReadBinary("MMEMory:DATA? \"x\"")
	if err == nil {
		t.Fatal("expected error for response without # header")
	}
}

func TestWriteFileCommandShape(t *testing.T) {
	c, s := deviceWith()
	err := s.WriteFile("wave_ch1.bin8", []byte{1, 2})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !bytes.HasPrefix(c.tx.Bytes(), []byte("MMEMory:DATA \"wave_ch1.bin8\", #12")) {
		t.Errorf("unexpected command framing: %q", c.tx.String())
	}
}
