/*Package usbtmc implements datagram encoding and decoding for USB Test and
Measurement Class devices, exposing them as an io.ReadWriteCloser so they
can sit in a comm.Pool behind the scpi layer the same way TCP sockets do.

Bulk transfers follow the USBTMC standard: each outbound message is a
Table 3 DEV_DEP_MSG_OUT header followed by the payload padded to a 4 byte
boundary, and each read is a Table 4 REQUEST_DEV_DEP_MSG_IN header on the
Out endpoint followed by a read of the In endpoint.  Transfers larger than
one bulk buffer are reassembled until the size promised by the response
header has arrived.
*/
package usbtmc

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/google/gousb"

	"github.com/nasa-jpl/gopulser/comm"
)

const (
	reserved = 0x00

	msgDevDepOut       = 0x01 // DEV_DEP_MSG_OUT
	msgRequestDevDepIn = 0x02 // REQUEST_DEV_DEP_MSG_IN
	msgDevDepIn        = 0x02 // DEV_DEP_MSG_IN responses reuse the request MsgID

	bulkBufSize = 1500

	alignment = 4
)

// bTagGen is a concurrent-safe bTag generator; tags cycle in 1..255
type bTagGen struct {
	sync.Mutex

	value byte
}

func (b *bTagGen) next() byte {
	b.Lock()
	defer b.Unlock()
	b.value++
	if b.value == 0 {
		b.value = 1
	}
	return b.value
}

// invbTag computes the bitwise inversion of a bTag, per USBTMC standard table 1 offset 2
func invbTag(b byte) byte {
	return b ^ 0xff
}

// encBulkOutHeader creates the header defined in USBTMC standard, Table 3
func encBulkOutHeader(tag byte, datalen int) [12]byte {
	out := [12]byte{}
	/* data map by offset:
	0 MsgID, DEV_DEP_MSG_OUT
	1 bTag, unique and incrementing with each message
	2 bTagInverse, the bitwise inverse of bTag
	3 reserved
	4-7 transferSize, LSB first, payload bytes exclusive of header and alignment
	8 bitmap, bit 0 EOM
	9-11 reserved
	*/
	out[0] = msgDevDepOut
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(datalen))
	out[8] = 0x01 // single message transfers, always end of message
	out[9] = reserved
	out[10] = reserved
	out[11] = reserved
	return out
}

// encBulkInHeader creates the header defined in USBTMC standard, Table 4.
// if terminator is nil, the termination character feature is disabled
func encBulkInHeader(tag byte, bufsize int, terminator *byte) [12]byte {
	out := [12]byte{}
	/* this differs from BulkOut by bytes 8~11
	8 bitmap, bit 1 set -> datagram must end on the term char at offset 9
	9 terminator byte
	10~11 reserved
	*/
	out[0] = msgRequestDevDepIn
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(bufsize))
	if terminator != nil {
		out[8] = 0x02
		out[9] = *terminator
	} else {
		out[8] = 0x00
		out[9] = 0x00
	}
	out[10] = reserved
	out[11] = reserved
	return out
}

// decBulkInHeader pulls the payload size out of a Table 9 DEV_DEP_MSG_IN
// response header
func decBulkInHeader(hdr []byte) (int, error) {
	if len(hdr) < 12 {
		return 0, fmt.Errorf("only received %d bytes, need at least 12 to form header", len(hdr))
	}
	if hdr[0] != msgDevDepIn {
		return 0, fmt.Errorf("response MsgID %#x, expected DEV_DEP_MSG_IN", hdr[0])
	}
	if hdr[2] != invbTag(hdr[1]) {
		return 0, fmt.Errorf("response bTagInverse does not match bTag")
	}
	return int(binary.LittleEndian.Uint32(hdr[4:8])), nil
}

// Device is a USBTMC instrument exposed as an io.ReadWriteCloser
type Device struct {
	tagger *bTagGen
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint
	device *gousb.Device
	iface  *gousb.Interface
	ctx    *gousb.Context
	closer func()

	// pending holds payload delivered by the device beyond what the last
	// Read call consumed
	pending []byte
}

// NewDevice opens a USBTMC instrument by its vendor and product ID and
// claims its bulk endpoints
func NewDevice(vid, pid uint16) (*Device, error) {
	d := &Device{tagger: &bTagGen{}}
	var err error
	d.ctx = gousb.NewContext()
	d.device, err = d.ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		d.ctx.Close()
		return nil, err
	}
	if d.device == nil {
		d.ctx.Close()
		return nil, fmt.Errorf("no USB device with VID:PID %04x:%04x", vid, pid)
	}
	err = d.device.SetAutoDetach(true)
	if err != nil {
		d.device.Close()
		d.ctx.Close()
		return nil, err
	}
	d.iface, d.closer, err = d.device.DefaultInterface()
	if err != nil {
		d.device.Close()
		d.ctx.Close()
		return nil, err
	}
	for _, ep := range d.iface.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionIn && d.in == nil {
			d.in, err = d.iface.InEndpoint(ep.Number)
		} else if ep.Direction == gousb.EndpointDirectionOut && d.out == nil {
			d.out, err = d.iface.OutEndpoint(ep.Number)
		}
		if err != nil {
			d.Close()
			return nil, err
		}
	}
	if d.in == nil || d.out == nil {
		d.Close()
		return nil, fmt.Errorf("device %04x:%04x lacks bulk in/out endpoints", vid, pid)
	}
	return d, nil
}

// ParseAddr extracts the vendor and product IDs from an address of the
// form usb:<vid>:<pid>, both hex, e.g. "usb:0957:1b8d"
func ParseAddr(addr string) (uint16, uint16, error) {
	pieces := strings.Split(addr, ":")
	if len(pieces) != 3 || !strings.EqualFold(pieces[0], "usb") {
		return 0, 0, fmt.Errorf("address %q is not of the form usb:<vid>:<pid>", addr)
	}
	vid, err := strconv.ParseUint(pieces[1], 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("address %q holds a bad vendor id: %v", addr, err)
	}
	pid, err := strconv.ParseUint(pieces[2], 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("address %q holds a bad product id: %v", addr, err)
	}
	return uint16(vid), uint16(pid), nil
}

// ConnMaker returns a comm.CreationFunc which opens the instrument with
// the given vendor and product IDs, suitable for feeding a comm.Pool
func ConnMaker(vid, pid uint16) comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return NewDevice(vid, pid)
	}
}

func (d *Device) Read(p []byte) (int, error) {
	if len(d.pending) > 0 {
		n := copy(p, d.pending)
		d.pending = d.pending[n:]
		return n, nil
	}
	term := byte('\n')
	hdr := encBulkInHeader(d.tagger.next(), bulkBufSize, &term)
	n, err := d.out.Write(hdr[:])
	if err != nil {
		return 0, err
	}
	if n != len(hdr) {
		return 0, fmt.Errorf("wrote %d bytes, not full 12 required to transmit read request", n)
	}
	buf := make([]byte, bulkBufSize)
	n, err = d.in.Read(buf)
	if err != nil {
		return 0, err
	}
	want, err := decBulkInHeader(buf[:n])
	if err != nil {
		return 0, err
	}
	payload := buf[12:n]
	for len(payload) < want {
		n, err = d.in.Read(buf)
		if err != nil {
			return 0, err
		}
		payload = append(payload, buf[:n]...)
	}
	payload = payload[:want]
	n = copy(p, payload)
	if n < len(payload) {
		d.pending = append(d.pending, payload[n:]...)
	}
	return n, nil
}

func (d *Device) Write(p []byte) (int, error) {
	hdr := encBulkOutHeader(d.tagger.next(), len(p))
	msg := append(hdr[:], p...)
	if residual := len(msg) % alignment; residual > 0 {
		msg = append(msg, make([]byte, alignment-residual)...)
	}
	_, err := d.out.Write(msg)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close releases the claimed interface and closes the device
func (d *Device) Close() error {
	if d.closer != nil {
		d.closer()
	}
	var err error
	if d.device != nil {
		err = d.device.Close()
	}
	if d.ctx != nil {
		if err2 := d.ctx.Close(); err == nil {
			err = err2
		}
	}
	return err
}
