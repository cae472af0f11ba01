/*Command awgtest is a bring-up aid for USB attached AWGs.  It opens the
instrument over USBTMC, prints its identity and any queued errors, then
cycles playback while reading back the run state.  Useful to prove out
cabling and driver permissions before pointing awgsrv at the device.
*/
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/nasa-jpl/gopulser/comm"
	"github.com/nasa-jpl/gopulser/scpi"
	"github.com/nasa-jpl/gopulser/usbtmc"
)

func runState(s *scpi.SCPI) {
	v, err := s.ReadInt(":STAT:OPER:RUN:COND?")
	if err != nil {
		log.Fatal("run state ", err)
	}
	fmt.Println("running:", v != 0)
}

func main() {
	addr := flag.String("addr", "usb:0957:1b8d", "instrument address, usb:<vid>:<pid> in hex")
	cycles := flag.Int("cycles", 3, "number of playback start/stop cycles")
	flag.Parse()
	vid, pid, err := usbtmc.ParseAddr(*addr)
	if err != nil {
		log.Fatal("addr ", err)
	}
	pool := comm.NewPool(1, time.Minute, usbtmc.ConnMaker(vid, pid))
	s := &scpi.SCPI{Pool: pool}

	idn, err := s.Idn()
	if err != nil {
		log.Fatal("idn ", err)
	}
	fmt.Println(idn)

	queued, _ := s.AllErrorsString()
	if queued != "" {
		fmt.Println("queued errors:")
		fmt.Println(queued)
	}

	rast, err := s.ReadFloat(":FREQ:RAST?")
	if err != nil {
		log.Fatal("sample rate ", err)
	}
	fmt.Println("sample clock", rast, "Hz")

	for idx := 0; idx < *cycles; idx++ {
		err = s.Write(":INIT:IMM")
		if err != nil {
			log.Fatal("start ", err)
		}
		time.Sleep(time.Second)
		runState(s)

		err = s.Write(":ABOR")
		if err != nil {
			log.Fatal("stop ", err)
		}
		time.Sleep(time.Second)
		runState(s)
	}
}
