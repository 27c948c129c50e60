// socktool opens a TCP or UDP socket through the modem, writes a message,
// and prints whatever comes back.
//
// This provides an example of driving the socket package end to end,
// complementing modeminfo/sendsms/waitsms which exercise the GSM/SMS side
// of the driver.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/vnet-iot/g350modem/driver"
	"github.com/vnet-iot/g350modem/socket"
	"github.com/vnet-iot/g350modem/transport"
)

func main() {
	dev := flag.String("d", "/dev/ttyUSB0", "path to modem device")
	baud := flag.Int("b", 115200, "baud rate")
	addr := flag.String("a", "93.184.216.34", "dotted-decimal IPv4 address to connect to")
	port := flag.Int("p", 80, "remote port")
	udp := flag.Bool("u", false, "use UDP instead of TCP")
	msg := flag.String("m", "hello\n", "message to send once connected")
	recvTimeout := flag.Duration("rt", 10*time.Second, "receive timeout")
	verbose := flag.Bool("v", false, "log modem interactions")
	flag.Parse()

	tp, err := transport.Open(transport.WithPort(*dev), transport.WithBaud(*baud))
	if err != nil {
		log.Fatal(err)
	}
	defer tp.Close()

	var opts []driver.Option
	if *verbose {
		opts = append(opts, driver.WithLogger(log.New(os.Stdout, "", log.LstdFlags)))
	}
	d := driver.New(tp, opts...)
	d.Start()
	defer d.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = d.Init(ctx, driver.PinConfig{})
	cancel()
	if err != nil {
		log.Fatal(err)
	}

	mgr := socket.New(d)
	proto := socket.ProtoTCP
	if *udp {
		proto = socket.ProtoUDP
	}

	cctx, ccancel := context.WithTimeout(context.Background(), 30*time.Second)
	s, err := mgr.Create(cctx, proto)
	ccancel()
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		dctx, dcancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dcancel()
		_ = mgr.Close(dctx, s)
	}()

	if !*udp {
		cctx, ccancel = context.WithTimeout(context.Background(), 30*time.Second)
		err = mgr.Connect(cctx, s, *addr, uint16(*port))
		ccancel()
		if err != nil {
			log.Fatal(err)
		}
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		n, err := mgr.Send(sctx, s, []byte(*msg))
		scancel()
		log.Printf("sent %d bytes: %v\n", n, err)
	} else {
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		n, err := mgr.SendTo(sctx, s, []byte(*msg), *addr, uint16(*port))
		scancel()
		log.Printf("sent %d bytes: %v\n", n, err)
	}

	buf := make([]byte, 512)
	rctx, rcancel := context.WithTimeout(context.Background(), *recvTimeout+time.Second)
	defer rcancel()
	n, err := mgr.Recv(rctx, s, buf, *recvTimeout)
	if err != nil {
		log.Printf("recv: %v\n", err)
		return
	}
	log.Printf("received %d bytes: %q\n", n, buf[:n])
}
