// sendsms sends an SMS using the modem.
//
// This provides an example of using the SendSMS/SendSMSPDU operations, as
// well as a test that the driver works against a physical modem.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/warthog618/sms"
	"github.com/warthog618/sms/encoding/pdumode"

	"github.com/vnet-iot/g350modem/driver"
	"github.com/vnet-iot/g350modem/gsm"
	"github.com/vnet-iot/g350modem/transport"
)

func main() {
	dev := flag.String("d", "/dev/ttyUSB0", "path to modem device")
	baud := flag.Int("b", 115200, "baud rate")
	num := flag.String("n", "+12345", "number to send to, in international format")
	msg := flag.String("m", "Zoot Zoot", "the message to send")
	timeout := flag.Duration("t", 30*time.Second, "command timeout period")
	verbose := flag.Bool("v", false, "log modem interactions")
	usePDU := flag.Bool("p", false, "send in PDU mode")
	flag.Parse()

	port, err := transport.Open(transport.WithPort(*dev), transport.WithBaud(*baud))
	if err != nil {
		log.Fatal(err)
	}
	defer port.Close()

	var opts []driver.Option
	if *verbose {
		opts = append(opts, driver.WithLogger(log.New(os.Stdout, "", log.LstdFlags)))
	}
	d := driver.New(port, opts...)
	d.Start()
	defer d.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := d.Init(ctx, driver.PinConfig{}); err != nil {
		log.Fatal(err)
	}

	c := gsm.New(d)
	if *usePDU {
		sendPDU(ctx, c, *num, *msg)
		return
	}
	mr, err := c.SendSMS(ctx, *num, *msg)
	log.Printf("%v %v\n", mr, err)
}

// sendPDU mirrors the teacher's cmd/sendsms PDU-mode path: encode the
// message with warthog618/sms, submitting each resulting TPDU in turn.
func sendPDU(ctx context.Context, c *gsm.Client, number, msg string) {
	pdus, err := sms.Encode([]byte(msg), sms.To(number), sms.WithAllCharsets)
	if err != nil {
		log.Fatal(err)
	}
	for i, p := range pdus {
		tp, err := p.MarshalBinary()
		if err != nil {
			log.Fatal(err)
		}
		mr, err := c.SendSMSPDU(ctx, pdumode.SMSCAddress{}, tp)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("PDU %d: %v\n", i+1, mr)
	}
}
