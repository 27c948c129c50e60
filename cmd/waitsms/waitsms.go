// waitsms waits for SMSs to be received by the modem, and dumps them to
// stdout.
//
// This provides an example of reacting to the new-message URC and listing
// unread messages, as well as a test that the driver works against a
// physical modem.
//
// The modem device provided must support notifications, or no SMSs will be
// seen. (the notification port is typically USB2, hence the default)
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/vnet-iot/g350modem/driver"
	"github.com/vnet-iot/g350modem/gsm"
	"github.com/vnet-iot/g350modem/trace"
	"github.com/vnet-iot/g350modem/transport"
)

func main() {
	dev := flag.String("d", "/dev/ttyUSB2", "path to modem device")
	baud := flag.Int("b", 115200, "baud rate")
	period := flag.Duration("p", 10*time.Minute, "period to wait")
	timeout := flag.Duration("t", 5*time.Second, "command timeout period")
	verbose := flag.Bool("v", false, "log modem interactions")
	flag.Parse()

	port, err := transport.Open(transport.WithPort(*dev), transport.WithBaud(*baud))
	if err != nil {
		log.Println(err)
		return
	}
	defer port.Close()

	var opts []driver.Option
	if *verbose {
		l := log.New(os.Stdout, "", log.LstdFlags)
		opts = append(opts,
			driver.WithLogger(l),
			driver.WithLineObserver(trace.NewLineTracer(l)),
		)
	}
	d := driver.New(port, opts...)
	d.Start()
	defer d.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	err = d.Init(ctx, driver.PinConfig{})
	cancel()
	if err != nil {
		log.Println(err)
		return
	}

	ctx, cancel = context.WithTimeout(context.Background(), *period)
	defer cancel()
	c := gsm.New(d)
	go pollSignalQuality(ctx, c, *timeout)
	waitForSMSs(ctx, d, c, *timeout)
}

// pollSignalQuality polls the modem to read signal quality every minute.
//
// This runs in parallel to waitForSMSs to demonstrate separate goroutines
// sharing one driver - the arbiter serializes their commands, so neither
// goroutine needs to know about the other.
func pollSignalQuality(ctx context.Context, c *gsm.Client, timeout time.Duration) {
	for {
		select {
		case <-time.After(time.Minute):
			tctx, tcancel := context.WithTimeout(ctx, timeout)
			rssi, ber, err := c.SignalQuality(tctx)
			tcancel()
			if err != nil {
				log.Println(err)
			} else {
				log.Printf("signal quality: rssi=%d ber=%d\n", rssi, ber)
			}
		case <-ctx.Done():
			return
		}
	}
}

// waitForSMSs polls the driver's new-message indication count, and when it
// rises, lists and prints unread messages, deleting each as it is
// displayed. It continues until ctx is done.
func waitForSMSs(ctx context.Context, d *driver.Driver, c *gsm.Client, timeout time.Duration) {
	const pollInterval = time.Second
	for {
		select {
		case <-ctx.Done():
			log.Println("exiting...")
			return
		case <-time.After(pollInterval):
			if d.PendingSMS() == 0 {
				continue
			}
			lctx, lcancel := context.WithTimeout(ctx, timeout)
			msgs, err := c.ListSMS(lctx, gsm.SMSUnread)
			lcancel()
			if err != nil {
				log.Println(err)
				continue
			}
			for _, m := range msgs {
				log.Printf("%s: %s\n", m.Origin, m.Text)
				dctx, dcancel := context.WithTimeout(ctx, timeout)
				if err := c.DeleteSMS(dctx, m.Index); err != nil {
					log.Println(err)
				}
				dcancel()
				d.ConsumeSMSIndication()
			}
		}
	}
}
