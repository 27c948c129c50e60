// modeminfo collects and displays information related to the modem and its
// current configuration.
//
// This serves as an example of how to drive the driver end to end, as well
// as providing information which may be useful for debugging a physical
// modem.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/vnet-iot/g350modem/driver"
	"github.com/vnet-iot/g350modem/gsm"
	"github.com/vnet-iot/g350modem/trace"
	"github.com/vnet-iot/g350modem/transport"
)

var version = "undefined"

func main() {
	dev := flag.String("d", "/dev/ttyUSB0", "path to modem device")
	baud := flag.Int("b", 115200, "baud rate")
	timeout := flag.Duration("t", 5*time.Second, "command timeout period")
	verbose := flag.Bool("v", false, "log modem interactions")
	vsn := flag.Bool("version", false, "report version and exit")
	flag.Parse()
	if *vsn {
		fmt.Printf("%s %s\n", os.Args[0], version)
		os.Exit(0)
	}

	port, err := transport.Open(transport.WithPort(*dev), transport.WithBaud(*baud))
	if err != nil {
		log.Fatal(err)
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
	defer cancel()
	if err := d.Init(ctx, driver.PinConfig{}); err != nil {
		log.Fatal(err)
	}

	c := gsm.New(d)
	report(ctx, "IMEI", c.IMEI)
	report(ctx, "ICCID", c.ICCID)
	report(ctx, "charset", c.Charset)
	report(ctx, "RTC", c.RTC)

	rssi, ber, err := c.SignalQuality(ctx)
	if err != nil {
		fmt.Printf(" signal quality: %v\n", err)
	} else {
		fmt.Printf(" signal quality: rssi=%d ber=%d\n", rssi, ber)
	}

	fmt.Println("registration:")
	fmt.Printf(" registered=%v attached=%v rssi=%d\n", d.Net.Registered(), d.Net.Attached(), d.Net.RSSI())
	lac, ci := d.Net.Cell()
	fmt.Printf(" lac=%q ci=%q\n", lac, ci)

	if rat, err := c.RAT(ctx); err != nil {
		fmt.Printf(" rat: %v\n", err)
	} else {
		fmt.Printf(" rat=%s\n", rat)
	}
	if info, err := c.CellInfo(ctx); err != nil {
		fmt.Printf(" cell info: %v\n", err)
	} else {
		fmt.Printf(" mcc=%s mnc=%s lac=%s ci=%s bsic=%s\n", info.MCC, info.MNC, info.LAC, info.CI, info.BSIC)
	}
}

func report(ctx context.Context, name string, f func(context.Context) (string, error)) {
	v, err := f(ctx)
	if err != nil {
		fmt.Printf(" %s: %v\n", name, err)
		return
	}
	fmt.Printf(" %s: %s\n", name, v)
}
