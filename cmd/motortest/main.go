// Command motortest exercises the motor controller without the camera or
// classifier: it connects, runs a short forward/turn/forward pattern and
// stops. Use it to check wiring and the WiFi bridge on the bench.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/camdrive/internal/motorlink"
	"github.com/banshee-data/camdrive/internal/protocol"
	"github.com/banshee-data/camdrive/internal/timeutil"
)

var (
	host    = flag.String("host", "192.168.4.1", "Motor controller host")
	port    = flag.String("port", "100", "Motor controller TCP port")
	serial  = flag.String("serial", "", "Serial port of the motor controller (overrides -host)")
	timeout = flag.Duration("timeout", 3*time.Second, "Connect timeout")
)

// step is one entry of the test pattern: send cmd (if any), follow it with
// a heartbeat, then hold for the given duration.
type step struct {
	name string
	cmd  protocol.Command
	hold time.Duration
}

func pattern() []step {
	return []step{
		{name: "settle", hold: 2 * time.Second},
		{name: "forward", cmd: protocol.MustMove(protocol.Forward, 200), hold: 2 * time.Second},
		{name: "turn right", cmd: protocol.MustMove(protocol.Right, 95), hold: time.Second},
		{name: "forward", cmd: protocol.MustMove(protocol.Forward, 200), hold: 2 * time.Second},
	}
}

// runPattern plays steps on ch and always finishes with a stop. It returns
// false when a send fails or ctx is cancelled between steps.
func runPattern(ctx context.Context, ch *motorlink.Channel, clock timeutil.Clock, steps []step) bool {
	ok := true
	defer func() {
		log.Print("stop")
		ch.Send(protocol.Stop())
	}()

	for _, s := range steps {
		if ctx.Err() != nil {
			return false
		}
		if s.cmd != nil {
			log.Printf("%s: %s", s.name, s.cmd)
			if !ch.Send(s.cmd) || !ch.SendHeartbeat() {
				ok = false
				break
			}
		}
		clock.Sleep(s.hold)
	}
	if ctx.Err() != nil {
		return false
	}
	return ok
}

func main() {
	flag.Parse()

	var dialer motorlink.Dialer = motorlink.TCPDialer{Addr: *host + ":" + *port, Timeout: *timeout}
	if *serial != "" {
		dialer = motorlink.SerialDialer{Path: *serial, Options: motorlink.PortOptions{BaudRate: 9600}}
	}

	// Ctrl-C cancels ctx instead of killing the process so the deferred
	// stop in runPattern still reaches the board.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch := motorlink.NewChannel(dialer, timeutil.RealClock{}, motorlink.DefaultOptions())
	if err := ch.Connect(ctx); err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer ch.Close()

	if !runPattern(ctx, ch, timeutil.RealClock{}, pattern()) {
		if ctx.Err() != nil {
			log.Print("motor test interrupted")
		} else {
			log.Print("motor test aborted: send failed")
		}
		ch.Close()
		stop()
		os.Exit(1)
	}
	log.Print("motor test complete")
}
