// cmd/touchd/main.go
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"bt532-go/bus"
	"bt532-go/services/config"
	"bt532-go/services/touch"
)

func main() {
	board := flag.String("board", "rpi-dsi", "board ID ("+boardList()+")")
	override := flag.String("config", "", "JSON file whose keys replace the embedded board config")
	console := flag.Bool("console", true, "read control commands from stdin")
	flag.Parse()

	if err := run(*board, *override, *console); err != nil {
		println("[main] " + err.Error())
		os.Exit(1)
	}
}

func boardList() string {
	b := config.Boards()
	sort.Strings(b)
	return strings.Join(b, ", ")
}

func run(board, overridePath string, console bool) error {
	var override []byte
	if overridePath != "" {
		b, err := os.ReadFile(overridePath)
		if err != nil {
			return err
		}
		override = b
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = context.WithValue(ctx, config.CtxBoardKey, board)

	b := bus.NewBus(8)
	cfgConn := b.NewConnection("config")
	touchConn := b.NewConnection("touch")
	uiConn := b.NewConnection("ui")

	p, err := waitParams(ctx, touchConn, func() {
		config.NewConfigService(override).Start(ctx, cfgConn)
	})
	if err != nil {
		return err
	}

	hw, hwc, err := touch.OpenHardware(p)
	if err != nil {
		return err
	}
	defer hwc.Close()

	var opts []touch.Option
	if p.Uinput {
		sink, uc, err := touch.OpenUinput(p)
		if err != nil {
			return err
		}
		defer uc.Close()
		opts = append(opts, touch.WithSink(sink))
	}

	svc, err := touch.New(touchConn, hw, p, opts...)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	if console {
		c := newConsole(uiConn, svc.Topic(), os.Stdout)
		go func() {
			if err := c.run(ctx, os.Stdin); err != nil && err != io.EOF {
				println("[console] " + err.Error())
			}
			stop()
		}()
	}
	return <-done
}

// waitParams subscribes to the retained touch config, starts the publisher
// and returns the first section that decodes.
func waitParams(ctx context.Context, conn *bus.Connection, start func()) (touch.Params, error) {
	sub := conn.Subscribe(config.Topic("touch"))
	defer conn.Unsubscribe(sub)
	start()

	tmo := time.NewTimer(5 * time.Second)
	defer tmo.Stop()
	for {
		select {
		case m := <-sub.Channel():
			var p touch.Params
			if err := config.Decode(m.Payload, &p); err != nil {
				println("[main] bad touch config: " + err.Error())
				continue
			}
			return p, nil
		case <-tmo.C:
			return touch.Params{}, errNoTouchConfig
		case <-ctx.Done():
			return touch.Params{}, ctx.Err()
		}
	}
}
