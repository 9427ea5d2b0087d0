package main

import (
	"context"
	"time"

	"loranode-go/bus"
	"loranode-go/services/config"
	"loranode-go/services/console"
	"loranode-go/services/heartbeat"
	"loranode-go/services/node"
)

// device selects the embedded board configuration; override with
// -ldflags "-X main.device=pico-rfm95".
var device = "feather-rfm95"

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("[main] boot", device)

	cfg, err := config.Load(device)
	if err != nil {
		fatal("config", err)
	}

	ctx := context.WithValue(context.Background(), config.CtxDeviceKey, device)
	b := bus.NewBus(16)
	config.NewConfigService().Start(ctx, b.NewConnection("config"))

	cw := console.NewWriter(cfg.Console.RingSize)
	app, err := node.Open(cfg, cw, b.NewConnection("node"))
	if err != nil {
		fatal("node", err)
	}
	console.NewService(cw, app.Serial()).Start(ctx, b.NewConnection("console"), app.OnSerialByte)
	if err := heartbeat.New(app).Start(ctx, b.NewConnection("heartbeat")); err != nil {
		fatal("heartbeat", err)
	}
	if err := app.Start(ctx); err != nil {
		fatal("start", err)
	}
	println("[main] running")
	select {}
}

func fatal(what string, err error) {
	println("[main]", what+":", err.Error())
	panic(err)
}
