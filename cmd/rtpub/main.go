// Command rtpub is the publish-mode driver of SPEC_FULL §6.7: it
// brings up one PublishChannel from a runtime config file, publishes
// an initial image for -ticker, then republishes an update every
// second for as long as the process runs, honoring -packed for
// binary packed vs unpacked encoding (spec §4.5).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/joho/godotenv"

	"github.com/marketfeed/rtcore/internal/config"
	"github.com/marketfeed/rtcore/internal/pubchan"
	"github.com/marketfeed/rtcore/internal/rtlog"
	"github.com/marketfeed/rtcore/internal/schema"
	"github.com/marketfeed/rtcore/internal/transport"
	"github.com/marketfeed/rtcore/internal/wire/binary"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "./rtpub.json", "Path to the runtime config `file`")
		service    = flag.String("service", "", "Service to publish under")
		ticker     = flag.String("ticker", "", "Ticker to publish")
		packed     = flag.Bool("packed", true, "publish only changed fields after the image")
		useGops    = flag.Bool("gops", false, "listen via github.com/google/gops/agent")
		version    = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("rtpub (rtcore SPEC_FULL §6.7)")
		return 0
	}

	_ = godotenv.Load()

	if *useGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			rtlog.Errorf("rtpub: gops/agent.Listen failed: %v", err)
			return 1
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		rtlog.Errorf("rtpub: %v", err)
		return 1
	}

	var chCfg *config.ChannelConfig
	for i := range cfg.Channels {
		if cfg.Channels[i].Mode == "pub" {
			chCfg = &cfg.Channels[i]
			break
		}
	}
	if chCfg == nil {
		rtlog.Error("rtpub: config has no pub-mode channel")
		return 1
	}

	sch := schema.New()
	if err := sch.Add(schema.Def{ID: 6, Name: "BID", Type: schema.Float64}); err != nil {
		rtlog.Errorf("rtpub: %v", err)
		return 1
	}
	if err := sch.Add(schema.Def{ID: 7, Name: "ASK", Type: schema.Float64}); err != nil {
		rtlog.Errorf("rtpub: %v", err)
		return 1
	}

	sock := transport.New(transport.Config{Targets: chCfg.Hosts})
	if err := sock.Dial(); err != nil {
		rtlog.Errorf("rtpub: %v", err)
		return 1
	}
	defer sock.Close(nil)

	pub := pubchan.New(pubchan.Config{
		Codec:  binary.New(),
		Schema: sch,
		Socket: sock,
	})
	pub.SetBinary(true)
	pub.SetUnPacked(!*packed)

	bid, ask := 100.00, 100.25
	if err := pub.Init(*service, *ticker, true).
		AddField(schema.NewFloat(6, schema.Float64, bid)).
		AddField(schema.NewFloat(7, schema.Float64, ask)).
		Publish(); err != nil {
		rtlog.Errorf("rtpub: publishing image: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0
		case <-tick.C:
			bid += 0.01
			if err := pub.Init(*service, *ticker, false).
				AddField(schema.NewFloat(6, schema.Float64, bid)).
				Publish(); err != nil {
				rtlog.Warnf("rtpub: publishing update: %v", err)
			}
			if _, err := sock.Flush(); err != nil {
				rtlog.Warnf("rtpub: flush: %v", err)
			}
		}
	}
}
