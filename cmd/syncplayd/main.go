package main

import (
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	syncplay "github.com/zardlove1991/AudioDock-sub000"
	"github.com/zardlove1991/AudioDock-sub000/directory"
	"github.com/zardlove1991/AudioDock-sub000/hub"
	"github.com/zardlove1991/AudioDock-sub000/pubsub"
)

var (
	flagBindAddr  = flag.String("port", ":8019", "Bind address")
	flagPostgres  = flag.String("db", "", "Postgres DB connection string for username lookups (see lib/pq docs); empty disables lookups")
	flagInviteTTL = flag.Duration("invite-ttl", 2*time.Minute, "Auto-expire unanswered invites after this long; 0 disables expiry")
)

// presenceLogger stands in for the device-presence collaborator: it consumes
// online/offline transitions off the bus. The full app swaps in its own
// listener to update the devices list.
type presenceLogger struct{}

func (presenceLogger) OnDeviceOnline(p *pubsub.DeviceOnline) {
	log.Info().Int64("user", p.UserID).Str("device", p.DeviceName).Msg("device online")
}

func (presenceLogger) OnDeviceOffline(p *pubsub.DeviceOffline) {
	log.Info().Int64("user", p.UserID).Str("device", p.DeviceName).Msg("device offline")
}

func main() {
	flag.Parse()
	if os.Getenv("SYNCPLAY_DEBUG") == "1" {
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	var dir hub.Directory
	if *flagPostgres != "" {
		dir = directory.NewStore(*flagPostgres)
	}

	bus := pubsub.NewPubSub(64)
	presence := pubsub.NewPromNotifier(bus, "presence")
	sub := pubsub.NewPresenceSub(bus, presenceLogger{})
	go sub.Listen()

	h := hub.NewHub(hub.Opts{
		Directory:        dir,
		Presence:         presence,
		InviteTTL:        *flagInviteTTL,
		EnablePrometheus: true,
	})
	syncplay.RunSyncServer(h, *flagBindAddr)
}
