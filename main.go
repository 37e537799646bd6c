// main.go
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/oshri-humanz/talkie/internal/client"
	"github.com/oshri-humanz/talkie/internal/config"
	"github.com/oshri-humanz/talkie/internal/hub"
	"github.com/oshri-humanz/talkie/internal/proto"
)

var (
	showHelp   = flag.Bool("h", false, "Show help")
	version    = flag.Bool("version", false, "Show version")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	configPath = flag.String("config", "talkie.json", "Path to the config file")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("talkie v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	level := "info"
	if *debug {
		level = "debug"
	}
	if err := logging.SetLogLevel("*", level); err != nil {
		log.Fatalf("set log level: %v", err)
	}

	cfg, created, err := config.Ensure(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if created {
		fmt.Printf("Created default config at %s\n", *configPath)
	}

	args := flag.Args()
	if len(args) == 0 {
		showUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "serve":
		runServe(cfg)
	case "join":
		runJoin(cfg)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n\n", args[0])
		showUsage()
		os.Exit(1)
	}
}

func runServe(cfg config.Config) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := hub.New(cfg.Server.ListenAddr)
	if err := h.Start(ctx); err != nil {
		log.Fatalf("start coordinator: %v", err)
	}
	fmt.Printf("Coordinator running on %s (Ctrl-C to stop)\n", h.Addr())

	<-ctx.Done()
	fmt.Println("Shutting down.")
}

func runJoin(cfg config.Config) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.Dial(ctx, client.Config{
		URL:       cfg.Client.ServerURL,
		Name:      cfg.Client.DisplayName,
		Heartbeat: time.Duration(cfg.Client.HeartbeatSec) * time.Second,
	})
	if err != nil {
		log.Fatalf("join: %v", err)
	}
	defer c.Close()

	fmt.Printf("Joined as %s (%s)\n", c.Self().Name, c.Self().ID)

	events, cancel := c.Subscribe()
	defer cancel()
	go printEvents(events)

	go commandLoop(c, stop)

	<-ctx.Done()
	fmt.Println("Leaving.")
}

func printEvents(events chan proto.Message) {
	for msg := range events {
		switch msg.Kind {
		case proto.KindParticipantJoined:
			fmt.Printf("* %s joined\n", msg.Participant.Name)
		case proto.KindParticipantLeft:
			fmt.Printf("* %s left\n", msg.ID)
		case proto.KindParticipantUpdated:
			fmt.Printf("* %s renamed\n", msg.Participant.Name)
		case proto.KindTalkingChanged:
			state := "stopped talking"
			if msg.Talking {
				state = "is talking"
			}
			fmt.Printf("* %s %s [%s]\n", msg.ID, state, msg.Namespace)
		case proto.KindPairingEstablished:
			fmt.Printf("* private chat with %s\n", msg.Participant.Name)
		case proto.KindPairingEnded:
			fmt.Println("* private chat ended")
		case proto.KindPairingError:
			fmt.Printf("* private chat failed: %s\n", msg.Reason)
		}
	}
}

func commandLoop(c *client.Client, stop func()) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")
		var err error
		switch cmd {
		case "name":
			err = c.SetName(strings.TrimSpace(arg))
		case "talk":
			err = c.StartTalking()
		case "mute":
			err = c.StopTalking()
		case "pair":
			err = c.RequestPrivateChat(strings.TrimSpace(arg))
		case "unpair":
			err = c.EndPrivateChat()
		case "peers":
			for _, p := range c.Peers() {
				paired := ""
				if p.PairedWith != "" {
					paired = " (paired)"
				}
				fmt.Printf("  %s  %s%s\n", p.ID, p.Name, paired)
			}
		case "quit":
			stop()
			return
		default:
			fmt.Println("commands: name <name> | talk | mute | pair <id> | unpair | peers | quit")
		}
		if err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func showUsage() {
	fmt.Println(`talkie - small voice chat coordinator and endpoint

Usage:
  talkie [flags] serve        run the coordinator
  talkie [flags] join         join a coordinator as an endpoint

Flags:
  -config path   config file (default "talkie.json", created if missing)
  -debug         enable debug logging
  -version       show version
  -h             show this help`)
}
