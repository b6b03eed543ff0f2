// Command netclient is the composition root: it loads the persisted
// network configuration, opens the link-layer socket, wires the engine and
// serves the operator shell over stdin/stdout until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tiva-iot/netstack"
	"github.com/tiva-iot/netstack/eeprom"
	"github.com/tiva-iot/netstack/linklayer"
	"github.com/tiva-iot/netstack/shell"
)

var (
	iface         string
	eepromPath    string
	remoteAddr    string
	localPort     uint
	readTimeout   time.Duration
	gatewayAddr   string
)

func init() {
	flag.StringVar(&iface, "iface", "eth0", "network interface to bind the raw socket to")
	flag.StringVar(&eepromPath, "eeprom", "/var/lib/netclient/eeprom.gob", "path to the persisted configuration file")
	flag.StringVar(&remoteAddr, "remote", "", "remote host:port the TCP client dials on the shell's \"tcp syn\" command")
	flag.UintVar(&localPort, "local-port", 50000, "local TCP port the client sends from")
	flag.StringVar(&gatewayAddr, "gateway", "", "default gateway IP (defaults to 192.168.1.1 if unset)")
	flag.DurationVar(&readTimeout, "read-timeout", 200*time.Millisecond, "raw socket read deadline between polls")

	flag.Usage = func() {
		fmt.Fprint(os.Stderr, "Usage: netclient [options]\n\n")
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if remoteAddr == "" {
		log.Fatal("netclient: -remote is required")
	}
	remoteIP, remotePortStr, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		log.WithError(err).Fatal("netclient: invalid -remote")
	}
	var remotePort uint
	if _, err := fmt.Sscanf(remotePortStr, "%d", &remotePort); err != nil {
		log.WithError(err).Fatal("netclient: invalid -remote port")
	}

	conn, err := linklayer.NewRaw(iface, readTimeout)
	if err != nil {
		log.WithError(err).Fatal("netclient: opening raw socket")
	}
	defer conn.Close()

	store := eeprom.New(eepromPath)

	cfg := netstack.Config{
		MAC:           conn.MAC(),
		Conn:          conn,
		EEPROM:        store,
		TCPLocalPort:  uint16(localPort),
		TCPRemoteIP:   net.ParseIP(remoteIP),
		TCPRemotePort: uint16(remotePort),
	}
	if gatewayAddr != "" {
		cfg.TCPGatewayIP = net.ParseIP(gatewayAddr)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var engine *netstack.Engine
	cfg.OnFatal = func(reason string) {
		log.WithField("reason", reason).Error("netclient: fatal condition reported, saving config and exiting")
		if err := engine.Save(); err != nil {
			log.WithError(err).Warn("netclient: save on fatal failed")
		}
		cancel()
	}

	engine, err = netstack.New(cfg)
	if err != nil {
		log.WithError(err).Fatal("netclient: building engine")
	}
	engine.Boot()

	sh := shell.New(os.Stdin, os.Stdout, engine.DHCP(), engine.TCP(), engine, engine.Netif())
	go func() {
		if err := sh.Run(); err != nil {
			log.WithError(err).Warn("netclient: shell exited")
		}
	}()

	log.WithFields(log.Fields{"iface": iface, "remote": remoteAddr}).Info("netclient: running")
	if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Fatal("netclient: engine exited")
	}

	if err := engine.Save(); err != nil {
		log.WithError(err).Warn("netclient: save on shutdown failed")
	}
}
