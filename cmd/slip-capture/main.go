package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/slip.capture/internal/config"
	"github.com/banshee-data/slip.capture/internal/db"
	"github.com/banshee-data/slip.capture/internal/slip"
	"github.com/banshee-data/slip.capture/internal/version"
)

var (
	configFile    = flag.String("config", "", "Path to a .json or .toml capture config")
	port          = flag.String("port", "", "Serial port to read (default /dev/ttyUSB0)")
	baud          = flag.Int("baud", 0, "Serial baud rate (default 128000)")
	maxPacketLen  = flag.Int("max-packet-len", 0, "Bytes kept per packet; the rest are dropped (default 100)")
	logDir        = flag.String("log-dir", "", "Directory for log_<time>.txt and log.txt (default logs)")
	packetDir     = flag.String("packet-dir", "", "Directory for pcap captures (default packets)")
	dbPath        = flag.String("db", "", "Path to the sqlite packet store (default slip_capture.db)")
	pcapMode      = flag.String("pcap", "", "Pcap output: per-packet, single or off (default per-packet)")
	listen        = flag.String("listen", "", "Admin HTTP listen address (default :8080)")
	mqttBroker    = flag.String("mqtt", "", "MQTT broker URL to publish packets to, e.g. mqtt://localhost:1883")
	devMode       = flag.Bool("dev", false, "Replay built-in sample frames instead of opening a serial port")
	disableSerial = flag.Bool("disable-serial", false, "Run without a serial port (admin and store only)")
	reconnect     = flag.Bool("reconnect", false, "Reopen the serial port after it fails")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

// loadConfig reads -config when given and lays explicitly set flags over it.
func loadConfig() (*config.CaptureConfig, error) {
	cfg := config.EmptyCaptureConfig()
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadCaptureConfig(*configFile); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = port
		case "baud":
			cfg.BaudRate = baud
		case "max-packet-len":
			cfg.MaxPacketLen = maxPacketLen
		case "log-dir":
			cfg.LogDir = logDir
		case "packet-dir":
			cfg.PacketDir = packetDir
		case "db":
			cfg.DBPath = dbPath
		case "pcap":
			cfg.PcapMode = pcapMode
		case "listen":
			cfg.Listen = listen
		case "mqtt":
			cfg.MQTTBroker = mqttBroker
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func printConstants() {
	fmt.Println("START SLIP RECEIVE")
	fmt.Printf("END: %d\n", slip.End)
	fmt.Printf("ESC: %d\n", slip.Esc)
	fmt.Printf("ESC_END: %d\n", slip.EscEnd)
	fmt.Printf("ESC_ESC: %d\n", slip.EscEsc)
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *devMode && *disableSerial {
		log.Fatal("-dev and -disable-serial are mutually exclusive")
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "migrate":
			if err := db.RunMigrateCommand(os.Stdout, flag.Args()[1:], cfg.GetDBPath()); err != nil {
				log.Fatalf("migrate: %v", err)
			}
			return
		default:
			log.Fatalf("unknown subcommand %q", flag.Arg(0))
		}
	}

	printConstants()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := appOptions{
		DevMode:       *devMode,
		DisableSerial: *disableSerial,
		Reconnect:     *reconnect,
	}
	if err := run(ctx, cfg, opts); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("capture stopped: %v", err)
		os.Exit(1)
	}
	log.Print("graceful shutdown complete")
}
