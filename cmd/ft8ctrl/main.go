// Command ft8ctrl runs the FT8/FT4 automation controller: it wires the
// config, store, caches, writer/purge workers and sequencer together and
// blocks until shutdown.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/w6bsd/ft8ctrl/internal/config"
	"github.com/w6bsd/ft8ctrl/internal/dxcc"
	"github.com/w6bsd/ft8ctrl/internal/geodesy"
	"github.com/w6bsd/ft8ctrl/internal/lotw"
	"github.com/w6bsd/ft8ctrl/internal/metrics"
	"github.com/w6bsd/ft8ctrl/internal/mqttspot"
	"github.com/w6bsd/ft8ctrl/internal/purge"
	"github.com/w6bsd/ft8ctrl/internal/rotatelog"
	"github.com/w6bsd/ft8ctrl/internal/selector"
	"github.com/w6bsd/ft8ctrl/internal/sequencer"
	"github.com/w6bsd/ft8ctrl/internal/store"
	"github.com/w6bsd/ft8ctrl/internal/writer"
)

// version is stamped at release time; left as a placeholder here since
// this repository has no release tooling of its own.
var version = "dev"

const writerQueueDepth = 256

func main() {
	configPath := pflag.StringP("config", "c", "ft8ctrl.yaml", "Path to the YAML configuration file.")
	showVersion := pflag.BoolP("version", "v", false, "Print the version and exit.")
	pflag.Parse()

	if *showVersion {
		fmt.Println("ft8ctrl", version)
		return
	}

	if err := run(*configPath); err != nil {
		log.Fatalf("ft8ctrl: %v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.FT8Ctrl.LogfileName != "" {
		lw, err := rotatelog.Open(cfg.FT8Ctrl.LogfileName, cfg.FT8Ctrl.LogfileSize, 5)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer lw.Close()
		log.SetOutput(lw)
	}

	st, err := store.Open(cfg.FT8Ctrl.DBName)
	if err != nil {
		return err
	}
	defer st.Close()

	dxccPath := cfg.FT8Ctrl.DXCCPath
	if dxccPath == "" {
		dxccPath = defaultHomeDir("ft8ctrl")
	}
	dxccDB, err := dxcc.Open(dxccPath)
	if err != nil {
		return fmt.Errorf("open dxcc database: %w", err)
	}

	var lotwMember lotw.Member = lotw.Always{}
	if needsLOTW(cfg) {
		lotwPath := cfg.FT8Ctrl.LOTWCachePath
		if lotwPath == "" {
			lotwPath = os.TempDir()
		}
		reg, err := lotw.Open(lotwPath)
		if err != nil {
			return fmt.Errorf("open lotw registry: %w", err)
		}
		lotwMember = reg
	}

	originLat, originLon, err := geodesy.GridToLatLon(cfg.FT8Ctrl.MyGrid)
	if err != nil {
		return fmt.Errorf("ft8ctrl.my_grid: %w", err)
	}

	deps := selector.Deps{
		Store:       st,
		DXCC:        dxccDB,
		LOTW:        lotwMember,
		BlackList:   selector.BuildBlackList(cfg.BlackList),
		MyContinent: cfg.FT8Ctrl.MyContinent,
	}
	pipeline, err := selector.NewPipeline(cfg, deps)
	if err != nil {
		return fmt.Errorf("build selector pipeline: %w", err)
	}

	var m *metrics.Metrics
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.FT8Ctrl.MetricsListen != "" {
		m = metrics.New()
		go func() {
			if err := metrics.Serve(ctx, cfg.FT8Ctrl.MetricsListen); err != nil {
				log.Printf("metrics: %v", err)
			}
		}()
	}

	var spot *mqttspot.Publisher
	if cfg.FT8Ctrl.MQTT.Broker != "" {
		spot, err = mqttspot.New(mqttspot.Config{
			Broker:   cfg.FT8Ctrl.MQTT.Broker,
			Topic:    cfg.FT8Ctrl.MQTT.Topic,
			Username: cfg.FT8Ctrl.MQTT.Username,
			Password: cfg.FT8Ctrl.MQTT.Password,
		})
		if err != nil {
			return fmt.Errorf("connect mqtt: %w", err)
		}
		defer spot.Disconnect()
	}

	writeq := make(chan writer.Command, writerQueueDepth)
	wrk := &writer.Writer{
		Store:   st,
		DXCC:    dxccDB,
		Origin:  writer.Origin{Lat: originLat, Lon: originLon},
		Queue:   writeq,
		Metrics: m,
		Spot:    spot,
	}
	go wrk.Run()

	purgeStop := make(chan struct{})
	pw := &purge.Worker{
		Store:       st,
		RetryWindow: time.Duration(cfg.FT8Ctrl.RetryWindowMinutes()) * time.Minute,
		Metrics:     m,
	}
	go pw.Run(purgeStop)
	defer close(purgeStop)

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{
		IP:   net.ParseIP(cfg.FT8Ctrl.WSJTIP),
		Port: cfg.FT8Ctrl.WSJTPort,
	})
	if err != nil {
		return fmt.Errorf("bind udp: %w", err)
	}
	defer conn.Close()

	var loggerAddr *net.UDPAddr
	if cfg.FT8Ctrl.LoggerIP != "" && cfg.FT8Ctrl.LoggerPort != 0 {
		loggerAddr = &net.UDPAddr{IP: net.ParseIP(cfg.FT8Ctrl.LoggerIP), Port: cfg.FT8Ctrl.LoggerPort}
	}

	seq := sequencer.New(sequencer.Config{
		MyCall:          cfg.FT8Ctrl.MyCall,
		FollowFrequency: cfg.FT8Ctrl.FollowFrequency,
		TXPower:         cfg.FT8Ctrl.TXPower,
		TXRetries:       cfg.FT8Ctrl.TXRetriesValue(),
	}, conn, loggerAddr, pipeline, writeq, m)

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Printf("ft8ctrl: signal received, shutting down")
		close(stop)
	}()

	log.Printf("ft8ctrl: listening on %s, selectors %v", conn.LocalAddr(), pipeline.Names())
	return seq.Run(stop)
}

// needsLOTW reports whether any configured selector requires LOTW
// membership checks, avoiding an unnecessary network fetch otherwise.
func needsLOTW(cfg *config.Config) bool {
	for _, name := range cfg.FT8Ctrl.CallSelector {
		switch name {
		case "Any":
			if cfg.Any.LOTWUsersOnly {
				return true
			}
		case "CallSign":
			if cfg.CallSign.LOTWUsersOnly {
				return true
			}
		case "Grid":
			if cfg.Grid.LOTWUsersOnly {
				return true
			}
		case "Continent":
			if cfg.Continent.LOTWUsersOnly {
				return true
			}
		case "Country":
			if cfg.Country.LOTWUsersOnly {
				return true
			}
		case "CQZone":
			if cfg.CQZone.LOTWUsersOnly {
				return true
			}
		case "ITUZone":
			if cfg.ITUZone.LOTWUsersOnly {
				return true
			}
		case "Extra":
			if cfg.Extra.LOTWUsersOnly {
				return true
			}
		case "DXCC100":
			if cfg.DXCC100.LOTWUsersOnly {
				return true
			}
		}
	}
	return false
}

func defaultHomeDir(sub string) string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return dir + string(os.PathSeparator) + "." + sub
}
