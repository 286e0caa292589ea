// davinci-linkd drives the sbRIO controllers of a da Vinci robot arm. It
// keeps one control-rate UDP link per controller, exposes the joint state
// over a JSON HTTP API and optionally records telemetry to sqlite.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aau-robotics/davinci-link/internal/api"
	"github.com/aau-robotics/davinci-link/internal/arm"
	"github.com/aau-robotics/davinci-link/internal/config"
	"github.com/aau-robotics/davinci-link/internal/link"
	"github.com/aau-robotics/davinci-link/internal/recorder"
	"github.com/aau-robotics/davinci-link/internal/version"
)

var (
	configPath = flag.String("config", "config/link.json", "Path to the JSON configuration file")
	listen     = flag.String("listen", "", "Listen address, overrides the config file")
)

func linkConfigs(cfg *config.Config) ([]link.Config, error) {
	var cfgs []link.Config
	for _, ep := range cfg.Endpoints {
		host, port, err := ep.HostPort()
		if err != nil {
			return nil, err
		}
		cfgs = append(cfgs, link.Config{
			Host:                 host,
			Port:                 port,
			Joints:               len(ep.JointNames),
			JointNames:           ep.JointNames,
			TickPeriod:           cfg.GetTickPeriod(),
			ReceiveTimeout:       cfg.GetReceiveTimeout(),
			MissWarnThreshold:    cfg.GetMissWarnThreshold(),
			MissTimeoutThreshold: cfg.GetMissTimeoutThreshold(),
		})
	}
	return cfgs, nil
}

func main() {
	flag.Parse()
	log.Printf("davinci-linkd %s (%s)", version.Version, version.GitSHA)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	listenAddr := cfg.GetListenAddr()
	if *listen != "" {
		listenAddr = *listen
	}

	cfgs, err := linkConfigs(cfg)
	if err != nil {
		log.Fatalf("invalid endpoint config: %v", err)
	}
	robot, err := arm.New(cfgs)
	if err != nil {
		log.Fatalf("failed to build arm: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("connecting to %d endpoints...", len(cfg.Endpoints))
	if err := robot.Connect(ctx); err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer robot.Close()
	log.Printf("all endpoints up, %d joints", len(robot.JointNames()))

	var wg sync.WaitGroup

	// telemetry recording goroutine, only when a database is configured
	if dbPath := cfg.GetRecordDB(); dbPath != "" {
		rec, err := recorder.Open(dbPath, robot.JointNames())
		if err != nil {
			log.Fatalf("failed to open recorder: %v", err)
		}
		defer rec.Close()
		log.Printf("recording session %s to %s", rec.SessionID(), dbPath)

		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Run(ctx, robot, cfg.GetRecordInterval())
			log.Print("recorder routine terminated")
		}()
	}

	// replicate telemetry into the aggregate vectors for API readers
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.GetTickPeriod() * 5)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := robot.Read(); err != nil {
					log.Printf("failed to read arm state: %v", err)
				}
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:    listenAddr,
			Handler: api.NewServer(robot).Handler(),
		}

		go func() {
			log.Printf("listening on %s", listenAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	log.Print("shutdown complete")
}
