// Command engine runs the positioning service: UDP sensor ingest, optional
// MQTT feeds, websocket/HTTP output, and session recording.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"positioning-go/binlog"
	"positioning-go/config"
	"positioning-go/fusion"
	"positioning-go/publish"
	"positioning-go/server"
	"positioning-go/web"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration")
	replayPath := flag.String("replay", "", "Replay a recorded session instead of listening on UDP")
	replaySpeed := flag.Float64("speed", 1.0, "Replay speed multiplier (0 = as fast as possible)")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	log.SetLevel(cfg.LogrusLevel())

	pipeline := fusion.NewPipeline(cfg.PipelineConfig(), log)
	log.WithField("anchors", len(cfg.Anchors)).Info("pipeline ready")

	udpSvr, err := server.NewUdpServer(cfg.Server.UDPPort, pipeline, log)
	if err != nil {
		log.WithError(err).Fatal("udp server")
	}

	webSvr := web.NewServer(pipeline, log)
	udpSvr.AddSink(webSvr.Hub)
	go func() {
		if err := webSvr.Start(cfg.Server.HTTPPort); err != nil {
			log.WithError(err).Fatal("http server")
		}
	}()

	var feed *server.Feed
	if cfg.MQTT.Broker != "" {
		pub := publish.NewPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.TopicPrefix, log)
		if err := pub.Start(); err != nil {
			log.WithError(err).Fatal("mqtt publisher")
		}
		defer pub.Stop()
		udpSvr.AddSink(pub)

		feed = server.NewFeed(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.TopicPrefix, pipeline, log)
		feed.AddSink(webSvr.Hub)
		feed.AddSink(pub)
		if err := feed.Start(); err != nil {
			log.WithError(err).Fatal("mqtt feed")
		}
		defer feed.Stop()
	}

	if *replayPath != "" {
		if err := udpSvr.ReplayLog(*replayPath, *replaySpeed); err != nil {
			log.WithError(err).Fatal("replay")
		}
		return
	}

	if cfg.Server.RecordPath != "" {
		path := cfg.Server.RecordPath
		if fi, err := os.Stat(path); err == nil && fi.IsDir() {
			path = fmt.Sprintf("%s/session_%s.plog", path, time.Now().Format("20060102150405"))
		}
		w, err := binlog.Create(path)
		if err != nil {
			log.WithError(err).Fatal("session recorder")
		}
		defer w.Close()
		udpSvr.SetRecorder(w)
		log.WithField("path", path).Info("recording session")
	}

	go udpSvr.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	udpSvr.Stop()
}
