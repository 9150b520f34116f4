package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/cfdp-go/receiver/pkg/config"
	"github.com/cfdp-go/receiver/pkg/engine"
	"github.com/cfdp-go/receiver/pkg/filesink"
	"github.com/cfdp-go/receiver/pkg/metrics"
	"github.com/cfdp-go/receiver/pkg/pdu"
	"github.com/cfdp-go/receiver/pkg/transaction"
)

var DEFAULT_CHANNEL = 0
var DEFAULT_TICK_PERIOD = 100 * time.Millisecond
var DEFAULT_METRICS_ADDR = ":9100"

func main() {
	log.SetLevel(log.InfoLevel)

	configPath := flag.String("c", "", "channel configuration ini file (defaults applied if omitted)")
	root := flag.String("root", ".", "directory received files are written into")
	chanNum := flag.Int("i", DEFAULT_CHANNEL, "channel number")
	metricsAddr := flag.String("metrics", DEFAULT_METRICS_ADDR, "address to serve /metrics on")
	flag.Parse()

	table := config.NewTable()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load channel configuration: %v", err)
		}
		table = loaded
	}

	counters := metrics.NewCounters()
	counters.MustRegister(prometheus.DefaultRegisterer)

	fs := &filesink.OSFileSystem{Dir: *root}

	ch := engine.NewChannel(
		*chanNum,
		table.Channel(*chanNum),
		counters,
		fs,
		loggingTransmitterFactory(*chanNum),
		nil,
		DEFAULT_TICK_PERIOD,
	)

	inbound := make(chan engine.Inbound, 256)
	go frameSource(inbound, ch)

	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Infof("serving metrics on %s", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			log.Errorf("metrics server exited: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	ch.Start(ctx)
	log.Infof("cfdp-recvd running on channel %d, writing into %s", *chanNum, *root)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	close(inbound)
	cancel()
	ch.Stop()
	ch.Wait()
}

// frameSource pumps the toy in-process transport's inbound channel into
// the engine. A real deployment replaces this with whatever decodes PDUs
// off the wire and resolves each one's transaction ID and class.
func frameSource(inbound <-chan engine.Inbound, ch *engine.Channel) {
	for in := range inbound {
		ch.Submit(in)
	}
}

// loggingTransmitterFactory stands in for a real link-layer encoder: it
// logs what would have gone out on the wire. Wiring a real transport
// means supplying a different TransmitterFactory to engine.NewChannel.
func loggingTransmitterFactory(chanNum int) engine.TransmitterFactory {
	return func(id transaction.ID) pdu.Transmitter {
		return &loggingTransmitter{chanNum: chanNum, id: id}
	}
}

type loggingTransmitter struct {
	chanNum int
	id      transaction.ID
}

func (t *loggingTransmitter) SendAck(directive pdu.DirectiveCode, cc pdu.ConditionCode) error {
	log.WithFields(log.Fields{
		"chan_num":  t.chanNum,
		"entity":    t.id.EntityID,
		"seq":       t.id.SequenceNumber,
		"directive": directive,
		"condition": cc,
	}).Info("would send ACK")
	return nil
}

func (t *loggingTransmitter) SendNak(nak pdu.Nak) error {
	log.WithFields(log.Fields{
		"chan_num": t.chanNum,
		"entity":   t.id.EntityID,
		"seq":      t.id.SequenceNumber,
		"segments": len(nak.Segments),
	}).Info("would send NAK")
	return nil
}

func (t *loggingTransmitter) SendFin(fin pdu.Fin) error {
	log.WithFields(log.Fields{
		"chan_num":  t.chanNum,
		"entity":    t.id.EntityID,
		"seq":       t.id.SequenceNumber,
		"condition": fin.ConditionCode,
	}).Info("would send FIN")
	return nil
}
