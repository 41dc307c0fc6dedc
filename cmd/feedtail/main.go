// feedtail tails a chainbook Kafka topic and prints each payload, one
// JSON document per line. Handy for eyeballing the event or depth feed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"chainbook/infra/kafka"
)

func main() {
	var (
		brokers = flag.String("brokers", "localhost:9092", "comma-separated Kafka brokers")
		topic   = flag.String("topic", "chainbook.events", "topic to tail")
		group   = flag.String("group", "chainbook-feedtail", "consumer group")
	)
	flag.Parse()

	log := logrus.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	reader := kafka.NewReader(strings.Split(*brokers, ","), *topic, *group)
	defer reader.Close()

	log.WithField("topic", *topic).Info("tailing")
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Fatal("read message")
		}
		fmt.Println(string(msg.Value))
	}
}
