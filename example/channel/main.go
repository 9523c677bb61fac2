package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/AegisAgent"
)

func main() {
	tr, deliveries, closeDeliveries := aegisagent.NewChannelTransport("fanout", 32)
	defer closeDeliveries()

	agent, err := aegisagent.Conf("../../data/config.yaml", aegisagent.WithTransport(tr))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go fanoutWorker("ingest", deliveries)

	if err := agent.Run(ctx); err != nil {
		log.Fatalf("agent error: %v", err)
	}
}

func fanoutWorker(name string, deliveries <-chan aegisagent.Delivery) {
	for d := range deliveries {
		fmt.Printf("[%s] forwarding %d bytes (%s) at %s\n",
			name, len(d.Body), d.Properties["content-type"], time.Now().Format(time.RFC3339))
	}
}
