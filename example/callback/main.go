package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/AegisAgent/pkg/aegisagent"
)

const desired = `{"aegisAgentConfiguration": {
  "maxLocalCacheSizeInBytes": {"value": 2560000},
  "maxMessageSizeInBytes": {"value": 256000},
  "messageFrequency": {"value": "PT2S"},
  "snapshotFrequency": {"value": "PT1M"},
  "aggregationIntervalProcessCreate": {"value": "PT10S"}
}}`

func main() {
	cfg, err := aegisagent.ParseConfig([]byte("agent:\n  id: callback-demo\nmetrics:\n  addr: 127.0.0.1:9101\n"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	callback := func(_ context.Context, d aegisagent.Delivery) error {
		fmt.Printf("%s correlation=%s bytes=%d\n%s\n",
			time.Now().Format(time.RFC3339Nano),
			d.Properties["correlation-id"],
			len(d.Body),
			d.Body,
		)
		return nil
	}

	pub := aegisagent.NewPublisher("demo", 128)
	agent, err := aegisagent.New(cfg,
		aegisagent.WithTransport(aegisagent.NewCallbackTransport("stdout", callback)),
		aegisagent.WithTwin(aegisagent.NewMemoryTwin([]byte(desired))),
		aegisagent.WithGenerators(pub),
	)
	if err != nil {
		log.Fatalf("build agent: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for pid := uint32(1000); ; pid++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = pub.Publish(aegisagent.NewEvent(aegisagent.EventProcessCreate,
					aegisagent.EventTypeSecurity, aegisagent.CategoryTriggered, aegisagent.PriorityOff, "1.0",
					aegisagent.ProcessCreate{Executable: "/usr/bin/true", ProcessID: pid}))
			}
		}
	}()

	if err := agent.Run(ctx); err != nil {
		log.Fatalf("agent error: %v", err)
	}
}
