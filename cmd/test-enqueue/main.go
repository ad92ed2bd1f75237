package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/stage-engine/internal/services/queue"
	queuePkg "github.com/jwebster45206/stage-engine/pkg/queue"
)

func main() {
	redisURL := flag.String("redis", "redis://localhost:6379", "Redis URL")
	session := flag.String("session", "00000000-0000-0000-0000-000000000001", "session id")
	text := flag.String("text", "[BG: \"park\"] [SPRITE: \"Jessica/Happy\"] Jessica waves from the bench.", "model output to apply")
	flag.Parse()

	sessionID, err := uuid.Parse(*session)
	if err != nil {
		log.Fatal("Invalid session id:", err)
	}

	client, err := queue.NewClient(*redisURL, slog.Default())
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer func() { _ = client.Close() }()

	fmt.Println("Connected to Redis successfully!")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	turns := queue.NewTurnQueue(client)
	req := queuePkg.NewTurnRequest(sessionID, *text)
	if err := turns.EnqueueTurn(ctx, req); err != nil {
		log.Fatal("Failed to enqueue turn:", err)
	}

	fmt.Printf("✅ Enqueued turn %s for session %s\n", req.RequestID, sessionID)

	depth, err := turns.SessionDepth(ctx, sessionID)
	if err != nil {
		log.Fatal("Failed to get queue depth:", err)
	}

	fmt.Printf("\n📊 Session queue depth: %d turns\n", depth)
	fmt.Println("\n💡 Now start the worker to see it process these turns!")
	fmt.Println("   Run: go run cmd/worker/main.go")
}
