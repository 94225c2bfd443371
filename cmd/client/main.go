package main

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"flowlog/internal/client"
	"flowlog/internal/record"
)

const (
	TOTAL_MESSAGES  = 1000
	MAX_BATCH_SIZE  = 50
	FETCH_MAX_COUNT = 1000
)

func main() {
	fmt.Println("Connecting to flowlog broker...")
	c, err := client.NewClient(client.Config{
		BrokerAddr: "localhost:9092",
		ClientID:   "smoke-test-producer",
	})
	if err != nil {
		log.Fatalf("connection failed: %v", err)
	}
	defer c.Close()

	fmt.Printf("\nSTARTING PRODUCE PHASE (target: %d messages)\n", TOTAL_MESSAGES)
	fmt.Println("---------------------------------------------------")

	var baseOffsets []uint64
	totalSent := 0
	batchCount := 0
	start := time.Now()

	for totalSent < TOTAL_MESSAGES {
		batchSize := rand.Intn(MAX_BATCH_SIZE) + 1
		if totalSent+batchSize > TOTAL_MESSAGES {
			batchSize = TOTAL_MESSAGES - totalSent
		}

		messages := make([]record.Message, batchSize)
		for i := 0; i < batchSize; i++ {
			n := totalSent + i + 1
			messages[i] = record.Message{Payload: []byte(fmt.Sprintf("hello flowlog #%d", n))}
		}

		baseOffset, accepted, duplicates, err := c.Produce(messages)
		if err != nil {
			log.Fatalf("produce failed at batch #%d: %v", batchCount, err)
		}

		baseOffsets = append(baseOffsets, baseOffset)
		totalSent += int(accepted)
		batchCount++

		fmt.Printf("\r[Produce] batch #%03d | accepted %2d | dup %2d | base offset %4d | progress %4d/%d",
			batchCount, accepted, duplicates, baseOffset, totalSent, TOTAL_MESSAGES)

		time.Sleep(2 * time.Millisecond)
	}

	fmt.Printf("\n\nPRODUCE COMPLETE: %d messages in %d batches (%v)\n", totalSent, batchCount, time.Since(start))

	fmt.Println("\nSTARTING FETCH PHASE")
	fmt.Println("---------------------------------------------------")

	successCount := 0
	for i, offset := range baseOffsets {
		messages, err := c.FetchByOffset(offset, FETCH_MAX_COUNT)
		if err != nil {
			log.Printf("fetch failed for batch #%d (offset %d): %v", i, offset, err)
			continue
		}
		if len(messages) == 0 {
			fmt.Printf("empty response for batch #%d (offset %d)\n", i, offset)
			continue
		}
		successCount++

		if i == 0 || i == len(baseOffsets)-1 {
			fmt.Printf("[Verify] batch #%d (base offset %d) -> %d messages:\n", i, offset, len(messages))
			for j, m := range messages {
				if j >= 3 {
					fmt.Printf("    ... (skip %d messages)\n", len(messages)-3)
					break
				}
				fmt.Printf("    [%d] offset %d | ts %d | payload %s\n", j, m.Offset, m.Timestamp, m.Payload)
			}
		}
	}

	fmt.Println("\nREPORT")
	fmt.Println("---------------------------------------------------")
	fmt.Printf("Batches sent: %d, batches fetched: %d\n", len(baseOffsets), successCount)
	if successCount == len(baseOffsets) {
		fmt.Println("RESULT: all batches round-tripped")
	} else {
		fmt.Printf("RESULT: %d batches failed to round-trip\n", len(baseOffsets)-successCount)
	}
}
