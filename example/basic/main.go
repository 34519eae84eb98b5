/*
 * Example: Basic Client Usage
 *
 * Connects to a signaling relay, joins a room, and prints chat,
 * screen share and voice activity from the other participants.
 *
 * Build: go build -o rtc_example example/basic/main.go
 */
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	rtccore "github.com/streamroom/rtc_core"
	"github.com/streamroom/rtc_core/pkg/signaling"
	"github.com/streamroom/rtc_core/pkg/transport"
	"github.com/streamroom/rtc_core/pkg/utils"
)

func main() {
	fmt.Println("=== RTC Core Basic Example ===")
	fmt.Println()

	url := os.Getenv("SIGNALING_URL")
	if url == "" {
		url = "wss://localhost:8443/ws"
	}
	token := os.Getenv("SIGNALING_TOKEN")

	utils.SetLevel(utils.LogLevelInfo)
	utils.SetCallback(func(level utils.LogLevel, message string) {
		fmt.Printf("[%s] %s\n", level, message)
	})

	// 1. Create the client
	fmt.Println("1. Creating client...")
	client, err := rtccore.NewClient(rtccore.Config{
		SignalingURL: url,
		LocalName:    "example-user",
	}, rtccore.WithTokenProvider(transport.TokenFunc(
		func(ctx context.Context) (string, error) { return token, nil },
	)))
	if err != nil {
		fmt.Printf("   Error: %v\n", err)
		return
	}
	defer client.Close()
	fmt.Println("   ✓ Client created")

	// 2. Watch connection state
	client.Transport().SubscribeState(func(state transport.ConnectionState) {
		fmt.Printf("   → Transport: %s\n", state)
	})

	// 3. Watch room events
	room := client.Room()
	room.OnChat(func(msg signaling.ChatMessage) {
		fmt.Printf("   [chat] %s: %s\n", msg.Username, msg.Body)
	})
	client.ScreenShare().SetOnShareStarted(func(n signaling.ScreenShareNotice) {
		fmt.Printf("   → %s started sharing (%s @ %dfps)\n",
			n.Username, n.Options.Quality, n.Options.FrameRate)
	})
	client.ScreenShare().SetOnShareStopped(func(n signaling.ScreenShareNotice) {
		fmt.Printf("   → %s stopped sharing\n", n.Username)
	})

	// 4. Connect and join
	fmt.Println("\n2. Connecting...")
	client.Connect(context.Background())

	fmt.Println("\n3. Joining room R1...")
	if err := client.Join("R1"); err != nil {
		fmt.Printf("   Error: %v\n", err)
		return
	}
	fmt.Println("   ✓ Joined (or deferred until connected)")

	if err := room.SendChat("hello from the example client"); err != nil {
		fmt.Printf("   chat not sent: %v\n", err)
	}

	// 5. Wait for Ctrl+C
	fmt.Println("\nRunning. Press Ctrl+C to exit.")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Println("\nShutting down...")
	if err := client.Leave("R1"); err == nil {
		fmt.Println("   ✓ Left room")
	}
}
