package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/codefionn/go-bluetooth-bridge/internal/mdns"
	"github.com/codefionn/go-bluetooth-bridge/internal/models"
)

const defaultURL = "ws://127.0.0.1:5581/ws"

// discoverBridge browses for a bridge serving channel and falls back to
// localhost when none answers in time.
func discoverBridge(ctx context.Context, channel string, timeout time.Duration) string {
	fmt.Println("🔍 Discovering bluetooth-bridge via mDNS...")

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	services, err := mdns.Browse(browseCtx)
	if err != nil {
		fmt.Printf("⚠️ mDNS browse failed: %v\n", err)
	}

	for _, svc := range services {
		if svc.Channel != channel {
			continue
		}
		fmt.Printf("✅ Found %s at %s (version %s)\n", svc.Instance, svc.URL(), svc.Version)
		return svc.URL()
	}

	fmt.Println("⚠️ No bridge advertised, trying localhost...")
	return defaultURL
}

// BridgeClient talks to the bridge over one WebSocket connection and
// matches responses to calls by message ID.
type BridgeClient struct {
	conn   *websocket.Conn
	url    string
	logger func(string, ...interface{})

	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[string]chan json.RawMessage
	info    chan models.BridgeInfoMessage
}

func NewBridgeClient(url string) *BridgeClient {
	return &BridgeClient{
		url:     url,
		pending: make(map[string]chan json.RawMessage),
		info:    make(chan models.BridgeInfoMessage, 1),
		logger: func(format string, args ...interface{}) {
			log.Printf(format, args...)
		},
	}
}

func (bc *BridgeClient) Connect(ctx context.Context) (models.BridgeInfoMessage, error) {
	bc.logger("🔌 Connecting to bluetooth-bridge at %s", bc.url)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, bc.url, nil)
	if err != nil {
		return models.BridgeInfoMessage{}, fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	bc.conn = conn

	go bc.readMessages()

	select {
	case info := <-bc.info:
		bc.logger("✅ Connected to channel %s (bridge %s, BlueZ %s, permission gated: %v)",
			info.Channel, info.Version, info.PlatformVersion, info.PermissionGated)
		return info, nil
	case <-ctx.Done():
		conn.Close()
		return models.BridgeInfoMessage{}, ctx.Err()
	}
}

func (bc *BridgeClient) readMessages() {
	defer bc.conn.Close()

	first := true
	for {
		_, data, err := bc.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				bc.logger("❌ Error reading message: %v", err)
			}
			return
		}

		if first {
			first = false
			var info models.BridgeInfoMessage
			if err := json.Unmarshal(data, &info); err == nil {
				bc.info <- info
				continue
			}
		}

		bc.handleMessage(data)
	}
}

func (bc *BridgeClient) handleMessage(data []byte) {
	var envelope struct {
		MessageID string           `json:"message_id"`
		Event     models.EventType `json:"event"`
		Data      interface{}      `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		bc.logger("❌ Failed to parse message: %v", err)
		return
	}

	if envelope.Event != "" {
		bc.logger("📢 Event: %s - %v", envelope.Event, envelope.Data)
		return
	}

	bc.mu.Lock()
	ch, ok := bc.pending[envelope.MessageID]
	delete(bc.pending, envelope.MessageID)
	bc.mu.Unlock()

	if !ok {
		bc.logger("📨 Unmatched message: %s", string(data))
		return
	}
	ch <- data
}

// Call sends one method call and waits for its response frame.
func (bc *BridgeClient) Call(ctx context.Context, method string, args map[string]interface{}) (models.Result, error) {
	msg := models.CallMessage{
		MessageID: models.GenerateMessageID(),
		Method:    method,
		Arguments: args,
	}

	ch := make(chan json.RawMessage, 1)
	bc.mu.Lock()
	bc.pending[msg.MessageID] = ch
	bc.mu.Unlock()

	bc.logger("📤 Calling %s [%s]", method, msg.MessageID)

	bc.writeMu.Lock()
	err := bc.conn.WriteJSON(msg)
	bc.writeMu.Unlock()
	if err != nil {
		return models.Result{}, fmt.Errorf("failed to send call: %w", err)
	}

	select {
	case raw := <-ch:
		return decodeResponse(raw)
	case <-ctx.Done():
		bc.mu.Lock()
		delete(bc.pending, msg.MessageID)
		bc.mu.Unlock()
		return models.Result{}, ctx.Err()
	}
}

func decodeResponse(raw json.RawMessage) (models.Result, error) {
	var resp struct {
		Result         interface{} `json:"result"`
		NotImplemented bool        `json:"not_implemented"`
		ErrorCode      int         `json:"error_code"`
		Details        *string     `json:"details"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return models.Result{}, fmt.Errorf("invalid response: %w", err)
	}

	if resp.ErrorCode != 0 {
		details := "unknown error"
		if resp.Details != nil {
			details = *resp.Details
		}
		return models.Result{}, fmt.Errorf("bridge error %d: %s", resp.ErrorCode, details)
	}
	if resp.NotImplemented {
		return models.NotImplemented(), nil
	}
	return models.Success(resp.Result), nil
}

func (bc *BridgeClient) Close() error {
	if bc.conn == nil {
		return nil
	}
	bc.writeMu.Lock()
	defer bc.writeMu.Unlock()
	bc.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return bc.conn.Close()
}

func describe(r models.Result) string {
	if r.NotImplemented {
		return "not implemented"
	}
	if r.Value == nil {
		return "null"
	}
	return fmt.Sprintf("%v", r.Value)
}

func runClient(ctx context.Context, cmd *cobra.Command) error {
	url, _ := cmd.Flags().GetString("url")
	channel, _ := cmd.Flags().GetString("channel")
	newName, _ := cmd.Flags().GetString("set-name")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if url == "" {
		url = discoverBridge(ctx, channel, timeout)
	}

	client := NewBridgeClient(url)

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := client.Connect(connectCtx); err != nil {
		return fmt.Errorf("failed to connect to bluetooth-bridge: %w", err)
	}
	defer client.Close()

	call := func(method string, args map[string]interface{}) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		r, err := client.Call(callCtx, method, args)
		if err != nil {
			log.Printf("❌ %s failed: %v", method, err)
			return
		}
		log.Printf("✅ %s → %s", method, describe(r))
	}

	fmt.Println("\n📋 Sending example calls...")
	call(string(models.MethodGetBluetoothName), nil)
	if newName != "" {
		call(string(models.MethodSetBluetoothName), map[string]interface{}{"name": newName})
		call(string(models.MethodGetBluetoothName), nil)
	}
	call("enableBluetooth", nil)

	// Give the name-set event a moment to arrive.
	select {
	case <-ctx.Done():
	case <-time.After(500 * time.Millisecond):
	}

	fmt.Println("👋 Client shutting down...")
	return nil
}

func main() {
	fmt.Println("🚀 Bluetooth Bridge Example Client")
	fmt.Println("==================================")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rootCmd := &cobra.Command{
		Use:   "example-client",
		Short: "Reads and optionally sets the Bluetooth name through a running bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(ctx, cmd)
		},
		SilenceUsage: true,
	}
	rootCmd.Flags().String("url", "", "bridge WebSocket URL (default: discover via mDNS)")
	rootCmd.Flags().String("channel", models.DefaultChannel, "bridge channel to look for")
	rootCmd.Flags().String("set-name", "", "new adapter name to set")
	rootCmd.Flags().Duration("timeout", 5*time.Second, "discovery and call timeout")

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatalf("❌ %v", err)
	}
}
