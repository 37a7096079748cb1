package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
)

// wsEnvelope mirrors the daemon's state websocket envelope.
type wsEnvelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type instrumentState struct {
	Octave       int            `json:"octave"`
	Tonic        int            `json:"tonic"`
	Velocity     float64        `json:"velocity"`
	Voicing      int            `json:"voicing"`
	Pending      map[string]any `json:"pending,omitempty"`
	Chord        []int          `json:"chord,omitempty"`
	PlayingNotes []int          `json:"playing_notes"`
}

type stateSnapshot struct {
	Mode         string          `json:"mode"`
	ActiveDevice int             `json:"active_device"`
	Instrument   instrumentState `json:"instrument"`
}

type stateInit struct {
	SessionID string        `json:"session_id"`
	State     stateSnapshot `json:"state"`
}

type deviceChanged struct {
	Device    int    `json:"device"`
	Name      string `json:"name,omitempty"`
	Connected bool   `json:"connected"`
}

func main() {
	var (
		wsURL = pflag.String("ws", "ws://127.0.0.1:3002/ws", "chordcontroller state websocket URL")
		raw   = pflag.Bool("raw", false, "Print raw JSON frames")
	)
	pflag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	// The daemon pings every 20s; answer with pongs and keep the deadline fresh.
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			if messageType != websocket.TextMessage {
				continue
			}
			if *raw {
				fmt.Println(string(message))
				continue
			}
			handleTextMessage(message)
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// handleTextMessage prints one state frame.
func handleTextMessage(message []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}

	switch env.Type {
	case "state_init":
		var init stateInit
		if err := json.Unmarshal(env.Data, &init); err != nil {
			fmt.Printf("[INIT] %s\n", string(env.Data))
			return
		}
		fmt.Printf("[INIT] session=%s\n", init.SessionID)
		printState(init.State)

	case "state_changed":
		var s stateSnapshot
		if err := json.Unmarshal(env.Data, &s); err != nil {
			fmt.Printf("[STATE] %s\n", string(env.Data))
			return
		}
		printState(s)

	case "device_changed":
		var dc deviceChanged
		if err := json.Unmarshal(env.Data, &dc); err != nil {
			fmt.Printf("[DEVICE] %s\n", string(env.Data))
			return
		}
		status := "DISCONNECTED"
		if dc.Connected {
			status = "CONNECTED"
		}
		fmt.Printf("[DEVICE] %d %s %s\n", dc.Device, status, dc.Name)

	default:
		fmt.Printf("[%s] %s\n", strings.ToUpper(env.Type), string(env.Data))
	}
}

func printState(s stateSnapshot) {
	in := s.Instrument
	fmt.Printf("[STATE] mode=%s device=%d octave=%d tonic=%d voicing=%d velocity=%.0f notes=%v\n",
		s.Mode, s.ActiveDevice, in.Octave, in.Tonic, in.Voicing, in.Velocity, in.PlayingNotes)
	if len(in.Pending) > 0 {
		fmt.Printf("        pending=%v\n", in.Pending)
	}
}
