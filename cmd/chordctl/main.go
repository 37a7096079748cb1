package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// ============================================================================
// chordctl - Command-line IPC Client
// ============================================================================
// Sends controller events to the chordcontroller daemon via IPC, so layouts
// can be exercised without a gamepad.
//
// Usage:
//   chordctl press 0
//   chordctl release 0
//   chordctl tap 7
//   chordctl hat 1 0
//   chordctl axis 4 -0.5
//   chordctl select 1
//   chordctl state
//
// Options:
//   -s, --socket PATH   Unix domain socket path (default: /tmp/chordcontroller.sock)
//   -d, --device N      Device number attached to input events (default: 0)
// ============================================================================

// Event payloads (duplicated from the daemon for a standalone binary)
type buttonEvent struct {
	Device int `json:"device"`
	Button int `json:"button"`
}

type hatEvent struct {
	Device int    `json:"device"`
	Hat    int    `json:"hat"`
	Vector [2]int `json:"vector"`
}

type axisEvent struct {
	Device int     `json:"device"`
	Axis   int     `json:"axis"`
	Value  float64 `json:"value"`
}

type selectDevice struct {
	Device int `json:"device"`
}

// eventEnvelope wraps events for JSON
type eventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ipcResponse represents the daemon's response
type ipcResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	State  json.RawMessage `json:"state,omitempty"`
}

func main() {
	socketPath := pflag.StringP("socket", "s", "/tmp/chordcontroller.sock", "Unix domain socket path")
	device := pflag.IntP("device", "d", 0, "Device number attached to input events")
	hatIndex := pflag.Int("hat", 0, "Hat index for the hat command")
	pflag.Usage = printUsage
	pflag.Parse()

	args := pflag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var lines [][]byte
	var err error

	switch args[0] {
	case "press", "down":
		lines, err = buttonLines(args, *device, "button_down")

	case "release", "up":
		lines, err = buttonLines(args, *device, "button_up")

	case "tap":
		var down, up [][]byte
		if down, err = buttonLines(args, *device, "button_down"); err == nil {
			up, err = buttonLines(args, *device, "button_up")
		}
		lines = append(down, up...)

	case "hat":
		if len(args) < 3 {
			fail("hat requires x and y (-1, 0 or 1)")
		}
		x, y := mustInt(args[1]), mustInt(args[2])
		var line []byte
		line, err = envelopeLine("hat_motion", hatEvent{Device: *device, Hat: *hatIndex, Vector: [2]int{x, y}})
		lines = append(lines, line)

	case "axis":
		if len(args) < 3 {
			fail("axis requires an axis index and a value in [-1,1]")
		}
		v, perr := strconv.ParseFloat(args[2], 64)
		if perr != nil {
			fail(fmt.Sprintf("invalid axis value: %v", perr))
		}
		var line []byte
		line, err = envelopeLine("axis_motion", axisEvent{Device: *device, Axis: mustInt(args[1]), Value: v})
		lines = append(lines, line)

	case "select":
		if len(args) < 2 {
			fail("select requires a device number (-1 unbinds)")
		}
		var line []byte
		line, err = envelopeLine("select_device", selectDevice{Device: mustInt(args[1])})
		lines = append(lines, line)

	case "state":
		var line []byte
		line, err = json.Marshal(eventEnvelope{Type: "get_state"})
		lines = append(lines, line)

	case "help":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fail(err.Error())
	}

	resps, err := send(*socketPath, lines)
	if err != nil {
		fail(err.Error())
	}

	for _, r := range resps {
		if len(r.State) > 0 {
			var pretty map[string]any
			if err := json.Unmarshal(r.State, &pretty); err == nil {
				out, _ := json.MarshalIndent(pretty, "", "  ")
				fmt.Println(string(out))
				return
			}
			fmt.Println(string(r.State))
			return
		}
	}
	fmt.Println("ok")
}

func buttonLines(args []string, device int, typ string) ([][]byte, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("%s requires at least one button index", args[0])
	}
	var out [][]byte
	for _, a := range args[1:] {
		line, err := envelopeLine(typ, buttonEvent{Device: device, Button: mustInt(a)})
		if err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, nil
}

func envelopeLine(typ string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", typ, err)
	}
	return json.Marshal(eventEnvelope{Type: typ, Data: data})
}

// send writes each line over one connection and reads one response per line.
func send(socketPath string, lines [][]byte) ([]ipcResponse, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	decoder := json.NewDecoder(conn)
	out := make([]ipcResponse, 0, len(lines))
	for _, line := range lines {
		if _, err := fmt.Fprintf(conn, "%s\n", strings.TrimSpace(string(line))); err != nil {
			return nil, fmt.Errorf("send event: %w", err)
		}

		var resp ipcResponse
		if err := decoder.Decode(&resp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if resp.Status == "error" {
			return nil, fmt.Errorf("daemon error: %s", resp.Error)
		}
		out = append(out, resp)
	}
	return out, nil
}

func mustInt(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		fail(fmt.Sprintf("invalid number %q", s))
	}
	return v
}

func fail(msg string) {
	fmt.Fprintf(os.Stderr, "error: %s\n", msg)
	os.Exit(1)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `chordctl - Control the chordcontroller daemon via IPC

Usage:
  chordctl [options] <command> [args]

Options:
  -s, --socket PATH   Unix domain socket path (default: /tmp/chordcontroller.sock)
  -d, --device N      Device number attached to input events (default: 0)
      --hat N         Hat index for the hat command (default: 0)

Commands:
  press, down <button>...     Press buttons
  release, up <button>...     Release buttons
  tap <button>...             Press then release buttons
  hat <x> <y>                 Move a hat (-1, 0 or 1; y=1 is up)
  axis <axis> <value>         Move an axis to a raw value in [-1,1]
  select <device>             Bind a controller (-1 binds on next press)
  state                       Print the daemon state
  help                        Show this help message

Examples:
  chordctl hat 0 1 && chordctl hat 0 0
  chordctl press 0
  chordctl -s /run/chordcontroller.sock state
`)
}
