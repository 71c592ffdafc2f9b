package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/kilianp07/mutorelay/core/model"
	"github.com/kilianp07/mutorelay/core/protocol"
)

var driveOpts struct {
	url   string
	token string
	left  float64
	right float64
	say   string
	beep  bool
	wait  time.Duration
}

var driveCmd = &cobra.Command{
	Use:   "drive",
	Short: "Send one command to a running relay as a client",
	Example: `  mutorelay drive --left 80 --right 40
  mutorelay drive --say hello
  mutorelay drive --beep`,
	RunE: drive,
}

func init() {
	f := driveCmd.Flags()
	f.StringVar(&driveOpts.url, "url", "ws://localhost:5000/ws", "relay WebSocket URL")
	f.StringVar(&driveOpts.token, "token", "", "access token")
	f.Float64Var(&driveOpts.left, "left", 0, "left side power")
	f.Float64Var(&driveOpts.right, "right", 0, "right side power")
	f.StringVar(&driveOpts.say, "say", "", "send a chat message instead of a motor command")
	f.BoolVar(&driveOpts.beep, "beep", false, "sound the buzzer briefly instead of a motor command")
	f.DurationVar(&driveOpts.wait, "wait", 500*time.Millisecond, "how long to wait for replies")
	rootCmd.AddCommand(driveCmd)
}

func driveFrames() [][]byte {
	enc := func(event string, data any) []byte {
		b, _ := protocol.Encode(event, data)
		return b
	}
	switch {
	case driveOpts.say != "":
		return [][]byte{enc(protocol.EventMessage, driveOpts.say)}
	case driveOpts.beep:
		return [][]byte{
			enc(protocol.EventBeep, model.BeepCommand{On: true}),
			enc(protocol.EventBeep, model.BeepCommand{On: false}),
		}
	default:
		cmd := model.MotorCommand{LeftPower: driveOpts.left, RightPower: driveOpts.right}
		return [][]byte{enc(protocol.EventMuto, cmd)}
	}
}

func drive(cmd *cobra.Command, _ []string) error {
	u, err := url.Parse(driveOpts.url)
	if err != nil {
		return fmt.Errorf("relay url: %w", err)
	}
	if driveOpts.token != "" {
		q := u.Query()
		q.Set("token", driveOpts.token)
		u.RawQuery = q.Encode()
	}
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return errors.New("relay rejected the token")
		}
		return fmt.Errorf("dial %s: %w", driveOpts.url, err)
	}
	defer conn.Close()

	for i, f := range driveFrames() {
		if i > 0 {
			time.Sleep(200 * time.Millisecond)
		}
		if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}
	return printReplies(cmd.OutOrStdout(), conn, driveOpts.wait)
}

// printReplies prints frames until the wait elapses. An error frame fails
// the command.
func printReplies(w io.Writer, conn *websocket.Conn, wait time.Duration) error {
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ne interface{ Timeout() bool }
			if errors.As(err, &ne) && ne.Timeout() {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		fmt.Fprintln(w, string(data))
		var env protocol.Envelope
		if json.Unmarshal(data, &env) == nil && env.Event == protocol.EventError {
			var p protocol.ErrorPayload
			_ = json.Unmarshal(env.Data, &p)
			return fmt.Errorf("relay error %s: %s", p.Code, p.Message)
		}
	}
}
