package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/urfave/cli"

	"github.com/juiceswap/lds-bridge/internal/rpc"
)

var watchCommand = cli.Command{
	Name:  "watch",
	Usage: "stream swap events",
	Description: "Prints every event the daemon publishes until interrupted. " +
		"Pass event types to receive only those, e.g. swap_failed swap_completed.",
	ArgsUsage: "[event...]",
	Action:    watch,
}

func watch(ctx *cli.Context) error {
	url := "ws://" + ctx.GlobalString("rpcserver") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("unable to connect to %s: %w", url, err)
	}
	defer conn.Close()

	if ctx.NArg() > 0 {
		sub := rpc.WSSubscription{Action: "subscribe", Events: ctx.Args()}
		if err := conn.WriteJSON(sub); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "watching %s\n", strings.Join(ctx.Args(), ", "))
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) ||
				strings.Contains(err.Error(), "use of closed network connection") {
				return nil
			}
			return err
		}
		printJSON(msg)
	}
}
