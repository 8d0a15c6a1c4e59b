// Package main provides ldsbridge-cli, the command line client of
// ldsbridged.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli"

	"github.com/juiceswap/lds-bridge/internal/rpc"
)

var version = "0.1.0-dev"

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[ldsbridge-cli] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()

	app.Version = version
	app.Name = "ldsbridge-cli"
	app.Usage = "control plane for your ldsbridged"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: "127.0.0.1:9650",
			Usage: "ldsbridged daemon address host:port",
		},
	}
	app.Commands = []cli.Command{
		startCommand, statusCommand, listCommand, limitsCommand,
		refundCommand, popupsCommand, watchCommand, seedCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

// client is a JSON-RPC client of the daemon.
type client struct {
	url  string
	http *http.Client
}

func getClient(ctx *cli.Context) *client {
	return &client{
		url:  "http://" + ctx.GlobalString("rpcserver"),
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *client) call(method string, params, out interface{}) error {
	req := rpc.Request{
		JSONRPC: "2.0",
		Method:  method,
		ID:      uuid.NewString(),
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return err
		}
		req.Params = raw
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	resp, err := c.http.Post(c.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("unable to reach ldsbridged: %w", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpc.Error      `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("unable to decode response: %w", err)
	}
	if envelope.Error != nil {
		if envelope.Error.Data != nil {
			return fmt.Errorf("%s (%d): %v", envelope.Error.Message, envelope.Error.Code, envelope.Error.Data)
		}
		return fmt.Errorf("%s (%d)", envelope.Error.Message, envelope.Error.Code)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(envelope.Result, out)
}

// callAndPrint runs method and prints its result as indented JSON.
func (c *client) callAndPrint(method string, params interface{}) error {
	var result json.RawMessage
	if err := c.call(method, params, &result); err != nil {
		return err
	}
	printJSON(result)
	return nil
}

func printJSON(raw json.RawMessage) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "    "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(buf.String())
}
