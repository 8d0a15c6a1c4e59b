package main

import (
	"strings"

	"github.com/urfave/cli"

	"github.com/juiceswap/lds-bridge/internal/bridge"
	"github.com/juiceswap/lds-bridge/internal/limits"
	"github.com/juiceswap/lds-bridge/internal/notify"
	"github.com/juiceswap/lds-bridge/internal/rpc"
	"github.com/juiceswap/lds-bridge/pkg/helpers"
)

var startCommand = cli.Command{
	Name:      "start",
	Usage:     "start a bridge swap",
	ArgsUsage: "kind from to amount",
	Description: "Starts a swap flow on the daemon. kind is one of " +
		"submarine, reverse, chain_forward, chain_reverse, erc20_chain. " +
		"The amount is in sats, or in BTC when it has a decimal point.",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "destination",
			Usage: "invoice, lightning address or bitcoin address to pay",
		},
		cli.StringFlag{
			Name:  "account",
			Usage: "EVM account that locks funds (default: daemon wallet)",
		},
		cli.StringFlag{
			Name:  "claim_address",
			Usage: "EVM address that receives funds (default: account)",
		},
	},
	Action: start,
}

func start(ctx *cli.Context) error {
	if ctx.NArg() != 4 {
		return cli.ShowCommandHelp(ctx, "start")
	}
	args := ctx.Args()

	amount, err := parseAmount(args.Get(3))
	if err != nil {
		return err
	}

	params := bridge.Params{
		Kind:         bridge.Kind(args.Get(0)),
		From:         args.Get(1),
		To:           args.Get(2),
		Amount:       amount,
		Destination:  ctx.String("destination"),
		Account:      ctx.String("account"),
		ClaimAddress: ctx.String("claim_address"),
	}
	// Catch mistakes before they reach the daemon.
	if _, err := bridge.NewDirection(params); err != nil {
		return err
	}

	return getClient(ctx).callAndPrint("bridge_start", params)
}

// parseAmount reads "25000" as sats and "0.00025" as BTC.
func parseAmount(s string) (uint64, error) {
	if strings.Contains(s, ".") {
		return helpers.BTCToSatoshis(s)
	}
	return helpers.ParseAmount(s, 0)
}

var statusCommand = cli.Command{
	Name:        "status",
	Usage:       "show the status of a swap",
	ArgsUsage:   "id",
	Description: "Shows a running or stored swap by flow id or swap service id.",
	Action:      swapStatus,
}

func swapStatus(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "status")
	}
	return getClient(ctx).callAndPrint("bridge_status", rpc.SwapIDParams{ID: ctx.Args().First()})
}

var listCommand = cli.Command{
	Name:  "list",
	Usage: "list swaps",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "history",
			Usage: "list stored swaps instead of the flows of this run",
		},
		cli.IntFlag{
			Name:  "limit",
			Usage: "maximum number of stored swaps",
			Value: 50,
		},
	},
	Action: listSwaps,
}

func listSwaps(ctx *cli.Context) error {
	return getClient(ctx).callAndPrint("bridge_list", rpc.ListParams{
		History: ctx.Bool("history"),
		Limit:   ctx.Int("limit"),
	})
}

var limitsCommand = cli.Command{
	Name:      "limits",
	Usage:     "show the amount bounds of a pair",
	ArgsUsage: "from to",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "side",
			Usage: "paying or receiving",
			Value: string(limits.Paying),
		},
	},
	Action: pairLimits,
}

func pairLimits(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.ShowCommandHelp(ctx, "limits")
	}
	return getClient(ctx).callAndPrint("bridge_limits", rpc.LimitsParams{
		From: ctx.Args().Get(0),
		To:   ctx.Args().Get(1),
		Side: limits.Side(ctx.String("side")),
	})
}

var refundCommand = cli.Command{
	Name:      "refund",
	Usage:     "refund the lockup of a swap after its timeout",
	ArgsUsage: "id",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "destination",
			Usage: "bitcoin address for bitcoin lockups",
		},
	},
	Action: refund,
}

func refund(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "refund")
	}
	return getClient(ctx).callAndPrint("bridge_refund", rpc.RefundParams{
		ID:          ctx.Args().First(),
		Destination: ctx.String("destination"),
	})
}

var popupsCommand = cli.Command{
	Name:  "popups",
	Usage: "list swap notifications",
	Subcommands: []cli.Command{
		{
			Name:      "dismiss",
			Usage:     "dismiss the notification of a swap",
			ArgsUsage: "swap_id",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "status",
					Usage: "pending, completed or failed",
					Value: "pending",
				},
			},
			Action: dismissPopup,
		},
	},
	Action: listPopups,
}

func listPopups(ctx *cli.Context) error {
	return getClient(ctx).callAndPrint("popups_list", nil)
}

func dismissPopup(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "dismiss")
	}
	return getClient(ctx).callAndPrint("popups_dismiss", rpc.DismissParams{
		SwapID: ctx.Args().First(),
		Status: notify.Status(ctx.String("status")),
	})
}
