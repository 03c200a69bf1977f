package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

var connectCommand = &cli.Command{
	Name:  "connect",
	Usage: "dial a broker, wait for CONNACK, then disconnect",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		b, err := resolveBrokerArgs(cmd)
		if err != nil {
			return err
		}
		info, err := resolveClientInfo(cmd, b)
		if err != nil {
			return err
		}

		fmt.Printf("connecting to %s:%d as %q...\n", b.host, b.port, info.ClientID)
		c, _, err := dialBlocking(ctx, b.host, b.port, info, defaultDialTimeout, resolveRequestTimeout(cmd))
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		fmt.Println("connected")

		return c.Disconnect()
	},
}
