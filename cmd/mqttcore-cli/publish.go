package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/PiotrWarzachowski/mqttcore/core"
)

var publishCommand = &cli.Command{
	Name:  "publish",
	Usage: "publish a single message and wait for its confirmation",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "topic", Aliases: []string{"t"}, Required: true},
		&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Required: true},
		&cli.BoolFlag{Name: "retain", Usage: "set the MQTT retain flag"},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		b, err := resolveBrokerArgs(cmd)
		if err != nil {
			return err
		}
		info, err := resolveClientInfo(cmd, b)
		if err != nil {
			return err
		}

		c, h, err := dialBlocking(ctx, b.host, b.port, info, defaultDialTimeout, resolveRequestTimeout(cmd))
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer c.Disconnect()

		resultCh := make(chan core.PublishEvent, 1)
		h.onPublish = func(e core.PublishEvent) {
			select {
			case resultCh <- e:
			default:
			}
		}

		topic := cmd.String("topic")
		payload := []byte(cmd.String("message"))
		if err := c.Publish(topic, payload, b.qos, cmd.Bool("retain"), nil); err != nil {
			return fmt.Errorf("publish: %w", err)
		}

		select {
		case e := <-resultCh:
			if e.Result != core.ResultSuccess {
				return fmt.Errorf("broker rejected the publish")
			}
			fmt.Printf("published %d bytes to %q at qos %d\n", len(payload), topic, b.qos)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	},
}
