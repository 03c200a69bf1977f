package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/PiotrWarzachowski/mqttcore/core"
)

var subscribeCommand = &cli.Command{
	Name:  "subscribe",
	Usage: "subscribe to a topic and print every message received until interrupted",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "topic", Aliases: []string{"t"}, Required: true},
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

		subAckCh := make(chan core.SubscribeEvent, 1)
		h.onSubscribe = func(e core.SubscribeEvent) {
			select {
			case subAckCh <- e:
			default:
			}
		}
		h.onPublishRecv = func(e core.PublishRecvEvent) {
			fmt.Printf("[%s] qos=%d dup=%v: %s\n", e.Topic, e.QoS, e.Dup, string(e.Payload))
		}

		topic := cmd.String("topic")
		if err := c.Subscribe(topic, b.qos, nil); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}

		select {
		case e := <-subAckCh:
			if e.Result != core.ResultSuccess {
				return fmt.Errorf("broker rejected the subscription")
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		fmt.Printf("subscribed to %q, waiting for messages (ctrl-c to stop)...\n", topic)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
		case <-ctx.Done():
		}
		return nil
	},
}
