package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/PiotrWarzachowski/mqttcore/core"
)

var benchCommand = &cli.Command{
	Name:  "bench",
	Usage: "publish N messages back-to-back and report throughput with a progress bar",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "topic", Aliases: []string{"t"}, Required: true},
		&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 1000, Usage: "number of messages to publish"},
		&cli.IntFlag{Name: "size", Value: 64, Usage: "payload size in bytes"},
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

		count := int(cmd.Int("count"))
		payload := make([]byte, cmd.Int("size"))

		progress := mpb.New(mpb.WithWidth(60))
		bar := progress.AddBar(int64(count),
			mpb.PrependDecorators(
				decor.Name("publishing ", decor.WCSyncSpaceR),
				decor.CountersNoUnit("%d / %d", decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "done"),
			),
		)

		// The request table holds at most core.DefaultRequestCapacity
		// in-flight requests; publishing the whole batch up front would
		// exhaust it and turn every later Publish into ErrNoMem. Keep a
		// bounded pipeline instead, releasing a slot as each ack arrives.
		const windowSize = core.DefaultRequestCapacity / 2
		inFlight := make(chan struct{}, windowSize)
		ackCh := make(chan core.PublishEvent, count)
		h.onPublish = func(e core.PublishEvent) {
			ackCh <- e
			<-inFlight
		}

		topic := cmd.String("topic")
		start := time.Now()
		go func() {
			for i := 0; i < count; i++ {
				select {
				case inFlight <- struct{}{}:
				case <-ctx.Done():
					return
				}
				if err := c.Publish(topic, payload, b.qos, false, nil); err != nil {
					ackCh <- core.PublishEvent{Result: core.ResultError}
					<-inFlight
				}
			}
		}()

		failures := 0
		for i := 0; i < count; i++ {
			select {
			case e := <-ackCh:
				if e.Result != core.ResultSuccess {
					failures++
				}
				bar.Increment()
			case <-ctx.Done():
				progress.Wait()
				return ctx.Err()
			}
		}
		progress.Wait()

		elapsed := time.Since(start)
		fmt.Printf("published %d messages (%d failed) in %s (%.1f msg/s)\n",
			count, failures, elapsed, float64(count)/elapsed.Seconds())
		return nil
	},
}
