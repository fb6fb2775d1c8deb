// MIT License
//
// Copyright (c) 2025 DaggerTech
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Command tablewatch connects to a running hub and logs every table
// announcement, row highlight and row selection it receives until
// interrupted. It demonstrates the receiving side of the table-exchange
// vocabulary.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/markoxley/altair/client"
	"github.com/markoxley/altair/lockfile"
	"github.com/markoxley/altair/table"
)

func main() {
	var (
		name string
		wait bool
	)

	app := &cli.Command{
		Name:      "tablewatch",
		Usage:     "Watch table-exchange traffic on an Altair hub",
		UsageText: "tablewatch [--name viewer] [--wait]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "name",
				Usage:       "display name to register under",
				Value:       "tablewatch",
				Destination: &name,
			},
			&cli.BoolFlag{
				Name:        "wait",
				Usage:       "wait for a hub lockfile to appear before connecting",
				Destination: &wait,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if wait {
				path, err := lockfile.Resolve()
				if err != nil {
					return err
				}
				log.Info().Str("path", path).Msg("waiting for hub lockfile")
				if _, err := lockfile.Await(runCtx, path); err != nil {
					return err
				}
			}

			s, err := client.Connect(runCtx, client.Config{Name: name})
			if err != nil {
				return err
			}
			defer s.Disconnect(context.Background())

			tr, err := table.Attach(runCtx, s)
			if err != nil {
				return err
			}
			log.Info().Str("id", s.ID()).Msg("watching, interrupt to stop")
			<-runCtx.Done()

			if row, ok := tr.CurrentRow(); ok {
				log.Info().Int("row", row).Msg("final highlighted row")
			}
			if list := tr.CurrentRowList(); len(list) > 0 {
				log.Info().Ints("rows", list).Msg("final row selection")
			}
			for _, info := range tr.Tables() {
				log.Info().Str("name", info.Name).Str("url", info.URL).Str("sender", info.SenderID).Msg("table seen")
			}
			return nil
		},
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Error().Err(err).Msg("tablewatch failed")
		os.Exit(1)
	}
}
