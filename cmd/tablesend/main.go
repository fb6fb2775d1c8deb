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

// Command tablesend announces a table reference, a row highlight or a row
// selection to a running hub. It demonstrates the sending side of the
// table-exchange vocabulary.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/markoxley/altair/client"
	"github.com/markoxley/altair/table"
)

func main() {
	var (
		name   string
		url    string
		target string
		row    int
		rows   string
	)

	app := &cli.Command{
		Name:      "tablesend",
		Usage:     "Send table-exchange messages through an Altair hub",
		UsageText: "tablesend --url file:///tmp/t.fits [--name t.fits] [--row 7 | --rows 1,2,3]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "name",
				Usage:       "table display name",
				Destination: &name,
			},
			&cli.StringFlag{
				Name:        "url",
				Usage:       "table location, sent by reference",
				Required:    true,
				Destination: &url,
			},
			&cli.StringFlag{
				Name:        "target",
				Usage:       "recipient client id or declared name, empty broadcasts",
				Destination: &target,
			},
			&cli.IntFlag{
				Name:        "row",
				Usage:       "row index to highlight instead of announcing the table",
				Value:       -1,
				Destination: &row,
			},
			&cli.StringFlag{
				Name:        "rows",
				Usage:       "comma-separated row indices to select instead of announcing the table",
				Destination: &rows,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			s, err := client.Connect(ctx, client.Config{Name: "tablesend"})
			if err != nil {
				return err
			}
			defer s.Disconnect(ctx)

			if target != "" {
				if id, err := s.FindByName(ctx, target); err == nil {
					target = id
				}
			}

			switch {
			case rows != "":
				list, err := parseRows(rows)
				if err != nil {
					return err
				}
				return table.SendRows(ctx, s, target, url, list)
			case row >= 0:
				return table.SendRow(ctx, s, target, url, row)
			default:
				if name == "" {
					name = url
				}
				return table.SendTable(ctx, s, target, name, name, url)
			}
		},
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Error().Err(err).Msg("tablesend failed")
		os.Exit(1)
	}
}

func parseRows(csv string) ([]int, error) {
	parts := strings.Split(csv, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("bad row index %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}
