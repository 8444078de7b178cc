package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/urfave/cli/v2"
)

// statusCmd renders a live terminal dashboard of a running node's cells by
// polling its /status endpoint (internal/handler/http.Handler.Status) —
// observability tooling, not part of the client protocol itself.
func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Watch a running node's cell generations and values live",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "the node's client-protocol HTTP address",
				Value: "http://localhost:8080",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "poll interval",
				Value: time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			return runStatusDashboard(c.String("addr"), c.Duration("interval"))
		},
	}
}

type statusRow struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Value     any    `json:"value,omitempty"`
	Iteration uint64 `json:"iteration"`
}

func fetchStatus(addr string) ([]statusRow, error) {
	resp, err := http.Get(addr + "/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status: node replied %s", resp.Status)
	}
	var rows []statusRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func runStatusDashboard(addr string, interval time.Duration) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("status: termui init: %w", err)
	}
	defer ui.Close()

	table := widgets.NewTable()
	table.Title = "cells: " + addr
	table.Rows = [][]string{{"name", "kind", "value", "iteration"}}
	table.SetRect(0, 0, 72, 20)
	table.TextStyle = ui.NewStyle(ui.ColorWhite)
	table.RowSeparator = true

	render := func() {
		rows, err := fetchStatus(addr)
		if err != nil {
			table.Rows = [][]string{{"name", "kind", "value", "iteration"}, {"error", err.Error(), "", ""}}
			ui.Render(table)
			return
		}
		out := make([][]string, 0, len(rows)+1)
		out = append(out, []string{"name", "kind", "value", "iteration"})
		for _, row := range rows {
			out = append(out, []string{row.Name, row.Kind, fmt.Sprintf("%v", row.Value), fmt.Sprintf("%d", row.Iteration)})
		}
		table.Rows = out
		ui.Render(table)
	}

	render()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	events := ui.PollEvents()
	for {
		select {
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			}
		case <-ticker.C:
			render()
		}
	}
}
