package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/urfave/cli/v3"

	"chat-relay/internal/models"
)

func newHistoryCmd(f *flags) *cli.Command {
	var limit int

	return &cli.Command{
		Name:      "history",
		Usage:     "print the stored message log",
		UsageText: "chat-relay history [--limit N]",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "limit",
				Aliases:     []string{"n"},
				Usage:       "show only the newest N messages (0 for all)",
				Destination: &limit,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			store, err := openStore(ctx, f.Config, log.Logger)
			if err != nil {
				return err
			}
			defer store.Close()

			messages, err := store.ListAll(ctx)
			if err != nil {
				return fmt.Errorf("list messages: %w", err)
			}
			if limit > 0 && len(messages) > limit {
				messages = messages[len(messages)-limit:]
			}

			renderHistory(c.Root().Writer, messages)
			return nil
		},
	}
}

func renderHistory(w io.Writer, messages []*models.Message) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Time", "User", "Content", "File", "ID"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	table.AppendBulk(lo.Map(messages, func(m *models.Message, _ int) []string {
		return []string{
			m.CreatedAt.Local().Format(time.DateTime),
			m.User,
			m.Content,
			lo.FromPtr(m.FileURL),
			m.ID.String(),
		}
	}))
	table.Render()
}
