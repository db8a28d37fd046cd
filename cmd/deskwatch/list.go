package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/deskwatch/deskwatch/internal/backend"
	"github.com/deskwatch/deskwatch/internal/config"
	"github.com/deskwatch/deskwatch/internal/logging"
)

// maxListPages bounds -list-alerts against a server that never stops paging.
const maxListPages = 20

// printAlerts logs in, writes every alert page as a table and logs out.
func printAlerts(ctx context.Context, cfg *config.Config, w io.Writer) error {
	client := backend.NewClient(cfg.APIBaseURL, nil)
	if _, err := client.Login(ctx, cfg.Username, cfg.Password); err != nil {
		return err
	}
	defer func() {
		if err := client.Logout(ctx); err != nil {
			logging.Get().Warn().Err(err).Msg("logout failed")
		}
	}()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tLABEL\tGUEST\tREAD\tCONTENT")
	page := 1
	for i := 0; i < maxListPages && page > 0; i++ {
		res, err := client.ListAlerts(ctx, page)
		if err != nil {
			return err
		}
		for _, a := range res.Alerts {
			label := ""
			if a.Notification != nil {
				label = a.Notification.Label
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\t%s\n",
				a.ID, a.CreatedAt.Format("2006-01-02 15:04"), label, a.GuestID, a.Read, oneLine(a.Content))
		}
		if res.NextPage <= page {
			break
		}
		page = res.NextPage
	}
	return tw.Flush()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
