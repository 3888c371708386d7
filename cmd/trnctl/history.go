package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/trn-registry-api/internal/repository"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the event and audit trail of a record",
}

var historyPerson string

var historyEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List person events in append order",
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := repository.NewPersonEventRepository(db).ListByPerson(cmd.Context(), historyPerson)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CREATED\tEVENT\tPUBLISHED\tPAYLOAD")
		for _, e := range events {
			published := "pending"
			if e.PublishedAt != nil {
				published = e.PublishedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.CreatedAt.UTC().Format(time.RFC3339), e.EventName, published, e.Payload)
		}
		return w.Flush()
	},
}

var (
	auditResource string
	auditID       string
	auditLimit    int
)

var historyAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List audit entries for a resource",
	RunE: func(cmd *cobra.Command, args []string) error {
		logs, err := repository.NewAuditRepository(db).ListByResource(cmd.Context(), auditResource, auditID, auditLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CREATED\tACTION\tUSER\tCHANGES")
		for _, l := range logs {
			user := "-"
			if l.UserID != nil {
				user = *l.UserID
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", l.CreatedAt.UTC().Format(time.RFC3339), l.Action, user, l.NewValues)
		}
		return w.Flush()
	},
}

func init() {
	historyEventsCmd.Flags().StringVar(&historyPerson, "person", "", "person id")
	_ = historyEventsCmd.MarkFlagRequired("person")

	historyAuditCmd.Flags().StringVar(&auditResource, "resource", "person", "audited resource kind")
	historyAuditCmd.Flags().StringVar(&auditID, "id", "", "resource id")
	historyAuditCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum entries")
	_ = historyAuditCmd.MarkFlagRequired("id")

	historyCmd.AddCommand(historyEventsCmd, historyAuditCmd)
}
