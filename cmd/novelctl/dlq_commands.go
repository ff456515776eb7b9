package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"novel-workflow/shared/messaging"
)

func newDLQCommand(ctx *commandContext) *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered pipeline events",
	}
	dlqCmd.AddCommand(newDLQListCommand(ctx))
	dlqCmd.AddCommand(newDLQReplayCommand(ctx))
	return dlqCmd
}

func newDLQListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list [route]",
		Short: "Show dead letters without removing them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			routes := knownRoutes()
			if len(args) == 1 {
				route, err := parseRoute(args[0])
				if err != nil {
					return err
				}
				routes = []string{route}
			}

			conn, err := ctx.rabbitMQ()
			if err != nil {
				return err
			}
			ch, err := conn.Channel()
			if err != nil {
				return fmt.Errorf("failed to open channel: %w", err)
			}
			defer ch.Close()

			var rows [][]string
			for _, route := range routes {
				letters, err := messaging.PeekDeadLetters(ch, route, limit)
				if err != nil {
					return err
				}
				for _, l := range letters {
					rows = append(rows, deadLetterRow(route, l))
				}
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No dead letters")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Route", "Message ID", "Detail Type", "Source", "Reason", "Deaths", "Published"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of dead letters per route")
	return cmd
}

func newDLQReplayCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "replay <route>",
		Short: "Publish dead letters of a route back to the event bus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			route, err := parseRoute(args[0])
			if err != nil {
				return err
			}
			conn, err := ctx.rabbitMQ()
			if err != nil {
				return err
			}
			publisher, err := messaging.NewRabbitMQEventPublisher(conn, messaging.PublisherConfig{
				AppID:          "novelctl",
				PublishTimeout: ctx.config.PublishTimeout,
				MaxAttempts:    ctx.config.PublishMaxAttempts,
			}, ctx.logger)
			if err != nil {
				return err
			}
			if closer, ok := publisher.(interface{ Close() error }); ok {
				defer closer.Close()
			}

			ch, err := conn.Channel()
			if err != nil {
				return fmt.Errorf("failed to open channel: %w", err)
			}
			defer ch.Close()

			replayed, err := messaging.ReplayDeadLetters(cmd.Context(), ch, route, limit, publisher, ctx.logger)
			fmt.Fprintf(cmd.OutOrStdout(), "Replayed %d dead letter(s) from %s\n", replayed, messaging.DeadLetterQueueName(route))
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of dead letters to replay")
	return cmd
}

func knownRoutes() []string {
	types := messaging.AllDetailTypes()
	routes := make([]string, 0, len(types))
	for _, dt := range types {
		routes = append(routes, dt.Route())
	}
	return routes
}

// parseRoute принимает routing key ("story.requested") или имя типа события.
func parseRoute(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	for _, dt := range messaging.AllDetailTypes() {
		if arg == dt.Route() || strings.EqualFold(arg, string(dt)) {
			return dt.Route(), nil
		}
	}
	return "", fmt.Errorf("unknown route %q, expected one of: %s", arg, strings.Join(knownRoutes(), ", "))
}

func deadLetterRow(route string, l messaging.DeadLetter) []string {
	published := "-"
	if !l.Timestamp.IsZero() {
		published = l.Timestamp.UTC().Format(time.RFC3339)
	}
	reason := l.Reason
	if reason == "" {
		reason = "-"
	}
	return []string{
		route,
		l.MessageID,
		string(l.DetailType),
		string(l.Source),
		reason,
		strconv.FormatInt(l.DeathCount, 10),
		published,
	}
}
