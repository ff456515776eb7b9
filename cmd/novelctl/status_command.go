package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"novel-workflow/internal/blob"
	"novel-workflow/internal/status"
	"novel-workflow/shared/database"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var (
		userID string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "status <requestId>",
		Short: "Show the aggregated status of a generation request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			requestID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("requestId must be a valid UUID: %w", err)
			}
			pool, err := ctx.postgres(cmd.Context())
			if err != nil {
				return err
			}
			blobs, err := blob.NewFileStore(ctx.config.BlobPath, ctx.config.BlobPublicBaseURL, ctx.logger)
			if err != nil {
				return err
			}
			aggregator := status.NewAggregator(
				database.NewPgGenerationRequestRepository(pool, ctx.logger),
				database.NewPgStoryRepository(pool, ctx.logger),
				database.NewPgEpisodeRepository(pool, ctx.logger),
				blobs,
				ctx.logger,
			)
			st, err := aggregator.GetStatus(cmd.Context(), userID, requestID)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStatus(st))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Owner of the request")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the status as JSON")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func renderStatus(st *status.RequestStatus) string {
	rows := [][]string{
		{"Request", st.RequestID.String()},
		{"Type", string(st.Type)},
		{"Status", string(st.Status)},
	}
	if st.WorkflowID != nil {
		rows = append(rows, []string{"Workflow", st.WorkflowID.String()})
	}
	if st.RelatedEntityID != nil {
		rows = append(rows, []string{"Related", *st.RelatedEntityID})
	}
	if st.ErrorMessage != nil {
		rows = append(rows, []string{"Error", *st.ErrorMessage})
	}
	if p := st.Progress; p != nil {
		rows = append(rows,
			[]string{"Step", p.CurrentStep},
			[]string{"Progress", strconv.Itoa(p.StepNumber) + "/" + strconv.Itoa(p.TotalSteps)},
		)
		if p.DownloadURL != "" {
			rows = append(rows, []string{"Download", p.DownloadURL})
		}
	}
	rows = append(rows, []string{"Updated", st.UpdatedAt.UTC().Format("2006-01-02 15:04:05")})
	return renderTable([]string{"Field", "Value"}, rows, nil)
}
