package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.pilab.hu/linksync/domain"
	"go.pilab.hu/linksync/services"
)

var mergeUserID string

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge all agencies of one user and print the result as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := newApp(ctx, appConfig, appLogger, nil)
		if err != nil {
			return err
		}
		defer a.close(ctx)
		a.start()

		return runMerge(ctx, a.agencyMerge, mergeUserID, cmd.OutOrStdout())
	},
}

// mergeOutput is the JSON document printed by the merge command.
type mergeOutput struct {
	Merged  bool                        `json:"merged"`
	Result  *services.AgencyMergeResult `json:"result,omitempty"`
	Warning string                      `json:"warning,omitempty"`
}

func runMerge(ctx context.Context, merger *services.AgencyMergeService, userID string, out io.Writer) error {
	if userID == "" {
		return errors.New("--user-id is required")
	}

	res, err := merger.MergeByUserID(ctx, userID)
	output := mergeOutput{Merged: res != nil, Result: res}

	var partial *domain.PartialCascadeError
	switch {
	case errors.As(err, &partial):
		output.Warning = partial.Error()
	case err != nil:
		return fmt.Errorf("merge agencies of user %s: %w", userID, err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(output); err != nil {
		return err
	}
	if partial != nil {
		return fmt.Errorf("agencies of user %s merged into %s, link merge incomplete: %w", userID, partial.MergedAgencyID, err)
	}
	return nil
}

func init() {
	mergeCmd.Flags().StringVar(&mergeUserID, "user-id", "", "user whose agencies are merged")
}
