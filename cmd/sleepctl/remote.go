package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wisefido-sleep/internal/analyzer"
	"wisefido-sleep/internal/client"
	"wisefido-sleep/internal/models"
	"wisefido-sleep/internal/repository"
	"wisefido-sleep/owl-common/database"
)

func newSyncCmd(a *app) *cobra.Command {
	var (
		source string
		userID string
		from   string
		to     string
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch a sleep document from the health store and analyze it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, err := models.ParseSourceKind(source)
			if err != nil {
				return err
			}
			loc := a.cfg.Location()
			start, err := time.ParseInLocation(models.DateLayout, from, loc)
			if err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			end, err := time.ParseInLocation(models.DateLayout, to, loc)
			if err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}
			// --to 当天整天
			end = end.AddDate(0, 0, 1).Add(-time.Second)

			hs := client.NewHealthStoreClient(a.cfg.HealthStore.BaseURL, a.cfg.HealthStore.AppID, a.cfg.HealthStore.SecretKey, a.logger)
			doc, err := hs.FetchSleep(cmd.Context(), kind, userID, start, end)
			if err != nil {
				return err
			}

			payload := models.RawPayload{Channel: models.ChannelDocument, Data: doc}
			session, skipped, err := a.analyzer.Analyze(kind, []models.RawPayload{payload}, models.SessionMetadata{DeviceID: userID})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), newAnalyzeResult(session, skipped))
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "health store source (samsung_health, apple_health, manual_import)")
	cmd.Flags().StringVar(&userID, "user", "", "health store user id")
	cmd.Flags().StringVar(&from, "from", "", "first night (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last night (YYYY-MM-DD)")
	for _, name := range []string{"source", "user", "from", "to"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newReplayCmd(a *app) *cobra.Command {
	var (
		sessionID string
		save      bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-analyze the archived raw payloads of a stored session",
		Long: "Re-analyze the archived raw payloads of a stored session with the current\n" +
			"normalization tables. With --save the result is stored as a new session.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := database.NewPostgresDB(ctx, &a.cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			repo := repository.NewPostgresSessionRepository(db, a.logger)
			result, err := replay(ctx, repo, a.analyzer, a.logger, sessionID, save)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "stored session id")
	cmd.Flags().BoolVar(&save, "save", false, "store the re-analyzed session")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

// replay 读取会话归档的原始载荷并重新分析；原会话保持不变
func replay(
	ctx context.Context,
	repo repository.SessionRepository,
	an *analyzer.Analyzer,
	logger *zap.Logger,
	sessionID string,
	save bool,
) (analyzeResult, error) {
	original, err := repo.GetSession(ctx, sessionID)
	if err != nil {
		return analyzeResult{}, err
	}
	payloads, err := repo.ListRawPayloads(ctx, sessionID)
	if err != nil {
		return analyzeResult{}, err
	}
	if len(payloads) == 0 {
		return analyzeResult{}, fmt.Errorf("session %s has no archived payloads", sessionID)
	}

	meta := models.SessionMetadata{
		DeviceID:         original.DeviceID,
		TenantID:         original.TenantID,
		TimeInBedMinutes: &original.TimeInBedMinutes,
		Awakenings:       &original.Awakenings,
	}
	session, skipped, err := an.Analyze(original.Source, payloads, meta)
	if err != nil {
		return analyzeResult{}, err
	}

	if save && session != nil {
		if err := repo.SaveSessionWithPayloads(ctx, session, payloads); err != nil {
			return analyzeResult{}, err
		}
		logger.Info("Replayed session stored",
			zap.String("original_session_id", sessionID),
			zap.String("session_id", session.ID),
		)
	}
	return newAnalyzeResult(session, skipped), nil
}
