// Package main 睡眠分析运维命令行
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wisefido-sleep/internal/analyzer"
	"wisefido-sleep/internal/config"
	"wisefido-sleep/internal/metrics"
	"wisefido-sleep/internal/models"
	"wisefido-sleep/internal/service"
	"wisefido-sleep/owl-common/logger"
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app 子命令共享的配置、日志与分析器
type app struct {
	logLevel string
	cfg      *config.Config
	logger   *zap.Logger
	analyzer *analyzer.Analyzer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "sleepctl",
		Short:         "Decode and analyze sleep telemetry",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(newDecodeCmd(a))
	rootCmd.AddCommand(newAnalyzeCmd(a))
	rootCmd.AddCommand(newSyncCmd(a))
	rootCmd.AddCommand(newAggregateCmd(a))
	rootCmd.AddCommand(newReplayCmd(a))

	return rootCmd
}

func (a *app) init() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	// console 格式写 stderr，stdout 只输出 JSON
	zapLogger, err := logger.NewLogger(a.logLevel, "console", "sleepctl")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	an, err := service.NewAnalyzer(cfg, zapLogger)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = zapLogger
	a.analyzer = an
	return nil
}

func newDecodeCmd(a *app) *cobra.Command {
	var (
		source     string
		channel    string
		file       string
		receivedAt string
	)
	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode one raw payload and print the source-native batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, err := models.ParseSourceKind(source)
			if err != nil {
				return err
			}
			payload, err := readPayload(models.Channel(channel), file)
			if err != nil {
				return err
			}
			if receivedAt != "" {
				t, err := time.Parse(time.RFC3339, receivedAt)
				if err != nil {
					return fmt.Errorf("invalid --received-at: %w", err)
				}
				payload.ReceivedAt = t
			}
			batch, err := a.analyzer.Decode(kind, payload)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), batch)
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source kind (ble_band, ble_ring, samsung_health, apple_health, manual_import)")
	cmd.Flags().StringVar(&channel, "channel", string(models.ChannelDocument), "payload channel (phases, heart_rate, motion, document)")
	cmd.Flags().StringVar(&file, "file", "", "payload file")
	cmd.Flags().StringVar(&receivedAt, "received-at", "", "notification arrival time (RFC3339), BLE samples only")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// analyzeResult analyze / sync / replay 的输出
type analyzeResult struct {
	Session *models.SleepSession   `json:"session"`
	Summary *models.SessionSummary `json:"summary,omitempty"`
	Skipped []string               `json:"skipped,omitempty"`
}

func newAnalyzeResult(session *models.SleepSession, skipped []analyzer.PayloadError) analyzeResult {
	out := analyzeResult{Session: session}
	if session != nil {
		summary := metrics.Summarize(session)
		out.Summary = &summary
	}
	for _, e := range skipped {
		out.Skipped = append(out.Skipped, e.Error())
	}
	return out
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		source     string
		files      []string
		deviceID   string
		timeInBed  int
		awakenings int
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze payload files into a scored session",
		Long: "Analyze payload files into a scored session.\n\n" +
			"Each --file is [channel:]path. BLE sources need a channel prefix " +
			"(phases:night.bin); structured sources default to document.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, err := models.ParseSourceKind(source)
			if err != nil {
				return err
			}

			payloads := make([]models.RawPayload, 0, len(files))
			for _, arg := range files {
				channel, path := splitFileArg(arg, kind)
				payload, err := readPayload(channel, path)
				if err != nil {
					return err
				}
				payloads = append(payloads, payload)
			}

			meta := models.SessionMetadata{DeviceID: deviceID}
			if cmd.Flags().Changed("time-in-bed") {
				meta.TimeInBedMinutes = &timeInBed
			}
			if cmd.Flags().Changed("awakenings") {
				meta.Awakenings = &awakenings
			}

			session, skipped, err := a.analyzer.Analyze(kind, payloads, meta)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), newAnalyzeResult(session, skipped))
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source kind")
	cmd.Flags().StringArrayVar(&files, "file", nil, "payload file as [channel:]path (repeatable)")
	cmd.Flags().StringVar(&deviceID, "device", "", "device id recorded on the session")
	cmd.Flags().IntVar(&timeInBed, "time-in-bed", 0, "time in bed in minutes")
	cmd.Flags().IntVar(&awakenings, "awakenings", 0, "awakening count")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newAggregateCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Compute efficiency, average quality and weekday/weekend averages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read sessions: %w", err)
			}
			var sessions []*models.SleepSession
			if err := json.Unmarshal(data, &sessions); err != nil {
				return fmt.Errorf("failed to parse sessions: %w", err)
			}
			a.logger.Debug("Aggregating sessions", zap.Int("count", len(sessions)))
			return writeJSON(cmd.OutOrStdout(), analyzer.Aggregate(sessions))
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON array of sessions")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// splitFileArg 拆分 [channel:]path；前缀不是已知通道时整体视为路径
func splitFileArg(arg string, source models.SourceKind) (models.Channel, string) {
	if prefix, path, ok := strings.Cut(arg, ":"); ok {
		switch ch := models.Channel(prefix); ch {
		case models.ChannelPhases, models.ChannelHeartRate, models.ChannelMotion, models.ChannelDocument:
			return ch, path
		}
	}
	if source.IsBLE() {
		return models.ChannelPhases, arg
	}
	return models.ChannelDocument, arg
}

func readPayload(channel models.Channel, path string) (models.RawPayload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.RawPayload{}, fmt.Errorf("failed to read payload: %w", err)
	}
	return models.RawPayload{Channel: channel, Data: data}, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
