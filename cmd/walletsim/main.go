package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/walletsim/internal/simulator"
	"github.com/MarkoPoloResearchLab/walletsim/pkg/wallet"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	flagListenAddr              = "listen-addr"
	flagPlayersDir              = "players-dir"
	flagCallbacksDir            = "callbacks-dir"
	flagHybridDir               = "hybrid-dir"
	flagAggregatorURL           = "aggregator-url"
	flagAggregatorTimeout       = "aggregator-timeout"
	flagAgentCode               = "agent-code"
	flagAgentKey                = "agent-key"
	flagAllowedOrigins          = "allowed-origins"
	flagVerifyCallbackSignature = "verify-callback-signature"
	flagAccount                 = "account"
	flagRepair                  = "repair"
	envPrefix                   = "WALLETSIM"
)

var errUnrepairedDivergence = errors.New("snapshots diverge from their journals")

var configFlags = []string{
	flagListenAddr,
	flagPlayersDir,
	flagCallbacksDir,
	flagHybridDir,
	flagAggregatorURL,
	flagAggregatorTimeout,
	flagAgentCode,
	flagAgentKey,
	flagAllowedOrigins,
	flagVerifyCallbackSignature,
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "walletsim: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := simulator.Config{}
	cmd := &cobra.Command{
		Use:           "walletsim",
		Short:         "Seamless wallet simulator for aggregator integrations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return simulator.Run(ctx, cfg, logger)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(flagListenAddr, "", "HTTP listen address (default :8080)")
	flags.String(flagPlayersDir, "", "directory of account snapshots (default data/players)")
	flags.String(flagCallbacksDir, "", "directory of callback journals (default data/callbacks)")
	flags.String(flagHybridDir, "", "directory of hybrid journals (default data/hybrid-transactions)")
	flags.String(flagAggregatorURL, "", "aggregator API base URL")
	flags.Duration(flagAggregatorTimeout, 0, "aggregator request timeout (default 30s)")
	flags.String(flagAgentCode, "", "agent code sent to the aggregator")
	flags.String(flagAgentKey, "", "agent key used to sign aggregator requests")
	flags.String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins (default *)")
	flags.Bool(flagVerifyCallbackSignature, false, "reject callbacks without a valid sign field")

	cmd.AddCommand(newReconcileCommand(&cfg))
	return cmd
}

func newReconcileCommand(cfg *simulator.Config) *cobra.Command {
	var accountFlag string
	var repair bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Replay journals and compare them with account snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := simulator.NewWalletService(*cfg, zap.NewNop(), time.Now)
			if err != nil {
				return err
			}
			var reports []wallet.ReconciliationReport
			if strings.TrimSpace(accountFlag) != "" {
				accountID, err := wallet.NewAccountID(accountFlag)
				if err != nil {
					return err
				}
				report, err := service.Reconcile(cmd.Context(), accountID, repair)
				if err != nil {
					return err
				}
				reports = append(reports, report)
			} else {
				reports, err = service.ReconcileAll(cmd.Context(), repair)
				if err != nil {
					return err
				}
			}
			return printReports(cmd.OutOrStdout(), reports)
		},
	}
	cmd.Flags().StringVar(&accountFlag, flagAccount, "", "reconcile a single player account")
	cmd.Flags().BoolVar(&repair, flagRepair, false, "overwrite diverged snapshots with the replayed balance")
	return cmd
}

// printReports writes one line per account and fails when a divergence was left unrepaired.
func printReports(writer io.Writer, reports []wallet.ReconciliationReport) error {
	unrepaired := 0
	for _, report := range reports {
		state := "ok"
		switch {
		case report.Repaired:
			state = "repaired"
		case report.Diverged():
			state = "diverged"
			unrepaired++
		}
		if _, err := fmt.Fprintf(writer, "%s\t%s\tsnapshot=%s\treplayed=%s\thybrid=%d\tcallbacks=%d\tbroken=%d\n",
			report.AccountID.String(),
			state,
			wallet.MajorAmount(report.SnapshotMinor).String(),
			wallet.MajorAmount(report.ReplayedMinor).String(),
			report.HybridEntries,
			report.CallbackEntries,
			report.BrokenEntries,
		); err != nil {
			return err
		}
	}
	if unrepaired > 0 {
		return fmt.Errorf("%w: %d account(s)", errUnrepairedDivergence, unrepaired)
	}
	return nil
}

func loadConfig(cmd *cobra.Command, cfg *simulator.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range configFlags {
		if err := v.BindPFlag(flagName, cmd.Flag(flagName)); err != nil {
			return err
		}
	}

	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.PlayersDir = strings.TrimSpace(v.GetString(flagPlayersDir))
	cfg.CallbacksDir = strings.TrimSpace(v.GetString(flagCallbacksDir))
	cfg.HybridDir = strings.TrimSpace(v.GetString(flagHybridDir))
	cfg.AggregatorBaseURL = strings.TrimSpace(v.GetString(flagAggregatorURL))
	cfg.AggregatorTimeout = v.GetDuration(flagAggregatorTimeout)
	cfg.AgentCode = strings.TrimSpace(v.GetString(flagAgentCode))
	cfg.AgentKey = v.GetString(flagAgentKey)
	cfg.AllowedOrigins = simulator.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.VerifyCallbackSignature = v.GetBool(flagVerifyCallbackSignature)

	return cfg.Validate()
}
