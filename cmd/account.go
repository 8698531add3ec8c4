package cmd

import (
	"context"
	"fmt"
	"os"

	"economy-store/core/config"
	"economy-store/core/dispatch"
	"economy-store/core/logger"
	"economy-store/core/mongodb"
	"economy-store/feature/economy"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// accountCmd groups the account maintenance subcommands.
var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Inspect and maintain player accounts",
}

var accountBalanceCmd = &cobra.Command{
	Use:   "balance [player-id]",
	Short: "Show a player's balance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withRepository(cmd.Context(), func(ctx context.Context, repo *economy.Repository, logg *zap.Logger) {
			acct, err := repo.GetAccount(args[0]).Await(ctx)
			if err != nil {
				logg.Fatal("Balance lookup failed", zap.Error(err))
			}
			if acct == nil {
				fmt.Printf("No account for %s\n", args[0])
				return
			}
			fmt.Printf("Player:        %s\n", acct.PlayerID)
			fmt.Printf("Name:          %s\n", acct.Name)
			fmt.Printf("Balance:       %s\n", acct.Balance)
			fmt.Printf("Last Activity: %s\n", acct.LastActivity.Format("2006-01-02 15:04:05"))
		})
	},
}

var accountCreateCmd = &cobra.Command{
	Use:   "create [player-id] [name] [initial-balance]",
	Short: "Create an account if it does not exist",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		withRepository(cmd.Context(), func(ctx context.Context, repo *economy.Repository, logg *zap.Logger) {
			balance, err := decimal.NewFromString(args[2])
			if err != nil {
				logg.Fatal("Invalid initial balance", zap.String("value", args[2]))
			}
			if _, err := repo.CreateAccount(args[0], args[1], balance).Await(ctx); err != nil {
				logg.Fatal("Account create failed", zap.Error(err))
			}
			fmt.Printf("Account %s ready\n", args[0])
		})
	},
}

var accountDepositCmd = &cobra.Command{
	Use:   "deposit [player-id] [amount]",
	Short: "Deposit into a player's account",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		runMutation(cmd.Context(), args[0], args[1], "deposit")
	},
}

var accountWithdrawCmd = &cobra.Command{
	Use:   "withdraw [player-id] [amount]",
	Short: "Withdraw from a player's account",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		runMutation(cmd.Context(), args[0], args[1], "withdraw")
	},
}

var accountTopCmd = &cobra.Command{
	Use:   "top [limit]",
	Short: "Show the richest accounts",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		limit := 10
		if len(args) == 1 {
			fmt.Sscanf(args[0], "%d", &limit)
		}
		withRepository(cmd.Context(), func(ctx context.Context, repo *economy.Repository, logg *zap.Logger) {
			top, err := repo.GetTopAccounts(limit).Await(ctx)
			if err != nil {
				logg.Fatal("Top accounts lookup failed", zap.Error(err))
			}
			fmt.Printf("%-4s %-38s %-20s %s\n", "#", "Player", "Name", "Balance")
			for i, acct := range top {
				fmt.Printf("%-4d %-38s %-20s %s\n", i+1, acct.PlayerID, acct.Name, acct.Balance)
			}
		})
	},
}

var accountHistoryCmd = &cobra.Command{
	Use:   "history [player-id] [limit]",
	Short: "Show a player's recent transactions",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		limit := 20
		if len(args) == 2 {
			fmt.Sscanf(args[1], "%d", &limit)
		}
		withRepository(cmd.Context(), func(ctx context.Context, repo *economy.Repository, logg *zap.Logger) {
			txs, err := repo.GetAccountTransactions(args[0], limit).Await(ctx)
			if err != nil {
				logg.Fatal("Transaction lookup failed", zap.Error(err))
			}
			for _, tx := range txs {
				fmt.Printf("%s  %-9s %12s  %s\n",
					tx.CreatedAt.Format("2006-01-02 15:04:05"), tx.Type, tx.Amount, tx.Note)
			}
		})
	},
}

func runMutation(ctx context.Context, playerID, rawAmount, op string) {
	withRepository(ctx, func(ctx context.Context, repo *economy.Repository, logg *zap.Logger) {
		amount, err := decimal.NewFromString(rawAmount)
		if err != nil {
			logg.Fatal("Invalid amount", zap.String("value", rawAmount))
		}

		var f *dispatch.Future[decimal.Decimal]
		if op == "deposit" {
			f = repo.Deposit(playerID, amount, "cli deposit")
		} else {
			f = repo.Withdraw(playerID, amount, "cli withdraw")
		}

		newBalance, err := f.Await(ctx)
		if err != nil {
			logg.Fatal("Mutation failed", zap.Error(err))
		}
		fmt.Printf("New balance for %s: %s\n", playerID, newBalance)
	})
}

// withRepository bootstraps the shared stack for one-shot CLI operations.
func withRepository(ctx context.Context, fn func(ctx context.Context, repo *economy.Repository, logg *zap.Logger)) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logg, err := logger.New(&cfg.Log)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logg.Sync()

	disp := dispatch.New(logg)
	defer disp.Shutdown()

	conn := mongodb.NewManager(cfg.Database, logg, disp)
	connectCtx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout())
	err = conn.Connect(connectCtx)
	cancel()
	if err != nil {
		logg.Fatal("Store connection failed", zap.Error(err))
	}
	defer conn.Disconnect(context.Background())

	repo, err := economy.NewRepository(cfg.Economy, cfg.Cache, conn, disp, logg)
	if err != nil {
		logg.Fatal("Failed to build repository", zap.Error(err))
	}
	defer repo.Close()

	fn(ctx, repo, logg)
}

func init() {
	accountCmd.AddCommand(accountBalanceCmd)
	accountCmd.AddCommand(accountCreateCmd)
	accountCmd.AddCommand(accountDepositCmd)
	accountCmd.AddCommand(accountWithdrawCmd)
	accountCmd.AddCommand(accountTopCmd)
	accountCmd.AddCommand(accountHistoryCmd)
	RootCmd.AddCommand(accountCmd)
}
