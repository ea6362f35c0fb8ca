// creditctl is the operator CLI for the credit ledger API: inspect
// balances, grant credits and issue refunds without hand-rolling curl
// calls.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var flagAddr string

var httpClient = &http.Client{Timeout: 10 * time.Second}

var rootCmd = &cobra.Command{
	Use:   "creditctl",
	Short: "Operate the credit ledger service",
	Long: `creditctl talks to a running credit ledger API instance.
Point it at the server with --addr (default http://localhost:8080).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", "http://localhost:8080", "base URL of the API server")

	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(refundCmd)

	grantCmd.Flags().Int64("amount", 0, "credits to grant")
	grantCmd.Flags().String("reason", "", "why the grant is issued")
	grantCmd.Flags().String("actor", "", "admin actor id")
	_ = grantCmd.MarkFlagRequired("amount")
	_ = grantCmd.MarkFlagRequired("actor")

	refundCmd.Flags().Int64("amount-minor", 0, "monetary amount to refund, in minor units")
	refundCmd.Flags().String("reason", "", "why the refund is issued")
	refundCmd.Flags().String("actor", "", "admin actor id")
	_ = refundCmd.MarkFlagRequired("amount-minor")
	_ = refundCmd.MarkFlagRequired("actor")
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

var balanceCmd = &cobra.Command{
	Use:   "balance ACCOUNT_ID",
	Short: "Show an account's balance and counters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getJSON(fmt.Sprintf("%s/accounts/%s/balance", flagAddr, args[0]))
	},
}

var historyCmd = &cobra.Command{
	Use:   "history ACCOUNT_ID",
	Short: "Show an account's recent transactions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getJSON(fmt.Sprintf("%s/accounts/%s/transactions", flagAddr, args[0]))
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant ACCOUNT_ID",
	Short: "Grant bonus credits to an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, _ := cmd.Flags().GetInt64("amount")
		reason, _ := cmd.Flags().GetString("reason")
		actor, _ := cmd.Flags().GetString("actor")

		return postJSON(
			fmt.Sprintf("%s/admin/accounts/%s/credits", flagAddr, args[0]),
			map[string]any{"amount": amount, "reason": reason, "actorId": actor},
		)
	},
}

var refundCmd = &cobra.Command{
	Use:   "refund TRANSACTION_ID",
	Short: "Refund a completed purchase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, _ := cmd.Flags().GetInt64("amount-minor")
		reason, _ := cmd.Flags().GetString("reason")
		actor, _ := cmd.Flags().GetString("actor")

		return postJSON(
			fmt.Sprintf("%s/admin/transactions/%s/refund", flagAddr, args[0]),
			map[string]any{"amountMinor": amount, "reason": reason, "actorId": actor},
		)
	},
}

func getJSON(url string) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	return printResponse(resp)
}

func postJSON(url string, body map[string]any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	resp, err := httpClient.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	return printResponse(resp)
}

// printResponse pretty-prints the server's JSON and maps non-2xx
// statuses to a command failure.
func printResponse(resp *http.Response) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var pretty bytes.Buffer

	err = json.Indent(&pretty, raw, "", "  ")
	if err != nil {
		pretty.Write(raw)
	}

	fmt.Println(pretty.String())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	return nil
}
