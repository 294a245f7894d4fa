package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iho/eventledger/internal/infrastructure/config"
	"github.com/iho/eventledger/internal/infrastructure/postgres"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// apiClient talks to the ledger HTTP API.
type apiClient struct {
	baseURL        string
	timeout        time.Duration
	idempotencyKey string
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed (status %d): %s", e.Status, e.Body)
}

func (c *apiClient) do(method, path string, body any, out io.Writer) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.idempotencyKey != "" && method == http.MethodPost {
		req.Header.Set("Idempotency-Key", c.idempotencyKey)
	}

	resp, err := (&http.Client{Timeout: c.timeout}).Do(req)
	if err != nil {
		return fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	if len(data) == 0 {
		_, err = fmt.Fprintf(out, "OK (status %d)\n", resp.StatusCode)
		return err
	}
	return printJSON(out, data)
}

func printJSON(out io.Writer, data []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(out)
	return err
}

func accountPath(id string, parts ...string) string {
	p := "/api/v1/accounts/" + url.PathEscape(id)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func newRootCmd() *cobra.Command {
	client := &apiClient{}

	rootCmd := &cobra.Command{
		Use:          "eventledger-cli",
		Short:        "EventLedger CLI tool",
		Long:         `A command line interface for interacting with the EventLedger API.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&client.baseURL, "url", "http://localhost:8080", "Base URL of the EventLedger API")
	rootCmd.PersistentFlags().DurationVar(&client.timeout, "timeout", 10*time.Second, "Request timeout")
	rootCmd.PersistentFlags().StringVar(&client.idempotencyKey, "idempotency-key", "", "Idempotency-Key header sent with write commands")

	accountCmd := &cobra.Command{
		Use:   "account",
		Short: "Account operations",
	}
	accountCmd.AddCommand(
		openCmd(client),
		moneyCmd(client, "credit", "credits", "Credit funds to an account"),
		moneyCmd(client, "debit", "debits", "Debit funds from an account"),
		moneyCmd(client, "reserve", "reservations", "Reserve funds on an account"),
		reservationCmd(client, "capture", "Capture a reservation"),
		reservationCmd(client, "cancel", "Cancel a reservation"),
		closeCmd(client),
		balanceCmd(client),
		reconcileCmd(client),
	)

	rootCmd.AddCommand(accountCmd, migrateCmd())
	return rootCmd
}

func openCmd(client *apiClient) *cobra.Command {
	var currency, initial string
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open a new account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.do(http.MethodPost, "/api/v1/accounts", map[string]string{
				"currency":        currency,
				"initial_balance": initial,
			}, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&currency, "currency", "USD", "Account currency")
	cmd.Flags().StringVar(&initial, "initial-balance", "0", "Opening balance")
	return cmd
}

// moneyCmd builds credit, debit and reserve. A transaction id is generated
// when none is given; pass one explicitly to make retries safe.
func moneyCmd(client *apiClient, use, resource, short string) *cobra.Command {
	var amount, currency, txID string
	cmd := &cobra.Command{
		Use:   use + " <account-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if txID == "" {
				txID = uuid.NewString()
				fmt.Fprintf(cmd.ErrOrStderr(), "transaction id: %s\n", txID)
			}
			return client.do(http.MethodPost, accountPath(args[0], resource), map[string]string{
				"transaction_id": txID,
				"amount":         amount,
				"currency":       currency,
			}, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "Amount as a decimal string")
	cmd.Flags().StringVar(&currency, "currency", "USD", "Currency of the amount")
	cmd.Flags().StringVar(&txID, "transaction-id", "", "Transaction id (UUID)")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func reservationCmd(client *apiClient, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <account-id> <reservation-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.do(http.MethodPost, accountPath(args[0], "reservations", url.PathEscape(args[1]), action), nil, cmd.OutOrStdout())
		},
	}
}

func closeCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "close <account-id>",
		Short: "Close an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.do(http.MethodPost, accountPath(args[0], "close"), nil, cmd.OutOrStdout())
		},
	}
}

func balanceCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account-id>",
		Short: "Show the projected balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.do(http.MethodGet, accountPath(args[0], "balance"), nil, cmd.OutOrStdout())
		},
	}
}

func reconcileCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <account-id>",
		Short: "Compare the event stream with the balance read model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.do(http.MethodGet, accountPath(args[0], "reconciliation"), nil, cmd.OutOrStdout())
		},
	}
}

// migrator is the part of postgres.Migrator the migrate commands use.
type migrator interface {
	Up() error
	Down(steps int) error
	Version() (uint, bool, error)
}

var newMigrator = func(log zerolog.Logger) (migrator, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return postgres.NewMigrator(cfg.DatabaseURL, cfg.MigrationsPath, log), nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema (reads DATABASE_URL and MIGRATIONS_PATH)",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := newMigrator(zerolog.New(cmd.ErrOrStderr()))
				if err != nil {
					return err
				}
				return m.Up()
			},
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back migrations (default 1)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil {
						return fmt.Errorf("invalid steps %q: %w", args[0], err)
					}
					steps = n
				}
				m, err := newMigrator(zerolog.New(cmd.ErrOrStderr()))
				if err != nil {
					return err
				}
				return m.Down(steps)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := newMigrator(zerolog.New(cmd.ErrOrStderr()))
				if err != nil {
					return err
				}
				version, dirty, err := m.Version()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "version: %d dirty: %v\n", version, dirty)
				return err
			},
		},
	)
	return cmd
}
