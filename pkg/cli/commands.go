package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nimburion/objectbank/pkg/bank/lease"
	"github.com/nimburion/objectbank/pkg/health"
	"github.com/nimburion/objectbank/pkg/observability/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func (a *app) newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with credentials masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := a.loadConfig()
			if err != nil {
				return err
			}
			out, err := formatYAML(redactConfig(*cfg))
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), out)
			return err
		},
	})
	return configCmd
}

func (a *app) newHealthcheckCommand() *cobra.Command {
	var acquire bool
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check the object store and the bank lease",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openBank(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if acquire {
				if err := s.bank.AcquireLease(cmd.Context()); err != nil {
					return err
				}
			}

			registry := health.NewRegistry()
			s.bank.RegisterHealthChecks(registry)
			result := registry.Check(cmd.Context())

			out, err := formatYAML(result)
			if err != nil {
				return err
			}
			if _, err := io.WriteString(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if !result.IsHealthy() {
				return fmt.Errorf("bank is %s", result.Status)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&acquire, "acquire-lease", false, "acquire the lease before running the checks")
	return cmd
}

func (a *app) newLeaseCommand() *cobra.Command {
	leaseCmd := &cobra.Command{
		Use:   "lease",
		Short: "Lease commands",
	}

	leaseCmd.AddCommand(&cobra.Command{
		Use:   "acquire",
		Short: "Acquire the bank lease and print its expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openBank(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.bank.AcquireLease(cmd.Context()); err != nil {
				return err
			}
			m := s.bank.Lease()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Owner:       %s\n", m.Owner())
			fmt.Fprintf(out, "Expire Time: %s\n", m.ExpireTime().Format(time.RFC3339))
			fmt.Fprintf(out, "Durable:     %t\n", s.cfg.Bank.DurableLease)
			return nil
		},
	})

	leaseCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the persisted lease record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openBank(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			if !s.cfg.Bank.DurableLease {
				fmt.Fprintln(out, "durable lease disabled: the lease lives only inside the process holding it")
				return nil
			}
			record, found, err := s.bank.Lease().LoadRecord(cmd.Context())
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintln(out, "no lease record")
				return nil
			}
			fmt.Fprintf(out, "Owner:       %s\n", record.Owner)
			fmt.Fprintf(out, "Acquired At: %s\n", record.AcquiredAt.Format(time.RFC3339))
			fmt.Fprintf(out, "Expire Time: %s\n", record.ExpireTime.Format(time.RFC3339))
			fmt.Fprintf(out, "Active:      %t\n", time.Now().Before(record.ExpireTime))
			return nil
		},
	})
	return leaseCmd
}

func (a *app) newObjectCommand() *cobra.Command {
	var acquire bool
	objectCmd := &cobra.Command{
		Use:   "object",
		Short: "Object commands",
	}
	objectCmd.PersistentFlags().BoolVar(&acquire, "acquire-lease", false, "acquire the lease before the operation (needed when lease gating is on)")

	// withBank opens a session, optionally acquires the lease and runs fn.
	withBank := func(fn func(cmd *cobra.Command, s *session, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			s, err := a.openBank(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			if acquire {
				if err := s.bank.AcquireLease(cmd.Context()); err != nil {
					return err
				}
			}
			return fn(cmd, s, args)
		}
	}

	createCmd := &cobra.Command{
		Use:   "create KEY",
		Short: "Create an object",
		Args:  cobra.ExactArgs(1),
		RunE: withBank(func(cmd *cobra.Command, s *session, args []string) error {
			value, err := readValue(cmd.Flags(), cmd.InOrStdin())
			if err != nil {
				return err
			}
			return s.bank.CreateObject(cmd.Context(), args[0], value)
		}),
	}
	addValueFlags(createCmd.Flags())

	updateCmd := &cobra.Command{
		Use:   "update KEY",
		Short: "Replace the value of an object",
		Args:  cobra.ExactArgs(1),
		RunE: withBank(func(cmd *cobra.Command, s *session, args []string) error {
			value, err := readValue(cmd.Flags(), cmd.InOrStdin())
			if err != nil {
				return err
			}
			return s.bank.UpdateObject(cmd.Context(), args[0], value)
		}),
	}
	addValueFlags(updateCmd.Flags())

	getCmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Print the value of an object",
		Args:  cobra.ExactArgs(1),
		RunE: withBank(func(cmd *cobra.Command, s *session, args []string) error {
			value, err := s.bank.GetObject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(value)
			return err
		}),
	}

	deleteCmd := &cobra.Command{
		Use:   "delete KEY",
		Short: "Delete an object",
		Args:  cobra.ExactArgs(1),
		RunE: withBank(func(cmd *cobra.Command, s *session, args []string) error {
			return s.bank.DeleteObject(cmd.Context(), args[0])
		}),
	}

	listCmd := &cobra.Command{
		Use:   "list [PREFIX]",
		Short: "List object keys, optionally filtered by prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: withBank(func(cmd *cobra.Command, s *session, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			keys, err := s.bank.ListObjects(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, key := range keys {
				fmt.Fprintln(out, key)
			}
			return nil
		}),
	}

	objectCmd.AddCommand(createCmd, updateCmd, getCmd, deleteCmd, listCmd)
	return objectCmd
}

func (a *app) newKeepAliveCommand() *cobra.Command {
	var (
		interval    time.Duration
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "keepalive",
		Short: "Hold the bank lease, renewing it until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openBank(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			signalCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			runCtx, cancel := context.WithCancel(signalCtx)
			defer cancel()

			if cmd.Flags().Changed("metrics-addr") {
				s.cfg.Observability.MetricsAddr = strings.TrimSpace(metricsAddr)
			}
			serverErrs := startManagementServer(runCtx, cancel, s)
			if err := runKeepAlive(runCtx, s, lease.RenewerConfig{Interval: interval}); err != nil {
				return err
			}
			return <-serverErrs
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "renewal interval (default: lease expire window minus renew window)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics and /ready on this address (overrides observability.metrics_addr)")
	return cmd
}

// startManagementServer serves metrics and bank health until ctx ends. A server failure calls
// cancel so the keep-alive stops too. The returned channel yields the server result once, nil when
// no address is configured.
func startManagementServer(ctx context.Context, cancel context.CancelFunc, s *session) <-chan error {
	result := make(chan error, 1)
	if s.cfg.Observability.MetricsAddr == "" {
		result <- nil
		return result
	}

	registry := health.NewRegistry()
	s.bank.RegisterHealthChecks(registry)
	server := metrics.NewServer(metrics.ServerConfig{Addr: s.cfg.Observability.MetricsAddr}, registry, nil, s.log)
	go func() {
		err := server.Run(ctx)
		if err != nil {
			s.log.Error("management server stopped", "error", err)
			cancel()
		}
		result <- err
	}()
	return result
}

// runKeepAlive renews the lease until ctx ends. Renewal errors are logged and the loop continues.
func runKeepAlive(ctx context.Context, s *session, cfg lease.RenewerConfig) error {
	renewer, errs := s.bank.KeepAlive(ctx, cfg)
	defer renewer.Stop()

	s.log.Info("holding bank lease", "owner", s.bank.Lease().Owner(), "interval", renewer.Interval())
	for err := range errs {
		s.log.Warn("keep-alive renewal failed", "error", err)
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func addValueFlags(flags *pflag.FlagSet) {
	flags.String("value", "", "object value")
	flags.String("file", "", "read the object value from a file, - for stdin")
}

// readValue returns --value, or the contents of --file. Exactly one of the two must be set.
func readValue(flags *pflag.FlagSet, stdin io.Reader) ([]byte, error) {
	value, _ := flags.GetString("value")
	file, _ := flags.GetString("file")
	valueSet := flags.Changed("value")
	file = strings.TrimSpace(file)

	switch {
	case valueSet && file != "":
		return nil, errors.New("--value and --file are mutually exclusive")
	case valueSet:
		return []byte(value), nil
	case file == "-":
		return io.ReadAll(stdin)
	case file != "":
		return os.ReadFile(file)
	default:
		return nil, errors.New("one of --value or --file is required")
	}
}
