// Command lockctl is a small CLI for exercising a lockd deployment:
// acquire, release, check and extend against any node, following leader
// redirects.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gaestalt/lockd/client"
	"github.com/gaestalt/lockd/types"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		endpoints []string
		clientID  string
		timeout   time.Duration
	)

	root := &cobra.Command{
		Use:          "lockctl",
		Short:        "Client CLI for the lockd distributed lock manager",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringSliceVar(&endpoints, "endpoints", []string{"127.0.0.1:9311"}, "lockd endpoints")
	root.PersistentFlags().StringVar(&clientID, "client-id", "", "client id (random when empty)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "overall command timeout")

	newClient := func() (client.Client, context.Context, context.CancelFunc, error) {
		cfg := client.DefaultConfig()
		cfg.Endpoints = endpoints
		if clientID != "" {
			cfg.ClientID = types.ClientID(clientID)
		}
		c, err := client.New(cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		return c, ctx, cancel, nil
	}

	var lease time.Duration
	acquire := &cobra.Command{
		Use:   "acquire <lock-id>",
		Short: "Acquire a lock and print its fencing token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel, err := newClient()
			if err != nil {
				return err
			}
			defer cancel()
			defer c.Close()

			res, err := c.Acquire(ctx, types.LockID(args[0]), lease)
			if err != nil {
				return err
			}
			if !res.Acquired() {
				fmt.Printf("%s %s\n", res.Status, res.Message)
				return nil
			}
			fmt.Printf("OK token=%d expires_at=%d\n", res.Token, res.ExpiresAt)
			return nil
		},
	}
	acquire.Flags().DurationVar(&lease, "lease", 0, "lease duration (0 = server default)")

	var token int64
	release := &cobra.Command{
		Use:   "release <lock-id>",
		Short: "Release a lock under its fencing token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel, err := newClient()
			if err != nil {
				return err
			}
			defer cancel()
			defer c.Close()

			status, err := c.Release(ctx, types.LockID(args[0]), types.FencingToken(token))
			if err != nil {
				return err
			}
			fmt.Println(status)
			return nil
		},
	}
	release.Flags().Int64Var(&token, "token", 0, "fencing token returned by acquire")
	_ = release.MarkFlagRequired("token")

	check := &cobra.Command{
		Use:   "check <lock-id>",
		Short: "Print a lock's current holder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel, err := newClient()
			if err != nil {
				return err
			}
			defer cancel()
			defer c.Close()

			res, err := c.Check(ctx, types.LockID(args[0]))
			if err != nil {
				return err
			}
			if res.Status != types.StatusOK {
				fmt.Println(res.Status)
				return nil
			}
			fmt.Printf("OK holder=%s region=%s token=%d remaining=%s\n",
				res.Holder, res.Region, res.Token, res.Remaining)
			return nil
		},
	}

	var extendToken int64
	var extendLease time.Duration
	extend := &cobra.Command{
		Use:   "extend <lock-id>",
		Short: "Extend a held lock's lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel, err := newClient()
			if err != nil {
				return err
			}
			defer cancel()
			defer c.Close()

			res, err := c.Extend(ctx, types.LockID(args[0]), types.FencingToken(extendToken), extendLease)
			if err != nil {
				return err
			}
			if res.Status != types.StatusOK {
				fmt.Printf("%s %s\n", res.Status, res.Message)
				return nil
			}
			fmt.Printf("OK expires_at=%d\n", res.ExpiresAt)
			return nil
		},
	}
	extend.Flags().Int64Var(&extendToken, "token", 0, "fencing token returned by acquire")
	extend.Flags().DurationVar(&extendLease, "lease", 0, "new lease duration (0 = server default)")
	_ = extend.MarkFlagRequired("token")

	root.AddCommand(acquire, release, check, extend)
	return root
}
