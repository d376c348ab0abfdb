// Command client talks to a document server from the terminal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kevinxiao27/doctree/client"
	"github.com/kevinxiao27/doctree/ot"
)

var (
	endpoint string
	clientID string
	timeout  time.Duration
)

func main() {
	defer glog.Flush()
	root := &cobra.Command{
		Use:           "client",
		Short:         "Command line client of the document server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	root.PersistentFlags().StringVarP(&endpoint, "server", "s", "ws://localhost:8080/ws", "websocket endpoint")
	root.PersistentFlags().StringVar(&clientID, "client-id", "", "client id to reuse")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for the server")
	root.AddCommand(listCmd(), watchCmd(), applyCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		glog.Flush()
		os.Exit(1)
	}
}

// session connects and runs fn while the connection's reader runs. changes
// receives the ids passed to OnChange.
func session(ctx context.Context, fn func(ctx context.Context, s *client.Session, changes <-chan string) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, err := client.Dial(ctx, endpoint, clientID)
	if err != nil {
		return err
	}
	changes := make(chan string, 64)
	conn.Session.OnChange = func(id string) {
		select {
		case changes <- id:
		default:
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return conn.Run(ctx) })
	g.Go(func() error {
		defer cancel()
		return fn(ctx, conn.Session, changes)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// await reads changes until one for id arrives.
func await(ctx context.Context, changes <-chan string, id string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		select {
		case got := <-changes:
			if got == id {
				return nil
			}
		case <-ctx.Done():
			return fmt.Errorf("waiting for %q: %w", id, ctx.Err())
		}
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the documents on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return session(cmd.Context(), func(ctx context.Context, s *client.Session, changes <-chan string) error {
				if err := s.ListDocs(); err != nil {
					return err
				}
				if err := await(ctx, changes, ""); err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTYPE\tTITLE")
				for _, d := range s.Docs() {
					fmt.Fprintf(w, "%s\t%s\t%s\n", d.ID, d.Type, d.Title)
				}
				return w.Flush()
			})
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch ID",
		Short: "Print a document every time it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			id := args[0]
			return session(ctx, func(ctx context.Context, s *client.Session, changes <-chan string) error {
				if err := s.Subscribe(id); err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				for {
					select {
					case got := <-changes:
						if got != id {
							continue
						}
						d, version, ok := s.Doc(id)
						if !ok {
							continue
						}
						fmt.Fprintf(cmd.OutOrStdout(), "# version %d\n", version)
						if err := enc.Encode(d); err != nil {
							return err
						}
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			})
		},
	}
}

func applyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply ID OPERATIONS",
		Short: "Apply a JSON array of operations to a document",
		Example: `  client apply page-1 '[{"type":"set","path":[2],"prop":"name","value":"Form"}]'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			var ops ot.Transaction
			if err := json.Unmarshal([]byte(args[1]), &ops); err != nil {
				return err
			}
			return session(cmd.Context(), func(ctx context.Context, s *client.Session, changes <-chan string) error {
				if err := s.Subscribe(id); err != nil {
					return err
				}
				if err := await(ctx, changes, id); err != nil {
					return err
				}
				if err := s.Edit(id, ops); err != nil {
					return err
				}
				// Wait for the acknowledgment.
				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				tick := time.NewTicker(20 * time.Millisecond)
				defer tick.Stop()
				for {
					var pending bool
					var version int
					err := s.Update(id, func(st *client.DocState) *client.Outgoing {
						pending, version = len(st.Uncommitted()) > 0, st.Version
						return nil
					})
					if err != nil {
						return err
					}
					if !pending {
						fmt.Fprintf(cmd.OutOrStdout(), "%s at version %d\n", id, version)
						return nil
					}
					select {
					case <-tick.C:
					case <-ctx.Done():
						return fmt.Errorf("waiting for ack: %w", ctx.Err())
					}
				}
			})
		},
	}
}
