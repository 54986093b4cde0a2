package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/snigate/snigate/pkg/eventstream"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live accept records from a running instance",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().String("event-socket", "", "Event socket of the running instance (required)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	bindFlags(cmd, map[string]string{"event_socket_path": "event-socket"})
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.EventSocketPath == "" {
		return errors.New("event_socket_path is required")
	}

	sub, err := eventstream.Dial(cfg.EventSocketPath)
	if err != nil {
		return err
	}
	defer sub.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	for {
		rec, err := sub.Next()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		class := string(rec.ErrorClass)
		if class == "" {
			class = "ok"
		}
		fmt.Fprintf(os.Stdout, "%s %-30s port=%d peer=%s class=%s %s\n",
			rec.Timestamp.Local().Format(time.TimeOnly),
			rec.Hostname, rec.Port, rec.PeerAddress, class, rec.Error)
	}
}
