package cli

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/events"
	"github.com/rudransh-shrivastava/peer-drop/internal/store"
	"github.com/rudransh-shrivastava/peer-drop/internal/transfer"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	sendPort int
	clipPort int
)

var sendCmd = &cobra.Command{
	Use:   "send host|peer-name file...",
	Short: "send files to a receiver",
	Long:  `send opens one connection per file and streams them in parallel once the receiver accepts`,
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		host, port, err := resolveTarget(args[0], portOverride(cmd, sendPort))
		if err != nil {
			return err
		}

		var total int64
		for _, path := range args[1:] {
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", path)
			}
			total += info.Size()
		}

		var progress func(string, int64)
		if term.IsTerminal(int(os.Stdout.Fd())) {
			bar := progressbar.DefaultBytes(total, "sending")
			defer func() { _ = bar.Finish() }()
			var mu sync.Mutex
			progress = func(_ string, n int64) {
				mu.Lock()
				defer mu.Unlock()
				_ = bar.Add64(n)
			}
		}

		sender, err := transfer.NewSender(transfer.SenderConfig{
			SenderName:  cfg.SenderName,
			DialRetries: cfg.DialRetries,
			IdleTimeout: cfg.IdleTimeout,
			Notifier:    events.NewLogNotifier(log),
			Logger:      log,
			Progress:    progress,
		})
		if err != nil {
			return err
		}
		sender.Configure(host, port)

		for _, path := range args[1:] {
			abs, err := filepath.Abs(path)
			if err != nil {
				return err
			}
			if err := sender.Enqueue(abs); err != nil {
				return err
			}
		}

		results, err := sender.Send(cmd.Context())
		fmt.Println()
		for _, r := range results {
			line := fmt.Sprintf("%-30s %10s  %s", r.FileName, humanize.Bytes(uint64(r.Bytes)), r.Outcome)
			if r.Err != nil {
				line += "  " + r.Err.Error()
			}
			fmt.Println(line)
		}
		return err
	},
}

var clipCmd = &cobra.Command{
	Use:   "clip host|peer-name text",
	Short: "send clipboard text to a receiver",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		host, port, err := resolveTarget(args[0], portOverride(cmd, clipPort))
		if err != nil {
			return err
		}

		sender, err := transfer.NewSender(transfer.SenderConfig{
			SenderName:  cfg.SenderName,
			DialRetries: cfg.DialRetries,
			IdleTimeout: cfg.IdleTimeout,
			Logger:      log,
		})
		if err != nil {
			return err
		}
		sender.Configure(host, port)

		res, err := sender.SendText(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		fmt.Printf("clipboard text %s (%s)\n", res.Outcome, humanize.Bytes(uint64(res.Bytes)))
		return nil
	},
}

func init() {
	sendCmd.Flags().IntVarP(&sendPort, "port", "p", 0, "receiver port (default from peer entry or config)")
	clipCmd.Flags().IntVarP(&clipPort, "port", "p", 0, "receiver port (default from peer entry or config)")
}

func portOverride(cmd *cobra.Command, port int) int {
	if cmd.Flags().Changed("port") {
		return port
	}
	return 0
}

// resolveTarget turns host, host:port or an address book name into an
// address. A non-zero port wins over every other source.
func resolveTarget(target string, port int) (string, int, error) {
	host := target
	resolvedPort := cfg.Port

	if h, p, err := net.SplitHostPort(target); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("invalid port in %s: %w", target, err)
		}
		host, resolvedPort = h, n
	} else if peer, ok, err := lookupPeer(target); err != nil {
		return "", 0, err
	} else if ok {
		host, resolvedPort = peer.Host, peer.Port
		log.Debugf("Resolved peer %s to %s:%d", target, peer.Host, peer.Port)
	}

	if port != 0 {
		resolvedPort = port
	}
	return host, resolvedPort, nil
}

func lookupPeer(name string) (db.Peer, bool, error) {
	gdb, err := db.Open(cfg.DBPath)
	if err != nil {
		return db.Peer{}, false, err
	}
	defer func() { _ = db.Close(gdb) }()

	peer, err := store.NewPeerStore(gdb).GetPeer(name)
	if errors.Is(err, store.ErrPeerNotFound) {
		return db.Peer{}, false, nil
	}
	if err != nil {
		return db.Peer{}, false, err
	}
	return peer, true, nil
}
