package cli

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/store"
	"github.com/spf13/cobra"
)

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "manage the address book of receivers",
}

var peersAddCmd = &cobra.Command{
	Use:   "add name host [port]",
	Short: "add a named receiver",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		port := cfg.Port
		if len(args) == 3 {
			n, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", args[2], err)
			}
			port = n
		}

		return withPeerStore(func(ps *store.PeerStore) error {
			peer, err := ps.CreatePeer(args[0], args[1], port)
			if err != nil {
				return err
			}
			fmt.Printf("added %s (%s:%d)\n", peer.Name, peer.Host, peer.Port)
			return nil
		})
	},
}

var peersListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "list known receivers",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPeerStore(func(ps *store.PeerStore) error {
			peers, err := ps.GetPeers()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tHOST\tPORT\tADDED")
			for _, p := range peers {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", p.Name, p.Host, p.Port, humanize.Time(p.CreatedAt))
			}
			return w.Flush()
		})
	},
}

var peersRmCmd = &cobra.Command{
	Use:     "rm name",
	Aliases: []string{"remove"},
	Short:   "remove a receiver",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPeerStore(func(ps *store.PeerStore) error {
			return ps.DeletePeer(args[0])
		})
	},
}

func init() {
	peersCmd.AddCommand(peersAddCmd)
	peersCmd.AddCommand(peersListCmd)
	peersCmd.AddCommand(peersRmCmd)
}

func withPeerStore(fn func(*store.PeerStore) error) error {
	gdb, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(gdb) }()
	return fn(store.NewPeerStore(gdb))
}
