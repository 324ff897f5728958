package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/rudransh-shrivastava/peer-drop/internal/events"
	"github.com/rudransh-shrivastava/peer-drop/internal/ipc"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "stream events from a running receiver",
	Long:  `events connects to the IPC socket of "peer-drop listen --ipc" and prints transfers and consent requests as they happen`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := ipc.Dial(cfg.SocketPath)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		go func() {
			<-cmd.Context().Done()
			_ = client.Close()
		}()

		for {
			msg, err := client.Receive()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				if cmd.Context().Err() != nil {
					return nil
				}
				return err
			}
			fmt.Println(formatMessage(msg))
		}
	},
}

var respondCmd = &cobra.Command{
	Use:   "respond request-id allow|deny",
	Short: "answer a pending consent request",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		decision, err := protocol.ParseDecision(args[1])
		if err != nil {
			return err
		}

		client, err := ipc.Dial(cfg.SocketPath)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		if err := client.Respond(args[0], decision); err != nil {
			return err
		}
		if err := client.AwaitResult(args[0]); err != nil {
			return err
		}
		fmt.Printf("%s %s\n", args[0], decision)
		return nil
	},
}

func formatMessage(msg ipc.Message) string {
	switch msg.Type {
	case ipc.TypeConsentRequest:
		req := ipc.RequestFromMessage(msg)
		return fmt.Sprintf("[request %s] %s from %s (%s), answer with: peer-drop respond %s allow|deny",
			req.ID, req.FileName, req.SenderName, req.PeerAddr, req.ID)
	case ipc.TypeEvent:
		e := ipc.EventFromMessage(msg)
		line := fmt.Sprintf("[%s] %s", e.Kind, e.FileName)
		if e.Peer != "" {
			line += " peer=" + e.Peer
		}
		if e.Bytes > 0 {
			line += " size=" + humanize.Bytes(uint64(e.Bytes))
		}
		if e.Path != "" {
			line += " path=" + e.Path
		}
		if e.Kind == events.TextReceived {
			line += fmt.Sprintf(" text=%q", e.Content)
		}
		if e.Err != nil {
			line += " error=" + e.Err.Error()
		}
		return line
	default:
		return fmt.Sprintf("[%s] %v", msg.Type, msg.Fields)
	}
}
