package cli

import (
	"context"
	"errors"
	"os"

	"github.com/rudransh-shrivastava/peer-drop/internal/consent"
	"github.com/rudransh-shrivastava/peer-drop/internal/events"
	"github.com/rudransh-shrivastava/peer-drop/internal/ipc"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/rudransh-shrivastava/peer-drop/internal/transfer"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	listenPort      int
	listenDir       string
	listenAcceptAll bool
	listenDenyAll   bool
	listenIPC       bool
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "receive files and clipboard text",
	Long: `listen accepts incoming transfers and asks before saving each one.
Answers come from the terminal, from IPC clients (peer-drop respond) or from --accept-all/--deny-all.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.Port = listenPort
		}
		if listenDir != "" {
			cfg.DownloadDir = listenDir
		}

		ctx := cmd.Context()

		var surfaces []consent.Surface
		notifiers := []events.Notifier{events.NewLogNotifier(log)}

		switch {
		case listenAcceptAll && listenDenyAll:
			return errors.New("--accept-all and --deny-all are mutually exclusive")
		case listenAcceptAll:
			surfaces = append(surfaces, consent.Static(protocol.Allow))
		case listenDenyAll:
			surfaces = append(surfaces, consent.Static(protocol.Deny))
		}

		if listenIPC {
			srv := ipc.NewServer(ipc.ServerConfig{SocketPath: cfg.SocketPath, Logger: log})
			go func() {
				if err := srv.Listen(ctx); err != nil && ctx.Err() == nil {
					log.WithError(err).Error("IPC server stopped")
				}
			}()
			surfaces = append(surfaces, srv)
			notifiers = append(notifiers, srv)
		}

		if !listenAcceptAll && !listenDenyAll && term.IsTerminal(int(os.Stdin.Fd())) {
			surfaces = append(surfaces, newPromptSurface(os.Stdin, os.Stdout))
		}
		if len(surfaces) == 0 {
			return errors.New("nothing can answer consent requests: run in a terminal or pass --accept-all, --deny-all or --ipc")
		}

		gate := consent.NewGate(consent.Config{
			Surface: consent.Multi(surfaces...),
			Timeout: cfg.ConsentTimeout,
			Logger:  log,
		})

		receiver, err := transfer.NewReceiver(transfer.ReceiverConfig{
			DownloadDir: cfg.DownloadDir,
			Authorizer:  gate,
			MaxConns:    cfg.MaxConns,
			IdleTimeout: cfg.IdleTimeout,
			MaxTextSize: cfg.MaxTextSize,
			Notifier:    events.Multi(notifiers...),
			Logger:      log,
		})
		if err != nil {
			return err
		}

		err = receiver.Listen(ctx, cfg.Port)
		if errors.Is(err, context.Canceled) {
			log.Info("Shutting down receiver")
			receiver.Wait()
			return nil
		}
		return err
	},
}

func init() {
	listenCmd.Flags().IntVarP(&listenPort, "port", "p", 8080, "port to listen on")
	listenCmd.Flags().StringVarP(&listenDir, "dir", "d", "", "directory for received files")
	listenCmd.Flags().BoolVar(&listenAcceptAll, "accept-all", false, "accept every request without asking")
	listenCmd.Flags().BoolVar(&listenDenyAll, "deny-all", false, "deny every request without asking")
	listenCmd.Flags().BoolVar(&listenIPC, "ipc", false, "serve events and consent requests on the IPC socket")
}
