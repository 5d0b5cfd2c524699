package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/itiky/drawsync/service/server"
)

const (
	FlagListen   = "listen"
	FlagSeedFile = "seed-file"
)

// GetServerCmd returns the relay server start command.
func GetServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the relay server",
		Run: func(cmd *cobra.Command, args []string) {
			// Parse inputs
			listen, err := cmd.Flags().GetString(FlagListen)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagListen, err)
			}
			seedFile, err := cmd.Flags().GetString(FlagSeedFile)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagSeedFile, err)
			}

			// Init service
			svc := server.NewService()
			if seedFile != "" {
				if err := svc.LoadSeed(seedFile); err != nil {
					log.Fatalf("service init: %v", err)
				}
			}
			svc.Start()

			httpServer := &http.Server{
				Addr:    listen,
				Handler: svc.Router(),
			}
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("relay server: listen: %v", err)
				}
			}()

			log.Printf("Relay server started: %s", listen)

			// Wait for signal
			signalCh := make(chan os.Signal, 1)
			signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
			<-signalCh

			svc.Stop()
			_ = httpServer.Close()
		},
	}
	cmd.Flags().String(FlagListen, ":2412", "(optional) listen address")
	cmd.Flags().String(FlagSeedFile, "", "(optional) path to generated board seed file")

	return cmd
}

func init() {
	rootCmd.AddCommand(GetServerCmd())
}
