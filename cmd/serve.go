package cmd

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cachesim/cachesim/sim/engine"
)

var (
	serveListen    string // host:port for the gRPC engine service
	serveEngineCmd string // Subprocess engine each request is forwarded to
)

// engineGroupCmd groups engine hosting commands
var engineGroupCmd = &cobra.Command{
	Use:   "engine",
	Short: "Engine hosting utilities",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host a subprocess engine over gRPC for remote batches",
	Long:  "Expose a subprocess engine as a gRPC service so that 'cachesim run --engine-addr' on another machine can drive it.",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging(logLevel)
		eng, _, err := newEngine(serveEngineCmd, "")
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		lis, err := net.Listen("tcp", serveListen)
		if err != nil {
			logrus.Fatalf("Listening on %s: %v", serveListen, err)
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := engine.Serve(ctx, lis, eng, nil); err != nil {
			logrus.Fatalf("Engine server failed: %v", err)
		}
		logrus.Infof("Engine server stopped")
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "127.0.0.1:7070", "Address to listen on")
	serveCmd.Flags().StringVar(&serveEngineCmd, "engine-cmd", "", "Subprocess engine command line")
	serveCmd.Flags().StringVar(&logLevel, "log", "info", "Log level")
	_ = serveCmd.MarkFlagRequired("engine-cmd")
	engineGroupCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(engineGroupCmd)
}
