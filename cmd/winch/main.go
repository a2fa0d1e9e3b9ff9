package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hydrodrone/mission/internal/config"
	"github.com/hydrodrone/mission/internal/node"
)

var (
	BuildVersion = "0.0.1"
	BuildDate    = "unknown"
)

const NodeName = "winch"

var configDir = flag.String("config", ".", "Directory containing "+config.FileName)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: %s [flags] [command]

Commands:
  serve            run the winch node on the bus (default)
  up | down        run the winch once in that direction
  stop             stop the motor
  control <type> [value seconds]
                   send one raw command: start, stop, torque, speed or position
  status           print one status poll as JSON
  indicator <id>   read one indicator, e.g. 0x13

Flags:
`, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	n := node.Start(NodeName, *configDir)
	n.Logger.Info("Starting up", "version", BuildVersion, "buildDate", BuildDate)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	args := flag.Args()
	command := "serve"
	if len(args) > 0 {
		command = strings.ToLower(args[0])
		args = args[1:]
	}

	var err error
	if command == "serve" {
		err = serve(ctx, n)
	} else {
		err = oneShot(ctx, n, os.Stdout, command, args)
	}
	stop()

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if closeErr := n.Close(closeCtx); closeErr != nil {
		fmt.Fprintln(os.Stderr, "shutdown:", closeErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
