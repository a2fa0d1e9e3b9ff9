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

const NodeName = "mission"

var (
	configDir = flag.String("config", ".", "Directory containing "+config.FileName)
	override  overrides
)

func init() {
	flag.StringVar(&override.WaypointsFile, "waypoints", "", "JSON file replacing the configured waypoints")
	flag.StringVar(&override.GroundStation, "ground-station", "", "ground station position \"x,y,z\"")
	flag.StringVar(&override.ResourcePoint, "resource-point", "", "resource point position \"x,y,z\"")
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: %s [flags] [command]

Commands:
  run              fly the configured mission (default)
  plan             print the planned route and the feasibility of every hop
  upload <path>... upload run databases (files or directories) to the archive

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
	command := "run"
	if len(args) > 0 {
		command = strings.ToLower(args[0])
		args = args[1:]
	}

	mcfg, err := override.apply(config.GetMissionConfig())
	if err == nil && command != "upload" {
		err = mcfg.Validate()
	}
	switch {
	case err != nil:
	case command == "run":
		err = runMission(ctx, n, mcfg)
	case command == "plan":
		err = printPlan(os.Stdout, mcfg)
	case command == "upload":
		err = uploadRuns(n, args)
	default:
		flag.Usage()
		err = fmt.Errorf("unknown command %q", command)
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
