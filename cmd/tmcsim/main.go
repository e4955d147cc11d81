// cmd/tmcsim/main.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package main

// tmcsim runs the coordinator (-runserver), a line-mode CAD terminal
// (-terminal), or a single simulation manager command (-control).

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/mmp/tmcsim/log"
	"github.com/mmp/tmcsim/server"
)

var (
	logLevel      = flag.String("loglevel", "info", "logging level: debug, info, warn, error")
	logDir        = flag.String("logdir", "", "log file directory")
	runServer     = flag.Bool("runserver", false, "run the coordinator")
	serverAddress = flag.String("server", "localhost", "address of the coordinator")
	terminal      = flag.Int("terminal", 0, "run a CAD terminal at the given position")
	userID        = flag.String("user", "", "user ID to sign on to the CAD terminal with")
	control       = flag.String("control", "", "run a simulation manager command (e.g. \"goto 00:05:00\"); \"help\" lists them")
	dump          = flag.Bool("dump", false, "dump command results in full")
)

func main() {
	config, err := server.ConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	config.RegisterFlags(flag.CommandLine)
	flag.Parse()

	lg := log.New(*runServer, *logLevel, *logDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *runServer:
		if err := server.LaunchServer(ctx, config, lg); err != nil {
			lg.Errorf("%v", err)
			os.Exit(1)
		}

	case *control != "":
		addr := withPort(*serverAddress, config.Port)
		if err := runControl(ctx, addr, strings.Fields(*control), lg); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", *control, err)
			os.Exit(1)
		}

	case *terminal != 0:
		addr := withPort(*serverAddress, config.CADPort)
		user := *userID
		if user == "" {
			user = fmt.Sprintf("A%05d", *terminal)
		}
		if err := runTerminal(ctx, addr, *terminal, user, os.Stdin, os.Stdout, lg); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	default:
		flag.Usage()
		os.Exit(2)
	}
}

// withPort adds the given port to addr if it doesn't already have one.
func withPort(addr string, port int) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(port))
}
