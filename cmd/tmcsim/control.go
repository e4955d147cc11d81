// cmd/tmcsim/control.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mmp/tmcsim/client"
	"github.com/mmp/tmcsim/log"
	"github.com/mmp/tmcsim/sim"
	"github.com/mmp/tmcsim/util"

	"github.com/goforj/godump"
)

var errUsage = errors.New("usage")

type controlCommand struct {
	usage string
	nargs int
	run   func(ctx context.Context, c *client.ControlClient, args []string) (any, error)
}

var controlCommands map[string]controlCommand

func init() {
	noResult := func(f func(c *client.ControlClient) error) func(context.Context, *client.ControlClient, []string) (any, error) {
		return func(_ context.Context, c *client.ControlClient, _ []string) (any, error) {
			return nil, f(c)
		}
	}
	withLog := func(f func(c *client.ControlClient, ln int) error) func(context.Context, *client.ControlClient, []string) (any, error) {
		return func(_ context.Context, c *client.ControlClient, args []string) (any, error) {
			ln, err := strconv.Atoi(args[0])
			if err != nil {
				return nil, fmt.Errorf("%s: invalid log number", args[0])
			}
			return nil, f(c, ln)
		}
	}

	controlCommands = map[string]controlCommand{
		"load": {"load <local script file>", 1, func(_ context.Context, c *client.ControlClient, args []string) (any, error) {
			return nil, c.LoadScript(args[0])
		}},
		"loadfile": {"loadfile <script file on the coordinator>", 1, func(_ context.Context, c *client.ControlClient, args []string) (any, error) {
			return nil, c.LoadScriptFile(args[0])
		}},
		"unload": {"unload", 0, noResult((*client.ControlClient).UnloadScript)},
		"start":  {"start", 0, noResult((*client.ControlClient).StartSimulation)},
		"pause":  {"pause", 0, noResult((*client.ControlClient).PauseSimulation)},
		"reset":  {"reset", 0, noResult((*client.ControlClient).ResetSimulation)},
		"goto": {"goto <HH:MM:SS>", 1, func(_ context.Context, c *client.ControlClient, args []string) (any, error) {
			t, err := util.ParseSimTime(args[0])
			if err != nil {
				return nil, err
			}
			return nil, c.GotoSimulationTime(t)
		}},

		"trigger": {"trigger <log>", 1, withLog((*client.ControlClient).TriggerIncident)},
		"delete":  {"delete <log>", 1, withLog((*client.ControlClient).DeleteIncident)},
		"reschedule": {"reschedule <log> <HH:MM:SS>", 2, func(_ context.Context, c *client.ControlClient, args []string) (any, error) {
			ln, err := strconv.Atoi(args[0])
			if err != nil {
				return nil, fmt.Errorf("%s: invalid log number", args[0])
			}
			t, err := util.ParseSimTime(args[1])
			if err != nil {
				return nil, err
			}
			return nil, c.RescheduleIncident(ln, t)
		}},
		"complete": {"complete <log> <event index>", 2, func(_ context.Context, c *client.ControlClient, args []string) (any, error) {
			ln, err := strconv.Atoi(args[0])
			if err != nil {
				return nil, fmt.Errorf("%s: invalid log number", args[0])
			}
			idx, err := strconv.Atoi(args[1])
			if err != nil {
				return nil, fmt.Errorf("%s: invalid event index", args[1])
			}
			return nil, c.CompleteEvent(ln, idx)
		}},

		"paramics": {"paramics <status number>", 1, func(_ context.Context, c *client.ControlClient, args []string) (any, error) {
			s, err := strconv.Atoi(args[0])
			if err != nil || !sim.ParamicsStatus(s).Valid() {
				return nil, fmt.Errorf("%s: invalid Paramics status", args[0])
			}
			return nil, c.SetParamicsStatus(sim.ParamicsStatus(s))
		}},
		"connect":    {"connect", 0, noResult((*client.ControlClient).ConnectToParamics)},
		"disconnect": {"disconnect", 0, noResult((*client.ControlClient).DisconnectFromParamics)},
		"network": {"network <id>", 1, func(_ context.Context, c *client.ControlClient, args []string) (any, error) {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return nil, fmt.Errorf("%s: invalid network ID", args[0])
			}
			return nil, c.LoadParamicsNetwork(id)
		}},
		"loadednetwork": {"loadednetwork", 0, func(_ context.Context, c *client.ControlClient, _ []string) (any, error) {
			return c.GetParamicsNetworkLoaded()
		}},

		"cms": {"cms <id>", 1, func(_ context.Context, c *client.ControlClient, args []string) (any, error) {
			return c.GetCMSDiversionInfo(args[0])
		}},
		"cmsids": {"cmsids", 0, func(_ context.Context, c *client.ControlClient, _ []string) (any, error) {
			return c.GetCMSIDs()
		}},
		"divert": {"divert <cms id> <diversion index> <percent>", 3, func(_ context.Context, c *client.ControlClient, args []string) (any, error) {
			info, err := c.GetCMSDiversionInfo(args[0])
			if err != nil {
				return nil, err
			}
			idx, err := strconv.Atoi(args[1])
			if err != nil || idx < 0 || idx >= len(info.Diversions) {
				return nil, fmt.Errorf("%s: invalid diversion index", args[1])
			}
			pct, err := strconv.Atoi(args[2])
			if err != nil {
				return nil, fmt.Errorf("%s: invalid percentage", args[2])
			}
			info.Diversions[idx].SetCurrent(pct)
			return nil, c.ApplyDiversions(info)
		}},

		"status": {"status", 0, func(_ context.Context, c *client.ControlClient, _ []string) (any, error) {
			return c.GetScriptStatus()
		}},
		"time": {"time", 0, func(_ context.Context, c *client.ControlClient, _ []string) (any, error) {
			t, err := c.GetCurrentSimulationTime()
			return util.FormatSimTime(t), err
		}},
		"incidents": {"incidents", 0, func(_ context.Context, c *client.ControlClient, _ []string) (any, error) {
			return c.GetIncidentList()
		}},
		"triggered": {"triggered", 0, func(_ context.Context, c *client.ControlClient, _ []string) (any, error) {
			return c.GetTriggeredEvents()
		}},
		"watch": {"watch", 0, watch},
	}
}

func runControl(ctx context.Context, addr string, args []string, lg *log.Logger) error {
	if len(args) == 0 || args[0] == "help" {
		for _, name := range util.SortedMapKeys(controlCommands) {
			fmt.Println("  " + controlCommands[name].usage)
		}
		return nil
	}

	cmd, ok := controlCommands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command; \"help\" lists them")
	}
	if len(args)-1 != cmd.nargs {
		return fmt.Errorf("%w: %s", errUsage, cmd.usage)
	}

	c, _, err := client.ConnectControl(addr, "tmcsim "+args[0], lg)
	if err != nil {
		return err
	}
	defer c.Disconnect()

	result, err := cmd.run(ctx, c, args[1:])
	if err != nil {
		return err
	}
	switch {
	case result == nil:
	case *dump:
		fmt.Print(godump.DumpStr(result))
	default:
		fmt.Printf("%v\n", result)
	}
	return nil
}

// watch prints simulation events until ctx is canceled.
func watch(ctx context.Context, c *client.ControlClient, _ []string) (any, error) {
	st := c.State()
	fmt.Printf("%s %s, %d incidents\n", util.FormatSimTime(st.Time), st.Status, len(st.Incidents))

	var err error
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for err == nil {
		select {
		case <-ctx.Done():
			return nil, nil
		case <-ticker.C:
			c.GetUpdates(func(e sim.Event) {
				if e.Type == sim.TickEvent {
					return
				}
				if *dump {
					fmt.Fprint(os.Stdout, godump.DumpStr(e))
				} else {
					fmt.Printf("%s %v\n", util.FormatSimTime(e.Time), e)
				}
			}, func(e error) { err = e })
		}
	}
	return nil, err
}
