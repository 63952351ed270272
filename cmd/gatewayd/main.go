package main

import (
	"fmt"
	"os"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/wattwerks/vfdgateway"
)

// cliCommand is the root go-flags parser, structured the way the
// teacher's mbcli splits subcommands per concern — here, per gateway
// control-surface operation instead of per Modbus function-code group.
type cliCommand struct {
	PortController string `long:"port-controller" description:"Serial device the Sullair HMI talks to" required:"true"`
	PortWEG        string `long:"port-weg" description:"Serial device the WEG CFW-11 is on (defaults to port-controller)"`
	Baud           int    `long:"baud" default:"38400"`
	Parity         string `long:"parity" default:"N" choice:"N" choice:"E" choice:"O"`
	StopBits       int    `long:"stopbits" default:"2" choice:"1" choice:"2"`
	SlaveIDYaskawa int    `long:"yaskawa-id" default:"6"`
	SlaveIDWEG     int    `long:"weg-id" default:"5"`

	Run        RunCommand        `command:"run" description:"Run the gateway in the foreground"`
	DirectRead DirectReadCommand  `command:"direct-read" description:"Execute a synchronous WEG register read"`
	Events     EventsCommand      `command:"events" description:"Print the recent event ring"`
}

var root cliCommand

func (c *cliCommand) toConfig() vfdgateway.Config {
	cfg := vfdgateway.DefaultConfig()
	cfg.PortController = c.PortController
	cfg.PortWEG = c.PortWEG
	if cfg.PortWEG == "" {
		cfg.PortWEG = c.PortController
	}
	cfg.Baud = c.Baud
	cfg.Parity = []byte(c.Parity)[0]
	cfg.StopBits = c.StopBits
	cfg.SlaveIDYaskawa = byte(c.SlaveIDYaskawa)
	cfg.SlaveIDWEG = byte(c.SlaveIDWEG)
	return cfg
}

// RunCommand starts the gateway and blocks until interrupted.
type RunCommand struct {
	Mode string `long:"mode" default:"redirect" choice:"redirect" choice:"listen" choice:"command"`
}

func (r *RunCommand) Execute(args []string) error {
	log := logrus.New()
	cfg := root.toConfig()
	cfg.Mode = parseMode(r.Mode)

	gw, err := vfdgateway.NewGateway(cfg, log)
	if err != nil {
		return err
	}
	if err := gw.Start(); err != nil {
		return err
	}
	log.Infof("gateway running on %s (yaskawa=%d weg=%d), mode=%s", cfg.PortController, cfg.SlaveIDYaskawa, cfg.SlaveIDWEG, cfg.Mode)

	select {}
}

// DirectReadCommand executes a synchronous WEG read via the control
// surface, for bench testing without the HMI attached.
type DirectReadCommand struct {
	Register int    `long:"register" required:"true"`
	FC       int    `long:"fc" default:"3" choice:"3" choice:"4"`
}

func (d *DirectReadCommand) Execute(args []string) error {
	log := logrus.New()
	gw, err := vfdgateway.NewGateway(root.toConfig(), log)
	if err != nil {
		return err
	}
	if err := gw.Start(); err != nil {
		return err
	}
	defer gw.Stop()

	values, err := gw.SubmitDirectRead(uint16(d.Register), byte(d.FC))
	if err != nil {
		return err
	}
	fmt.Printf("register 0x%04X = %v\n", d.Register, values)
	return nil
}

// EventsCommand dumps the event ring after a short observation window,
// useful for a quick health check from a shell.
type EventsCommand struct {
	WatchSeconds int `long:"watch-seconds" default:"5"`
}

func (e *EventsCommand) Execute(args []string) error {
	log := logrus.New()
	gw, err := vfdgateway.NewGateway(root.toConfig(), log)
	if err != nil {
		return err
	}
	if err := gw.Start(); err != nil {
		return err
	}
	defer gw.Stop()

	time.Sleep(time.Duration(e.WatchSeconds) * time.Second)
	for _, ev := range gw.EventsSnapshot() {
		fmt.Printf("[%s] %s\n", ev.Kind, ev.Text)
	}
	return nil
}

func parseMode(s string) vfdgateway.Mode {
	switch s {
	case "listen":
		return vfdgateway.ModeListen
	case "command":
		return vfdgateway.ModeCommand
	default:
		return vfdgateway.ModeRedirect
	}
}

func main() {
	parser := flags.NewParser(&root, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.Parse(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
