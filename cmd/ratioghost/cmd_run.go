package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AlwaysKaffa/ratioghost"
	"github.com/AlwaysKaffa/ratioghost/log"
	"github.com/AlwaysKaffa/ratioghost/option"

	E "github.com/sagernet/sing/common/exceptions"

	"github.com/spf13/cobra"
)

var commandRun = &cobra.Command{
	Use:   "run",
	Short: "Run the announce proxy",
	Run: func(cmd *cobra.Command, args []string) {
		err := run()
		if err != nil {
			log.Fatal(err)
		}
	},
}

func init() {
	mainCommand.AddCommand(commandRun)
}

func create() (*ratioghost.Ghost, error) {
	options, err := readConfig()
	if err != nil {
		return nil, err
	}
	if disableColor {
		if options.Log == nil {
			options.Log = &option.LogOptions{}
		}
		options.Log.DisableColor = true
	}
	instance, err := ratioghost.New(ratioghost.Options{
		Options:    options,
		ConfigPath: configPath,
	})
	if err != nil {
		return nil, E.Cause(err, "create service")
	}
	err = instance.Start()
	if err != nil {
		instance.Close()
		return nil, E.Cause(err, "start service")
	}
	return instance, nil
}

func run() error {
	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(osSignals)
	for {
		instance, err := create()
		if err != nil {
			return err
		}
		osSignal := <-osSignals
		closeCtx, closed := context.WithCancel(context.Background())
		go closeMonitor(closeCtx)
		instance.Close()
		closed()
		if osSignal != syscall.SIGHUP {
			return nil
		}
	}
}

func closeMonitor(ctx context.Context) {
	time.Sleep(10 * time.Second)
	select {
	case <-ctx.Done():
		return
	default:
	}
	log.Fatal("ratioghost did not close!")
}
