package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pjfl/p5-async-ipc/builder"
	"github.com/pjfl/p5-async-ipc/factory"
	"github.com/pjfl/p5-async-ipc/loop"
	"github.com/pjfl/p5-async-ipc/process"
)

func main() {
	if process.RunEntrypoint() {
		return
	}

	l, err := loop.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer l.Close()

	b := builder.New(builder.Config{TempDir: os.TempDir()}, false)
	f := factory.New(l, b)

	tick := 0
	p, err := f.NewPeriodical(factory.PeriodicalOpts{
		Name:     "heartbeat",
		Interval: int64(time.Second),
		Cb: func() {
			tick++
			fmt.Printf("tick %d\n", tick)
			if tick >= 3 {
				l.Stop()
			}
		},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := p.Start(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	_, _ = l.WatchSignal("TERM", func() { l.Stop() })
	_, _ = l.WatchSignal("INT", func() { l.Stop() })

	l.Start()
	p.Close()
}
