// The server command runs the chat server with its operator console.
// It takes one optional positional argument, the listen port, defaulting to
// 5555 when missing or unparsable.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"chatrelay/chat"
	"chatrelay/config"
	"chatrelay/console"
	"chatrelay/logger"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg := config.FromEnv()

	fs := flag.NewFlagSet("chat-server", flag.ContinueOnError)
	logLevel := fs.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if fs.NArg() > 0 {
		if port, err := strconv.Atoi(fs.Arg(0)); err == nil {
			cfg.Port = port
		}
	}

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	log := logger.New(os.Stderr, "chat-server", level)
	ui := console.NewStdio(console.WithPrefix("SERVER MSG> "), console.WithPrompt("> "))

	sess := chat.NewServerSession(cfg.Port, ui, log)
	if err := sess.Listen(); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR - Could not listen for clients!")
		// The console stays up so the operator can #setport and #start.
	}

	go func() {
		if err := ui.Run(sess.HandleConsoleInput); err != nil {
			log.Error("console read failed", logger.Field{Key: "error", Value: err})
		}
	}()

	<-sess.Done()

	return 0
}
