// The client command runs an interactive chat client. It requires a login
// id; host and port default to the local server.
package main

import (
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"chatrelay/cacher"
	"chatrelay/chat"
	"chatrelay/config"
	"chatrelay/console"
	"chatrelay/logger"
	"chatrelay/resolver"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg := config.FromEnv()

	fs := flag.NewFlagSet("chat-client", flag.ContinueOnError)
	loginID := fs.StringP("login", "l", "", "Login id (required)")
	host := fs.StringP("host", "H", cfg.Host, "Server host")
	port := fs.IntP("port", "p", cfg.Port, "Server port")
	logLevel := fs.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	cacheBackend := fs.String("cache-backend", cfg.CacheBackend, "Resolver cache backend (memory or redis)")
	redisAddr := fs.String("redis-addr", cfg.RedisAddr, "Redis address for the redis cache backend")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *loginID == "" {
		fmt.Fprintln(os.Stderr, "ERROR - No login ID specified.  Connection aborted.")
		return 1
	}

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	log := logger.New(os.Stderr, "chat-client", level)
	ui := console.NewStdio(console.WithPrompt("> "))

	var cache cacher.Cacher[string]
	if *cacheBackend == config.CacheBackendRedis {
		cache = cacher.NewRedisCacher[string](redis.NewClient(&redis.Options{Addr: *redisAddr}))
	} else {
		cache = cacher.NewMemoryCacher[string](cfg.ResolveTTL, cfg.ResolveTTL)
	}

	res := resolver.New(cache, cfg.ResolveTTL)

	sess, err := chat.NewClientSession(*loginID, *host, *port, ui, log,
		chat.WithResolver(res.Resolve))
	if err != nil {
		log.Error("connect failed", logger.Field{Key: "error", Value: err})
		fmt.Fprintln(os.Stderr, "ERROR - Can't setup connection! Terminating client.")
		return 1
	}

	go func() {
		if err := ui.Run(sess.HandleInput); err != nil {
			log.Error("console read failed", logger.Field{Key: "error", Value: err})
		}
	}()

	<-sess.Done()

	return 0
}
