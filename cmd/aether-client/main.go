// Package main provides the entry point for the Aether KV command-line
// client: one-shot get/set/rm subcommands against a running aether-server.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/aether-kv/aether-kv/internal/client"
	"github.com/aether-kv/aether-kv/internal/config"
	"github.com/aether-kv/aether-kv/internal/engine"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg := config.Default()

	fs := pflag.NewFlagSet("aether-client", pflag.ContinueOnError)
	addr := fs.String("addr", cfg.Addr, "TCP address of the aether-server to connect to")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "usage: aether-client [--addr ADDR] get KEY | set KEY VALUE | rm KEY")
		return 1
	}

	c := client.New(*addr)

	switch rest[0] {
	case "get":
		if len(rest) != 2 {
			fmt.Fprintln(os.Stderr, "usage: aether-client get KEY")
			return 1
		}
		value, ok, err := c.Get(rest[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "Key not found")
			return 1
		}
		fmt.Println(value)
		return 0

	case "set":
		if len(rest) != 3 {
			fmt.Fprintln(os.Stderr, "usage: aether-client set KEY VALUE")
			return 1
		}
		if err := c.Set(rest[1], rest[2]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0

	case "rm":
		if len(rest) != 2 {
			fmt.Fprintln(os.Stderr, "usage: aether-client rm KEY")
			return 1
		}
		if err := c.Remove(rest[1]); err != nil {
			if errors.Is(err, engine.ErrKeyNotFound) {
				fmt.Fprintln(os.Stderr, "Key not found")
				return 1
			}
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0

	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", rest[0])
		return 1
	}
}
