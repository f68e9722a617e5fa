package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"arbiter/internal/cli/command"
	"arbiter/internal/cli/config"
	httpclient "arbiter/internal/cli/http"
	"arbiter/internal/cli/repl"
)

const defaultConfigPath = "configs/arbiterctl.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
	memberID := flag.Int64("member", 0, "Member identity sent with requests")
	pretty := flag.Bool("pretty", false, "Pretty print JSON response")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}

	client := httpclient.New(cfg.BaseURL, cfg.Timeout)
	if *memberID > 0 {
		client.SetMemberID(strconv.FormatInt(*memberID, 10))
	}

	commands := command.Registry()
	session := repl.New(client, commands, cfg.PrettyJSON != nil && *cfg.PrettyJSON)
	session.Run(context.Background())
}
