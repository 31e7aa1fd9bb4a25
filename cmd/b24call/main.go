// Command b24call invokes one REST method against the portal whose
// credentials are stored in a local file and prints the response as JSON.
//
// Usage:
//
//	b24call [-credentials file] [-timeout d] [-v] method ['{"params":"json"}']
//
// B24_CLIENT_ID and B24_CLIENT_SECRET identify the application; a .env file
// in the working directory is honored.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	bitrix24 "github.com/OlegKolesnikoff/bitrix24-api-client"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "b24call:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	credsPath := flag.String("credentials", "credentials.json", "path to the credentials file")
	timeout := flag.Duration("timeout", 30*time.Second, "overall call timeout")
	verbose := flag.Bool("v", false, "log requests to stderr")
	flag.Parse()

	if flag.NArg() < 1 {
		return fmt.Errorf("usage: b24call [flags] method ['{\"params\":\"json\"}']")
	}
	method := flag.Arg(0)
	params := map[string]any{}
	if flag.NArg() > 1 {
		if err := json.Unmarshal([]byte(flag.Arg(1)), &params); err != nil {
			return fmt.Errorf("parse params: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store := bitrix24.NewFileStore(*credsPath)
	record, err := store.Read(ctx, bitrix24.Credentials{})
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("no credentials in %s; install the application first", *credsPath)
	}

	client, err := bitrix24.New(bitrix24.Config{
		ClientID:     os.Getenv("B24_CLIENT_ID"),
		ClientSecret: os.Getenv("B24_CLIENT_SECRET"),
		Store:        store,
		LogEnabled:   *verbose,
	})
	if err != nil {
		return err
	}

	res, err := client.Call(ctx, method, params, bitrix24.Credentials{Domain: record.Domain})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
