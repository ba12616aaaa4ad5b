// mintward-cli is a command-line client for interacting with a mintwardd
// daemon.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/mintward/mintward/internal/rpcclient"
	"github.com/mintward/mintward/pkg/types"
	"golang.org/x/term"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// Parse global flags that appear before the subcommand.
	rpcURL := "http://127.0.0.1:8790"
	wallet := "default"

	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		case args[0] == "--wallet" && len(args) > 1:
			wallet = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--wallet="):
			wallet = args[0][len("--wallet="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	client := rpcclient.New(rpcURL)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "wallet":
		cmdWallet(ctx, client, wallet, cmdArgs)
	case "balance":
		cmdBalance(ctx, client, wallet)
	case "notes":
		cmdNotes(ctx, client, wallet, cmdArgs)
	case "issue":
		cmdIssue(ctx, client, wallet, cmdArgs)
	case "spend":
		cmdSpend(ctx, client, wallet, cmdArgs)
	case "recover":
		cmdRecover(ctx, client, wallet, cmdArgs)
	case "invoke":
		cmdInvoke(ctx, client, wallet, cmdArgs)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: mintward-cli [global flags] <command> [args]

Global flags:
  --rpc <url>        RPC endpoint (default: http://127.0.0.1:8790)
  --wallet <id>      Wallet identity (default: "default")

Commands:
  wallet create            Create a wallet, print its backup mnemonic
  wallet restore           Restore a wallet from a mnemonic
  wallet open              Open the wallet on the daemon
  wallet close             Close the wallet
  wallet list              List known wallets

  balance                  Show total balance and per-denomination counts
  notes [amount]           List notes, optionally for one denomination

  issue request <amount>                  Reserve a nonce for issuance
  issue confirm <amount> <index> [sig]    Record an issued note (sig is base64)
  issue abandon <amount> <index>          Mark a reserved index as unused

  spend confirm <amount> <nonce>          Remove a spent note
  spend prove <amount> <nonce> <text>     Sign a redemption challenge
  spend cancel <operation>                Cancel an out-of-band spend
  spend await-cancel <operation>          Wait for a spend cancellation

  recover status           Show recovery progress
  recover start            Start a history replay
  recover await            Stream recovery progress until finalized

  invoke <capability> <method> [json]     Raw capability invocation
`)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// readLine reads one line from stdin.
func readLine() string {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		fatal(fmt.Errorf("read input: %w", err))
	}
	return strings.TrimSpace(line)
}

// promptPassword reads a password without echo.
func promptPassword(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fatal(fmt.Errorf("read password: %w", err))
	}
	return string(pw)
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(out))
}

func cmdWallet(ctx context.Context, client *rpcclient.Client, wallet string, args []string) {
	if len(args) == 0 {
		fatal(fmt.Errorf("wallet subcommand required: create, restore, open, close, list"))
	}
	switch args[0] {
	case "create":
		pw := promptPassword("New wallet password: ")
		if pw != promptPassword("Confirm password: ") {
			fatal(fmt.Errorf("passwords do not match"))
		}
		mnemonic, err := client.CreateWallet(ctx, wallet, pw)
		if err != nil {
			fatal(err)
		}
		fmt.Println("Wallet created. Write down the backup mnemonic:")
		fmt.Println()
		fmt.Println("  " + mnemonic)
	case "restore":
		fmt.Fprint(os.Stderr, "Mnemonic: ")
		words := strings.Fields(readLine())
		if len(words) == 0 {
			fatal(fmt.Errorf("empty mnemonic"))
		}
		passphrase := promptPassword("Mnemonic passphrase (empty for none): ")
		pw := promptPassword("New wallet password: ")
		if err := client.RestoreWallet(ctx, wallet, strings.Join(words, " "), passphrase, pw); err != nil {
			fatal(err)
		}
		fmt.Println("Wallet restored. Open it to replay the federation history.")
	case "open":
		pw := promptPassword("Wallet password: ")
		if err := client.OpenWallet(ctx, wallet, pw); err != nil {
			fatal(err)
		}
		fmt.Printf("Wallet %q open.\n", wallet)
	case "close":
		if err := client.CloseWallet(ctx, wallet); err != nil {
			fatal(err)
		}
		fmt.Printf("Wallet %q closed.\n", wallet)
	case "list":
		infos, err := client.ListWallets(ctx)
		if err != nil {
			fatal(err)
		}
		for _, info := range infos {
			state := "closed"
			if info.Open {
				state = "open"
			}
			fmt.Printf("%-24s %s\n", info.ID, state)
		}
	default:
		fatal(fmt.Errorf("unknown wallet subcommand: %s", args[0]))
	}
}

func cmdBalance(ctx context.Context, client *rpcclient.Client, wallet string) {
	var bal struct {
		Total types.Amount            `json:"total"`
		Tiers map[types.Amount]uint64 `json:"tiers"`
	}
	if err := client.Call(ctx, wallet, "mint", "balance", nil, &bal); err != nil {
		fatal(err)
	}
	fmt.Printf("Total: %d msat\n", bal.Total)
	for amount, count := range bal.Tiers {
		fmt.Printf("  %12d msat x %d\n", amount, count)
	}
}

func cmdNotes(ctx context.Context, client *rpcclient.Client, wallet string, args []string) {
	payload := map[string]interface{}{}
	if len(args) > 0 {
		amount, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			fatal(fmt.Errorf("invalid amount: %w", err))
		}
		payload["amount"] = amount
	}
	err := client.Stream(ctx, wallet, "mint", "list_notes", payload, func(data json.RawMessage) error {
		var n types.Note
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		fmt.Printf("%12d msat  %s\n", n.Amount, n.Nonce)
		return nil
	})
	if err != nil {
		fatal(err)
	}
}

func cmdIssue(ctx context.Context, client *rpcclient.Client, wallet string, args []string) {
	if len(args) < 2 {
		fatal(fmt.Errorf("usage: issue request <amount> | confirm <amount> <index> [sig] | abandon <amount> <index>"))
	}
	amount, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fatal(fmt.Errorf("invalid amount: %w", err))
	}
	switch args[0] {
	case "request":
		var res json.RawMessage
		err := client.Call(ctx, wallet, "mint", "request_issuance",
			map[string]interface{}{"amount": amount}, &res)
		if err != nil {
			fatal(err)
		}
		printJSON(res)
	case "confirm", "abandon":
		if len(args) < 3 {
			fatal(fmt.Errorf("usage: issue %s <amount> <index>", args[0]))
		}
		index, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			fatal(fmt.Errorf("invalid index: %w", err))
		}
		payload := map[string]interface{}{"amount": amount, "index": index}
		if args[0] == "confirm" && len(args) > 3 {
			payload["signature"] = args[3]
		}
		method := "confirm_issuance"
		if args[0] == "abandon" {
			method = "abandon_issuance"
		}
		if err := client.Call(ctx, wallet, "mint", method, payload, nil); err != nil {
			fatal(err)
		}
		fmt.Println("ok")
	default:
		fatal(fmt.Errorf("unknown issue subcommand: %s", args[0]))
	}
}

func cmdSpend(ctx context.Context, client *rpcclient.Client, wallet string, args []string) {
	if len(args) < 2 {
		fatal(fmt.Errorf("usage: spend confirm <amount> <nonce> | prove <amount> <nonce> <challenge> | cancel <operation> | await-cancel <operation>"))
	}
	switch args[0] {
	case "confirm":
		if len(args) < 3 {
			fatal(fmt.Errorf("usage: spend confirm <amount> <nonce>"))
		}
		amount, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			fatal(fmt.Errorf("invalid amount: %w", err))
		}
		payload := map[string]interface{}{"amount": amount, "nonce": args[2]}
		if err := client.Call(ctx, wallet, "mint", "confirm_spend", payload, nil); err != nil {
			fatal(err)
		}
		fmt.Println("ok")
	case "prove":
		if len(args) < 4 {
			fatal(fmt.Errorf("usage: spend prove <amount> <nonce> <challenge>"))
		}
		amount, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			fatal(fmt.Errorf("invalid amount: %w", err))
		}
		payload := map[string]interface{}{
			"amount":    amount,
			"nonce":     args[2],
			"challenge": []byte(args[3]),
		}
		var res json.RawMessage
		if err := client.Call(ctx, wallet, "mint", "prove_spend", payload, &res); err != nil {
			fatal(err)
		}
		printJSON(res)
	case "cancel", "await-cancel":
		method := "cancel_oob_spend"
		if args[0] == "await-cancel" {
			method = "await_oob_cancelled"
		}
		payload := map[string]interface{}{"operation": args[1]}
		if err := client.Call(ctx, wallet, "mint", method, payload, nil); err != nil {
			fatal(err)
		}
		fmt.Println("ok")
	default:
		fatal(fmt.Errorf("unknown spend subcommand: %s", args[0]))
	}
}

func cmdRecover(ctx context.Context, client *rpcclient.Client, wallet string, args []string) {
	if len(args) == 0 {
		fatal(fmt.Errorf("recover subcommand required: status, start, await"))
	}
	switch args[0] {
	case "status":
		var res json.RawMessage
		if err := client.Call(ctx, wallet, "recovery", "status", nil, &res); err != nil {
			fatal(err)
		}
		printJSON(res)
	case "start":
		if err := client.Call(ctx, wallet, "recovery", "start", nil, nil); err != nil {
			fatal(err)
		}
		fmt.Println("recovery started")
	case "await":
		err := client.Stream(ctx, wallet, "recovery", "await", nil, func(data json.RawMessage) error {
			fmt.Println(string(data))
			return nil
		})
		if err != nil {
			fatal(err)
		}
	default:
		fatal(fmt.Errorf("unknown recover subcommand: %s", args[0]))
	}
}

func cmdInvoke(ctx context.Context, client *rpcclient.Client, wallet string, args []string) {
	if len(args) < 2 {
		fatal(fmt.Errorf("usage: invoke <capability> <method> [json-payload]"))
	}
	var payload json.RawMessage
	if len(args) > 2 {
		payload = json.RawMessage(args[2])
	}
	err := client.Stream(ctx, wallet, args[0], args[1], payload, func(data json.RawMessage) error {
		fmt.Println(string(data))
		return nil
	})
	if err != nil {
		fatal(err)
	}
}
