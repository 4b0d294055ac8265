// Package cli is the node's command-line surface: a flag.NewFlagSet per
// subcommand, in the teacher's own idiom, rather than introducing a
// framework the teacher never used. Process bootstrapping and resource
// discovery are out of scope (§1); this package only translates argv
// into facade calls.
package cli

import (
	"flag"
	"fmt"
	"time"

	"github.com/votechain/votechain/chain"
	"github.com/votechain/votechain/facade"
	"github.com/votechain/votechain/keystore"
	"github.com/votechain/votechain/token"
	"github.com/votechain/votechain/tx"
)

// CommandLine dispatches argv into operations against a running node.
// Everything except "startnode" operates against an already-open
// Engine/Facade/Keys trio; "startnode" is handled by the caller (the
// long-running server process has its own lifecycle, see main.go).
type CommandLine struct {
	Engine *chain.Engine
	Facade *facade.Facade
	Keys   *keystore.Store
	NodeID string
}

func (cl *CommandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println(" createwallet                                  - create a new signing key")
	fmt.Println(" listaddresses                                 - list this node's addresses")
	fmt.Println(" getbalance -address ADDRESS                   - print an address's balances")
	fmt.Println(" send -from FROM -to TO -amount AMOUNT         - transfer empty tokens")
	fmt.Println(" createpoll -owner OWNER -voter VOTER -q Q -opt A,B,C - mint a serialized ballot")
	fmt.Println(" castballot -poll POLL -voter VOTER -ans N      - cast an answered ballot")
	fmt.Println(" printchain                                    - print the chain's tail")
	fmt.Println(" startnode -port PORT -root-peer HOST:PORT     - run the long-lived node")
}

// Run parses args (typically os.Args[1:]) and executes the matching
// subcommand. Missing or unknown input prints usage and returns an
// error rather than exiting the process, so callers (tests, an
// embedding main) stay in control of process lifetime.
func (cl *CommandLine) Run(args []string) error {
	if len(args) < 1 {
		cl.printUsage()
		return fmt.Errorf("no command given")
	}

	switch args[0] {
	case "createwallet":
		return cl.createWallet()
	case "listaddresses":
		return cl.listAddresses()
	case "getbalance":
		return cl.getBalance(args[1:])
	case "send":
		return cl.send(args[1:])
	case "createpoll":
		return cl.createPoll(args[1:])
	case "castballot":
		return cl.castBallot(args[1:])
	case "printchain":
		return cl.printChain()
	default:
		cl.printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func (cl *CommandLine) createWallet() error {
	addr, err := cl.Keys.NewKey()
	if err != nil {
		return fmt.Errorf("createwallet: %w", err)
	}
	fmt.Printf("New address: %s\n", addr)
	return nil
}

func (cl *CommandLine) listAddresses() error {
	for _, addr := range cl.Keys.Addresses() {
		fmt.Printf("%s  (%s)\n", addr, keystore.DiagnosticID(addr))
	}
	return nil
}

func (cl *CommandLine) getBalance(args []string) error {
	fs := flag.NewFlagSet("getbalance", flag.ContinueOnError)
	address := fs.String("address", "", "address to query")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *address == "" {
		return fmt.Errorf("getbalance: Invalid Send To Address")
	}

	balances, err := cl.Facade.Balances(*address)
	if err != nil {
		return fmt.Errorf("getbalance: %w", err)
	}
	fmt.Printf("[%s] Spendable: %d  Pending ballots: %d  Submitted: %d  Confirmed: %d\n",
		keystore.DiagnosticID(*address), balances.Spendable, balances.Pending, balances.Submitted, balances.Confirmed)
	return nil
}

func (cl *CommandLine) send(args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	from := fs.String("from", "", "sender address")
	to := fs.String("to", "", "recipient address")
	amount := fs.Int64("amount", 0, "amount of empty tokens to send")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *from == "" || *to == "" {
		return fmt.Errorf("send: Invalid Send To Address")
	}
	if *amount <= 0 {
		return fmt.Errorf("send: Invalid Number of Tokens")
	}

	signer, ok := cl.Keys.Signer(*from)
	if !ok {
		return fmt.Errorf("send: no key for %s in this node's keystore", *from)
	}

	t := tx.New(tx.KindTransfer, tx.EmptyAmount(*amount), signer.Address(), *to, nowNano())
	if err := t.SelectInputs(cl.Engine); err != nil {
		return fmt.Errorf("send: Insufficient funds")
	}
	if err := t.SignOutputs(signer); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if !cl.Engine.AddTransaction(t, "") {
		return fmt.Errorf("send: Transaction Not Valid")
	}
	fmt.Printf("Submitted transaction %s\n", t.TxID)
	return nil
}

func (cl *CommandLine) createPoll(args []string) error {
	fs := flag.NewFlagSet("createpoll", flag.ContinueOnError)
	owner := fs.String("owner", "", "poll owner address")
	voter := fs.String("voter", "", "voter address")
	question := fs.String("q", "", "poll question")
	options := fs.String("opt", "", "comma-separated options")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *owner == "" || *voter == "" || *question == "" || *options == "" {
		return fmt.Errorf("createpoll: Invalid Send To Address")
	}

	if _, ok := cl.Keys.Signer(*owner); !ok {
		return fmt.Errorf("createpoll: no key for %s in this node's keystore", *owner)
	}
	// The poll's own address is a freshly derived child of owner's key
	// (§4.3), never owner's own address, so that an owner's separate
	// polls don't collide on a shared from-address.
	pollSigner, err := cl.Keys.NextPollKey(*owner)
	if err != nil {
		return fmt.Errorf("createpoll: %w", err)
	}

	opts := splitOptions(*options)
	tk := token.New(pollSigner.Address(), *voter, *question, opts, nowNano())
	t := tx.New(tx.KindSerialize, tx.TokenAmount(tk), pollSigner.Address(), *voter, nowNano())
	if err := t.SelectInputs(cl.Engine); err != nil {
		return fmt.Errorf("createpoll: Insufficient funds")
	}
	if err := t.SignOutputs(pollSigner); err != nil {
		return fmt.Errorf("createpoll: %w", err)
	}
	if !cl.Engine.AddTransaction(t, "") {
		return fmt.Errorf("createpoll: Transaction Not Valid")
	}
	fmt.Printf("Serialized ballot %s for %s\n", tk.TKID, *voter)
	return nil
}

func (cl *CommandLine) castBallot(args []string) error {
	fs := flag.NewFlagSet("castballot", flag.ContinueOnError)
	pollAddr := fs.String("poll", "", "poll address")
	voter := fs.String("voter", "", "voter address")
	ans := fs.Int("ans", -1, "index into the poll's options")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pollAddr == "" || *voter == "" || *ans < 0 {
		return fmt.Errorf("castballot: Invalid Send To Address")
	}

	signer, ok := cl.Keys.Signer(*voter)
	if !ok {
		return fmt.Errorf("castballot: no key for %s in this node's keystore", *voter)
	}

	ballots, err := cl.Engine.PendingBallots(*voter)
	if err != nil {
		return fmt.Errorf("castballot: %w", err)
	}
	for _, o := range ballots {
		if o.Value.Token == nil || o.Value.Token.PollAddress != *pollAddr {
			continue
		}
		tk := o.Value.Token
		if err := tk.Cast(*ans, signer); err != nil {
			return fmt.Errorf("castballot: %w", err)
		}
		t := tx.New(tx.KindCast, tx.TokenAmount(tk), *voter, *pollAddr, nowNano())
		if err := t.SelectInputs(cl.Engine); err != nil {
			return fmt.Errorf("castballot: %w", err)
		}
		if err := t.SignOutputs(signer); err != nil {
			return fmt.Errorf("castballot: %w", err)
		}
		if !cl.Engine.AddTransaction(t, "") {
			return fmt.Errorf("castballot: Transaction Not Valid")
		}
		fmt.Printf("Cast ballot %s\n", tk.TKID)
		return nil
	}
	return fmt.Errorf("castballot: no pending ballot for poll %s", *pollAddr)
}

func (cl *CommandLine) printChain() error {
	for _, b := range cl.Engine.Tail() {
		fmt.Printf("height=%d hash=%s prev=%s txs=%d\n", b.Height, b.Hash, b.PreviousHash, len(b.Transactions))
	}
	return nil
}

func splitOptions(raw string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func nowNano() int64 {
	return time.Now().UnixNano()
}
