package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperspot/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperspot/pkg/crypto"
)

func main() {
	keyHex := flag.String("key", "", "hex private key (generated when empty)")
	typ := flag.String("type", "limit_order", "deposit | withdraw | limit_order | market_order | add_token")
	ticker := flag.String("ticker", "LINK", "asset ticker")
	amount := flag.String("amount", "1", "amount in base units")
	price := flag.String("price", "", "limit price in base-currency units")
	side := flag.String("side", "buy", "buy | sell")
	tokenAddr := flag.String("token", "", "token contract address (add_token)")
	nonce := flag.Uint64("nonce", 1, "per-owner nonce, strictly increasing")
	chainID := flag.Int64("chain-id", 1337, "EIP-712 domain chain id")
	exchange := flag.String("exchange", "", "EIP-712 verifying contract (EXCHANGE_ADDRESS)")
	flag.Parse()

	if err := run(*keyHex, *typ, *ticker, *amount, *price, *side, *tokenAddr, *nonce, *chainID, *exchange); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(keyHex, typ, ticker, amount, price, side, tokenAddr string, nonce uint64, chainID int64, exchange string) error {
	// Step 1: Generate or load key
	var signer *crypto.Signer
	var err error
	if keyHex == "" {
		if signer, err = crypto.GenerateKey(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	} else if signer, err = crypto.FromPrivateKeyHex(keyHex); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Address: %s\n", signer.Address().Hex())

	// Step 2: Build the action
	p := transaction.ActionPayload{
		Ticker: ticker,
		Nonce:  strconv.FormatUint(nonce, 10),
		Owner:  signer.Address().Hex(),
	}
	switch transaction.ActionType(typ) {
	case transaction.TypeAddToken:
		p.Token = tokenAddr
	case transaction.TypeLimitOrder, transaction.TypeMarketOrder:
		p.Amount = amount
		p.Price = price
		switch side {
		case "buy":
			p.Side = 0
		case "sell":
			p.Side = 1
		default:
			return fmt.Errorf("invalid side %q", side)
		}
	default:
		p.Amount = amount
	}
	tx := &transaction.SignedAction{Type: transaction.ActionType(typ), Action: p}

	// Step 3: Sign with EIP-712
	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(chainID)
	if exchange != "" {
		if !common.IsHexAddress(exchange) {
			return fmt.Errorf("invalid exchange address %q", exchange)
		}
		domain.VerifyingContract = common.HexToAddress(exchange)
	}
	if err := transaction.Sign(domain, signer, tx); err != nil {
		return err
	}

	// Step 4: Verify locally before printing
	if _, err := transaction.NewVerifier(domain).Verify(tx); err != nil {
		return fmt.Errorf("self-check failed: %w", err)
	}

	out, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	fmt.Fprintln(os.Stderr, "Submit with: POST http://localhost:8080/api/v1/actions")
	return nil
}
