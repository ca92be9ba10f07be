package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"

	"stablecore/cmd/internal/passphrase"
	"stablecore/crypto"
)

const (
	keygenCommand  = "keygen"
	addressCommand = "address"
	tokenCommand   = "token"

	defaultPassEnv   = "DSC_KEYSTORE_PASS"
	defaultSecretEnv = "DSCD_HMAC_SECRET"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case keygenCommand:
		err = runKeygen(os.Args[2:], os.Stdout)
	case addressCommand:
		err = runAddress(os.Args[2:], os.Stdout)
	case tokenCommand:
		err = runToken(os.Args[2:], os.Stdout)
	default:
		usage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: dscctl <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  keygen   generate an operator key and write it to an encrypted keystore")
	fmt.Fprintln(w, "  address  print the address held in a keystore")
	fmt.Fprintln(w, "  token    issue a bearer token for the dscd API")
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(keygenCommand, flag.ContinueOnError)
	keystorePath := fs.String("keystore", "operator.keystore", "Output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pass, err := passphrase.NewSource(*passEnv).Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	if err := crypto.SaveToKeystore(*keystorePath, key, pass, *force); err != nil {
		return err
	}
	fmt.Fprintf(out, "address: %s\nkeystore: %s\n", key.Address().Hex(), *keystorePath)
	return nil
}

func runAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(addressCommand, flag.ContinueOnError)
	keystorePath := fs.String("keystore", "operator.keystore", "Path to the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := keystoreAddress(*keystorePath, *passEnv)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, addr.Hex())
	return nil
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ContinueOnError)
	subject := fs.String("sub", "", "Caller address; defaults to the keystore address")
	keystorePath := fs.String("keystore", "", "Keystore whose address becomes the subject")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	secretEnv := fs.String("secret-env", defaultSecretEnv, "Environment variable containing the API HMAC secret")
	issuer := fs.String("issuer", "dscd", "Token issuer")
	audience := fs.String("audience", "", "Token audience")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var caller common.Address
	switch {
	case strings.TrimSpace(*subject) != "":
		if !common.IsHexAddress(strings.TrimSpace(*subject)) {
			return fmt.Errorf("sub must be a hex address")
		}
		caller = common.HexToAddress(strings.TrimSpace(*subject))
	case *keystorePath != "":
		addr, err := keystoreAddress(*keystorePath, *passEnv)
		if err != nil {
			return err
		}
		caller = addr
	default:
		return fmt.Errorf("either -sub or -keystore is required")
	}

	secret := strings.TrimSpace(os.Getenv(*secretEnv))
	if secret == "" {
		return fmt.Errorf("%s must hold the API HMAC secret", *secretEnv)
	}
	signed, err := issueToken(secret, caller, *issuer, *audience, *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, signed)
	return nil
}

func keystoreAddress(path, passEnv string) (common.Address, error) {
	pass, err := passphrase.NewSource(passEnv).Get()
	if err != nil {
		return common.Address{}, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return common.Address{}, err
	}
	return key.Address(), nil
}

// issueToken signs an HS256 token whose subject is the caller address.
func issueToken(secret string, caller common.Address, issuer, audience string, ttl time.Duration, now time.Time) (string, error) {
	if caller == (common.Address{}) {
		return "", fmt.Errorf("caller must not be the zero address")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive")
	}
	claims := jwt.RegisteredClaims{
		Subject:   caller.Hex(),
		Issuer:    strings.TrimSpace(issuer),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if aud := strings.TrimSpace(audience); aud != "" {
		claims.Audience = jwt.ClaimStrings{aud}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
