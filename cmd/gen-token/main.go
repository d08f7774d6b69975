// Command gen-token prints bearer tokens accepted by a board service running
// with LOCAL_AUTH_SHARED_SECRET.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/ferdipret/cred-task/api"
)

func main() {
	var (
		count  = flag.Int("count", 1, "number of tokens to generate")
		prefix = flag.String("prefix", "dev-user", "user id, or id prefix when count > 1")
		start  = flag.Int("start", 1, "first index appended to prefix when count > 1")
		ttl    = flag.Duration("ttl", time.Hour, "token lifetime")
		output = flag.String("output", "", "also write the tokens to this file as a JSON array")
	)
	flag.Parse()

	auth, err := authFromEnv(os.LookupEnv)
	if err != nil {
		log.Fatal(err)
	}
	tokens, err := generateTokens(auth, *count, *prefix, *start, *ttl)
	if err != nil {
		log.Fatalf("generate tokens: %v", err)
	}
	if *output != "" {
		if err := writeTokens(*output, tokens); err != nil {
			log.Fatalf("write tokens: %v", err)
		}
	}
	fmt.Print(tokens[0])
}

func authFromEnv(lookup func(string) (string, bool)) (*api.Auth, error) {
	secret, _ := lookup("LOCAL_AUTH_SHARED_SECRET")
	if secret == "" {
		return nil, errors.New("LOCAL_AUTH_SHARED_SECRET must be set")
	}
	audience, _ := lookup("AUTH0_AUDIENCE")
	issuer := ""
	if domain, _ := lookup("AUTH0_DOMAIN"); domain != "" {
		issuer = "https://" + domain + "/"
	}
	return api.NewSharedSecretAuth([]byte(secret), audience, issuer), nil
}

func generateTokens(auth *api.Auth, count int, prefix string, start int, ttl time.Duration) ([]string, error) {
	if count < 1 {
		return nil, errors.New("count must be at least 1")
	}
	tokens := make([]string, count)
	for i := range tokens {
		sub := prefix
		if count > 1 {
			sub = fmt.Sprintf("%s-%d", prefix, start+i)
		}
		tok, err := auth.IssueToken(sub, ttl)
		if err != nil {
			return nil, err
		}
		tokens[i] = tok
	}
	return tokens, nil
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
