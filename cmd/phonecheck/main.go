// Command phonecheck is the operator CLI: it validates numbers offline and
// tops up user credits.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/phonechecker/phonechecker/internal/phone"
	"github.com/phonechecker/phonechecker/internal/repository"
)

const usage = `usage:
  phonecheck validate [--region SA] [--bulk] <number|n1,n2,...>
  phonecheck credits --user-id ID --add N [--database-url URL]
`

// commandTimeout bounds every subcommand.
const commandTimeout = 10 * time.Second

// creditStore is the part of the repository the credits command needs.
type creditStore interface {
	AddCredits(ctx context.Context, userID string, n int64) (int64, error)
}

// openStore connects to PostgreSQL. Tests replace it.
var openStore = func(ctx context.Context, databaseURL string) (creditStore, func(), error) {
	repo, err := repository.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	return repo, repo.Close, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var err error
	switch args[0] {
	case "validate":
		err = validate(ctx, args[1:], stdout)
	case "credits":
		err = credits(ctx, args[1:], stdout)
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		err = fmt.Errorf("unknown command %q", args[0])
	}

	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stderr, "phonecheck:", err)
		}
		fmt.Fprint(stderr, usage)
		return 1
	}
	return 0
}

func validate(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	region := fs.String("region", os.Getenv("VALIDATOR_DEFAULT_REGION"), "default region for numbers without a leading +")
	bulk := fs.Bool("bulk", false, "treat the argument as a comma-separated list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("validate takes exactly one argument")
	}

	v := phone.NewLibPhoneNumber(strings.ToUpper(*region))
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)

	if !*bulk {
		result, err := v.Validate(ctx, strings.TrimSpace(fs.Arg(0)))
		if err != nil {
			return err
		}
		return enc.Encode(result)
	}

	numbers := strings.Split(fs.Arg(0), ",")
	results := make([]*phone.Result, 0, len(numbers))
	for _, n := range numbers {
		result, err := v.Validate(ctx, strings.TrimSpace(n))
		if err != nil {
			return fmt.Errorf("validate %q: %w", n, err)
		}
		results = append(results, result)
	}
	return enc.Encode(results)
}

func credits(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("credits", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	databaseURL := fs.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	userID := fs.String("user-id", "", "user to top up")
	add := fs.Int64("add", 0, "credits to add")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch {
	case *databaseURL == "":
		return errors.New("DATABASE_URL is required")
	case *userID == "":
		return errors.New("--user-id is required")
	case *add <= 0:
		return errors.New("--add must be positive")
	}

	store, closeStore, err := openStore(ctx, *databaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer closeStore()

	balance, err := store.AddCredits(ctx, *userID, *add)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return fmt.Errorf("user %s not found", *userID)
		}
		return fmt.Errorf("add credits: %w", err)
	}

	fmt.Fprintf(stdout, "user %s now has %d credits\n", *userID, balance)
	return nil
}
