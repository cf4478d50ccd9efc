package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dvloznov/multibank/internal/accounts"
	"github.com/dvloznov/multibank/internal/app"
	"github.com/dvloznov/multibank/internal/auth"
	"github.com/dvloznov/multibank/internal/config"
	"github.com/dvloznov/multibank/internal/domain"
	"github.com/dvloznov/multibank/internal/identity"
	"github.com/dvloznov/multibank/internal/logger"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "whoami":
		runWhoami(log)
	case "overview":
		runOverview(log)
	case "ledger":
		runLedger(log)
	case "register":
		runRegister(log)
	case "open-account":
		runOpenAccount(log)
	case "transfer":
		runTransfer(log)
	case "export":
		runExport(log)
	case "show-export":
		runShowExport(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Multibank CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  whoami        Show the auth identity and linked profile")
	fmt.Println("  overview      Show accounts, total balance and the reconciled ledger")
	fmt.Println("  ledger        Show the reconciled ledger only")
	fmt.Println("  register      Create a profile for the auth identity")
	fmt.Println("  open-account  Open an account at a bank")
	fmt.Println("  transfer      Move money between accounts")
	fmt.Println("  export        Write a ledger snapshot to GCS")
	fmt.Println("  show-export   Print a ledger snapshot from GCS")
	fmt.Println("  help          Show this help message")
	fmt.Println("\nEvery command accepts -config, -auth-id and -token.")
	fmt.Println("Run 'cli <command> -h' for more information on a command.")
}

// session holds what every command needs once flags are parsed.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	app    *app.App
	log    zerolog.Logger
}

func (s *session) close() {
	s.app.Close()
	s.cancel()
}

// commonFlags registers the flags shared by every command.
type commonFlags struct {
	config *string
	authID *string
	token  *string
}

func newFlagSet(name string) (*flag.FlagSet, commonFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return fs, commonFlags{
		config: fs.String("config", os.Getenv("MULTIBANK_CONFIG"), "Path to YAML config file"),
		authID: fs.String("auth-id", "", "Act as this auth user ID instead of calling the auth service"),
		token:  fs.String("token", os.Getenv("MULTIBANK_TOKEN"), "Bearer access token for the auth service"),
	}
}

func open(log zerolog.Logger, cf commonFlags) *session {
	cfg, err := config.Load(*cf.config)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if level, err := logger.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(level)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	ctx = logger.WithContext(ctx, log)

	var client auth.Client
	switch {
	case *cf.authID != "":
		client = auth.Static{Identity: domain.AuthIdentity{ID: *cf.authID}}
	case cfg.Auth.URL != "":
		if *cf.token == "" {
			log.Fatal().Msg("Error: -token (or MULTIBANK_TOKEN) is required with an auth service")
		}
		ctx = auth.WithToken(ctx, *cf.token)
		client = auth.NewHTTPClient(cfg.Auth.URL, cfg.Auth.Key, &http.Client{Timeout: 10 * time.Second}).
			WithJWTSecret(cfg.Auth.JWTSecret)
	default:
		log.Fatal().Msg("Error: -auth-id is required when no auth service is configured")
	}

	a, err := app.New(ctx, cfg, client)
	if err != nil {
		cancel()
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	return &session{ctx: ctx, cancel: cancel, app: a, log: log}
}

func runWhoami(log zerolog.Logger) {
	fs, cf := newFlagSet("whoami")
	fs.Parse(os.Args[2:])

	s := open(log, cf)
	defer s.close()

	id, p, err := s.app.Reader.CurrentProfile(s.ctx)
	if err != nil && id.ID == "" {
		s.log.Fatal().Err(err).Msg("Failed to resolve identity")
	}
	fmt.Printf("Auth ID:  %s\n", id.ID)
	if id.Email != "" {
		fmt.Printf("Email:    %s\n", id.Email)
	}
	if err != nil {
		fmt.Printf("Profile:  none (%v)\n", err)
		return
	}
	fmt.Printf("Profile:  %s\n", p.ID)
	fmt.Printf("Name:     %s %s\n", p.FirstName, p.LastName)
	if !p.ID.IsDeterministic() {
		fmt.Println("Note:     legacy profile ID")
	}
}

func runOverview(log zerolog.Logger) {
	fs, cf := newFlagSet("overview")
	days := fs.Int("days", 0, "Ledger window in days (0 uses the configured default)")
	fs.Parse(os.Args[2:])

	s := open(log, cf)
	defer s.close()

	ov, err := s.app.Reader.Overview(s.ctx, daysToDuration(*days))
	if err != nil {
		s.log.Fatal().Err(err).Msg("Failed to build overview")
	}

	fmt.Printf("Profile %s (%s %s)\n\n", ov.Profile.ID, ov.Profile.FirstName, ov.Profile.LastName)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tBANK\tBALANCE")
	for _, a := range ov.Accounts {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", a.ID, a.Bank, a.Balance.StringFixed(2))
	}
	fmt.Fprintf(tw, "\t%s\t%s\n", "Total", ov.Total.StringFixed(2))
	tw.Flush()

	fmt.Printf("\nSince %s: income %s, expense %s, commission %s\n\n",
		ov.Since.Format("2006-01-02"),
		ov.Totals.Income.StringFixed(2),
		ov.Totals.Expense.StringFixed(2),
		ov.Totals.Commission.StringFixed(2))
	printLedger(ov.Ledger)
}

func runLedger(log zerolog.Logger) {
	fs, cf := newFlagSet("ledger")
	days := fs.Int("days", 0, "Ledger window in days (0 uses the configured default)")
	asJSON := fs.Bool("json", false, "Print JSON instead of a table")
	fs.Parse(os.Args[2:])

	s := open(log, cf)
	defer s.close()

	_, p, err := s.app.Reader.CurrentProfile(s.ctx)
	if err != nil {
		s.log.Fatal().Err(err).Msg("Failed to resolve profile")
	}
	entries, err := s.app.Reader.Ledger(s.ctx, p.ID, daysToDuration(*days))
	if err != nil {
		s.log.Fatal().Err(err).Msg("Failed to build ledger")
	}
	if *asJSON {
		printJSON(entries)
		return
	}
	printLedger(entries)
}

func runRegister(log zerolog.Logger) {
	fs, cf := newFlagSet("register")
	firstName := fs.String("first-name", "", "First name")
	lastName := fs.String("last-name", "", "Last name")
	phone := fs.String("phone", "", "Phone number")
	birthDate := fs.String("birth-date", "", "Birth date (YYYY-MM-DD)")
	fs.Parse(os.Args[2:])

	if *birthDate == "" {
		log.Fatal().Msg("Usage: cli register -birth-date YYYY-MM-DD [-first-name NAME] [-last-name NAME] [-phone PHONE]")
	}

	s := open(log, cf)
	defer s.close()

	id, err := s.app.Reader.Identity(s.ctx)
	if err != nil {
		s.log.Fatal().Err(err).Msg("Failed to resolve identity")
	}
	p, created, err := s.app.Registrar.Register(s.ctx, id, identity.Registration{
		FirstName: *firstName,
		LastName:  *lastName,
		Phone:     *phone,
		BirthDate: *birthDate,
	})
	if err != nil {
		s.log.Fatal().Err(err).Msg("Registration failed")
	}
	if created {
		fmt.Printf("Registered profile %s\n", p.ID)
	} else {
		fmt.Printf("Already registered as %s\n", p.ID)
	}
}

func runOpenAccount(log zerolog.Logger) {
	fs, cf := newFlagSet("open-account")
	bankLabel := fs.String("bank", "", "Bank name, e.g. kaspi")
	opening := fs.String("balance", "0", "Opening balance")
	fs.Parse(os.Args[2:])

	bank, err := domain.ParseBank(*bankLabel)
	if err != nil {
		log.Fatal().Err(err).Msg("Usage: cli open-account -bank NAME [-balance AMOUNT]")
	}
	amount, err := decimal.NewFromString(*opening)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid balance")
	}

	s := open(log, cf)
	defer s.close()

	_, p, err := s.app.Reader.CurrentProfile(s.ctx)
	if err != nil {
		s.log.Fatal().Err(err).Msg("Failed to resolve profile")
	}
	a, err := s.app.Accounts.OpenAccount(s.ctx, p.ID, bank, amount)
	if err != nil {
		s.log.Fatal().Err(err).Msg("Failed to open account")
	}
	fmt.Printf("Opened %s at %s with %s\n", a.ID, a.Bank, a.Balance.StringFixed(2))
}

func runTransfer(log zerolog.Logger) {
	fs, cf := newFlagSet("transfer")
	from := fs.String("from", "", "Source bank")
	to := fs.String("to", "", "Destination bank")
	recipient := fs.String("recipient", "", "Recipient profile ID (defaults to yourself)")
	amount := fs.String("amount", "", "Amount to transfer")
	commission := fs.String("commission", "0", "Commission charged to the sender")
	description := fs.String("description", "", "Description")
	fs.Parse(os.Args[2:])

	fromBank, err := domain.ParseBank(*from)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -from bank")
	}
	toBank, err := domain.ParseBank(*to)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -to bank")
	}
	amt, err := decimal.NewFromString(*amount)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -amount")
	}
	fee, err := decimal.NewFromString(*commission)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -commission")
	}

	s := open(log, cf)
	defer s.close()

	_, p, err := s.app.Reader.CurrentProfile(s.ctx)
	if err != nil {
		s.log.Fatal().Err(err).Msg("Failed to resolve profile")
	}
	res, err := s.app.Accounts.Transfer(s.ctx, p.ID, accounts.TransferRequest{
		FromBank:    fromBank,
		To:          domain.ProfileID(*recipient),
		ToBank:      toBank,
		Amount:      amt,
		Commission:  fee,
		Description: *description,
	})
	if err != nil {
		s.log.Fatal().Err(err).Msg("Transfer failed")
	}
	fmt.Printf("%s: %s\n", res.From.ID, res.From.Balance.StringFixed(2))
	fmt.Printf("%s: %s\n", res.To.ID, res.To.Balance.StringFixed(2))
}

func runExport(log zerolog.Logger) {
	fs, cf := newFlagSet("export")
	days := fs.Int("days", 0, "Ledger window in days (0 uses the configured default)")
	fs.Parse(os.Args[2:])

	s := open(log, cf)
	defer s.close()

	if s.app.Exporter == nil {
		s.log.Fatal().Msg("Error: no export bucket configured (set MULTIBANK_EXPORT_BUCKET)")
	}
	ov, err := s.app.Reader.Overview(s.ctx, daysToDuration(*days))
	if err != nil {
		s.log.Fatal().Err(err).Msg("Failed to build overview")
	}
	uri, err := s.app.Exporter.ExportLedger(s.ctx, ov)
	if err != nil {
		s.log.Fatal().Err(err).Msg("Export failed")
	}
	fmt.Printf("Exported %d ledger entries to %s\n", len(ov.Ledger), uri)
}

func runShowExport(log zerolog.Logger) {
	fs, cf := newFlagSet("show-export")
	uri := fs.String("uri", "", "gs:// URI of the snapshot")
	fs.Parse(os.Args[2:])

	if *uri == "" {
		log.Fatal().Msg("Usage: cli show-export -uri gs://BUCKET/OBJECT")
	}

	s := open(log, cf)
	defer s.close()

	if s.app.Exporter == nil {
		s.log.Fatal().Msg("Error: no export bucket configured (set MULTIBANK_EXPORT_BUCKET)")
	}
	ov, err := s.app.Exporter.Load(s.ctx, *uri)
	if err != nil {
		s.log.Fatal().Err(err).Msg("Failed to load snapshot")
	}
	printJSON(ov)
}

func daysToDuration(days int) time.Duration {
	if days <= 0 {
		return 0
	}
	return time.Duration(days) * 24 * time.Hour
}

func printLedger(entries []domain.LedgerEntry) {
	if len(entries) == 0 {
		fmt.Println("No transactions in window.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tKIND\tAMOUNT\tFEE\tNET\tBALANCE\tSOURCE\tDESCRIPTION")
	for _, e := range entries {
		balance := "-"
		if e.BalanceAfter.Valid {
			balance = e.BalanceAfter.Decimal.StringFixed(2)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.OccurredAt.Format("2006-01-02 15:04"),
			e.Kind,
			e.Amount.StringFixed(2),
			e.Commission.StringFixed(2),
			e.CleanAmount.StringFixed(2),
			balance,
			e.BalanceSource,
			e.Description)
	}
	tw.Flush()
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encoding output: %v\n", err)
		os.Exit(1)
	}
}
