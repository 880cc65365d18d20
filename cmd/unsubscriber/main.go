// Command unsubscriber scans an IMAP mailbox for bulk senders, ranks
// them by unwantedness, and walks their unsubscribe mechanisms.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/emp3thy/unsubscriber/internal/credential"
	"github.com/emp3thy/unsubscriber/internal/engine"
	"github.com/emp3thy/unsubscriber/internal/model"
	"github.com/emp3thy/unsubscriber/internal/rate"
	"github.com/emp3thy/unsubscriber/internal/score"
	"github.com/emp3thy/unsubscriber/internal/source/email"
	"github.com/emp3thy/unsubscriber/internal/store"
	"github.com/emp3thy/unsubscriber/internal/strategy"
)

const usageText = `usage: unsubscriber <command> [flags]

commands:
  auth        store IMAP/SMTP passwords in the system keyring
  scan        rank mailbox senders by unwantedness
  unsub       run the unsubscribe chain for selected senders
  failures    list senders whose unsubscribe attempts were exhausted
  purge       delete mailbox messages from failed senders
  protect     add senders to the whitelist
  unprotect   remove senders from the whitelist
  history     show recorded unsubscribe attempts for a sender
`

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "auth":
		err = runAuth(args)
	case "scan":
		err = runScan(ctx, args, log)
	case "unsub":
		err = runUnsub(ctx, args, log)
	case "failures":
		err = runFailures(ctx, args)
	case "purge":
		err = runPurge(ctx, args, log)
	case "protect":
		err = runProtect(ctx, args, true)
	case "unprotect":
		err = runProtect(ctx, args, false)
	case "history":
		err = runHistory(ctx, args)
	default:
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}
	if err != nil {
		log.Error(cmd+" failed", "error", err)
		os.Exit(1)
	}
}

// configFlag registers the shared -config flag on a subcommand's flag
// set.
func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", model.DefaultConfigPath(), "path to config file")
}

func openStore(cfg *model.AppConfig) (store.Store, error) {
	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}
	return store.NewSQLiteStore(cfg.DatabasePath)
}

func imapClient(cfg *model.AppConfig, log *slog.Logger) (*email.IMAPClient, error) {
	password, err := credential.Get(credential.ImapKey(cfg.Username))
	if err != nil {
		return nil, fmt.Errorf("no IMAP credential for %s (run 'unsubscriber auth'): %w", cfg.Username, err)
	}
	return email.NewIMAPClient(
		cfg.IMAP.Host, cfg.IMAP.Port,
		cfg.Username, password,
		cfg.IMAP.TLS, cfg.IMAP.Mailbox,
		log,
	), nil
}

func runAuth(args []string) error {
	fs := flag.NewFlagSet("auth", flag.ExitOnError)
	cfgPath := configFlag(fs)
	smtpToo := fs.Bool("smtp", false, "also store an SMTP password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := model.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if cfg.Username == "" {
		return fmt.Errorf("config %s has no username", *cfgPath)
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("IMAP password for %s: ", cfg.Username)
	imapPass, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	if err := credential.Set(credential.ImapKey(cfg.Username), strings.TrimRight(imapPass, "\r\n")); err != nil {
		return err
	}

	if *smtpToo {
		fmt.Printf("SMTP password for %s: ", cfg.Username)
		smtpPass, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		if err := credential.Set(credential.SMTPKey(cfg.Username), strings.TrimRight(smtpPass, "\r\n")); err != nil {
			return err
		}
	}

	fmt.Println("credentials stored")
	return nil
}

func runScan(ctx context.Context, args []string, log *slog.Logger) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	cfgPath := configFlag(fs)
	days := fs.Int("days", 0, "override scan window in days")
	limit := fs.Int("limit", 0, "override message fetch limit")
	top := fs.Int("top", 20, "number of senders to print")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := model.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *days > 0 {
		cfg.Scan.Days = *days
	}
	if *limit > 0 {
		cfg.Scan.Limit = *limit
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	client, err := imapClient(cfg, log)
	if err != nil {
		return err
	}

	result, err := engine.NewScanner(client, st, cfg.Scan.Days, cfg.Scan.Limit, log).Scan(ctx)
	if err != nil {
		return err
	}

	printAggregates(result.Aggregates, *top)
	return nil
}

func printAggregates(aggs []model.SenderAggregate, top int) {
	if top > 0 && len(aggs) > top {
		aggs = aggs[:top]
	}
	fmt.Printf("%-4s %-40s %6s %6s %6s %6s  %s\n",
		"#", "SENDER", "MSGS", "UNREAD", "SCORE", "AVG", "NOTES")
	for i, agg := range aggs {
		var notes []string
		if agg.Protected {
			notes = append(notes, "protected")
		}
		if agg.HasUnsubscribe {
			notes = append(notes, "unsub-link")
		}
		fmt.Printf("%-4d %-40s %6d %6d %6d %6.1f  %s\n",
			i+1, agg.Sender,
			agg.TotalCount, agg.UnreadCount,
			agg.TotalScore, agg.AverageScore,
			strings.Join(notes, ","),
		)
	}
}

func runUnsub(ctx context.Context, args []string, log *slog.Logger) error {
	fs := flag.NewFlagSet("unsub", flag.ExitOnError)
	cfgPath := configFlag(fs)
	senders := fs.String("senders", "", "comma separated senders; empty selects by rank")
	top := fs.Int("top", 10, "number of top-ranked senders to process")
	minScore := fs.Int("min-score", 1, "minimum total score for rank selection")
	dryRun := fs.Bool("dry-run", false, "list selected senders without attempting anything")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := model.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	client, err := imapClient(cfg, log)
	if err != nil {
		return err
	}

	result, err := engine.NewScanner(client, st, cfg.Scan.Days, cfg.Scan.Limit, log).Scan(ctx)
	if err != nil {
		return err
	}

	targets := selectTargets(result, splitList(*senders), *top, *minScore)
	if len(targets) == 0 {
		fmt.Println("no eligible senders")
		return nil
	}
	if *dryRun {
		for _, tgt := range targets {
			fmt.Printf("would unsubscribe %s\n", tgt.Sender)
		}
		return nil
	}

	var mailSender strategy.MailSender
	if smtpPass, err := credential.Get(credential.SMTPKey(cfg.Username)); err == nil {
		mailSender = email.NewSMTPSender(cfg.SMTP, cfg.Username, smtpPass)
	} else {
		log.Warn("no SMTP credential, mailto strategy disabled", "error", err)
	}

	limiter := rate.NewLimiter(
		cfg.Unsubscribe.Concurrency,
		time.Duration(cfg.Unsubscribe.MinDelaySec)*time.Second,
		time.Duration(cfg.Unsubscribe.MaxDelaySec)*time.Second,
	)
	chain := buildChain(mailSender, engine.NewHistoryStore(st), limiter, log)

	report, err := engine.NewRunner(chain, st, cfg.Unsubscribe.Concurrency, log).Run(ctx, targets)
	if err != nil {
		return err
	}

	printReport(report)
	if report.Canceled {
		return fmt.Errorf("run canceled before all senders were processed")
	}
	return nil
}

// buildChain assembles the strategy chain, dropping mailto when no
// outbound mail sender is configured.
func buildChain(sender strategy.MailSender, history strategy.HistorySink, limiter strategy.Limiter, log *slog.Logger) *strategy.Chain {
	if sender == nil {
		return strategy.NewChainWith([]strategy.Strategy{
			strategy.NewHeaderLink(),
			strategy.NewDirectLink(),
		}, history, limiter, log)
	}
	return strategy.NewChain(sender, history, limiter, log)
}

// selectTargets picks the senders to process: an explicit list when
// given, otherwise the top-ranked eligible senders. Protected senders
// and senders without any unsubscribe signal are never selected.
func selectTargets(result *score.ScanResult, explicit []string, top, minScore int) []engine.Target {
	want := make(map[string]bool, len(explicit))
	for _, s := range explicit {
		want[strings.ToLower(s)] = true
	}

	var targets []engine.Target
	for _, agg := range result.Aggregates {
		if agg.Protected || !agg.HasUnsubscribe {
			continue
		}
		if len(want) > 0 {
			if !want[agg.Sender] {
				continue
			}
		} else {
			if agg.TotalScore < minScore {
				continue
			}
			if top > 0 && len(targets) >= top {
				break
			}
		}
		targets = append(targets, engine.Target{
			Sender:  agg.Sender,
			Signals: result.Signals[agg.Sender],
		})
	}
	return targets
}

func printReport(report *engine.RunReport) {
	for _, res := range report.Results {
		switch {
		case res.Skipped:
			fmt.Printf("skip  %-40s %s\n", res.Sender, res.SkipReason)
		case res.Result.Success && res.Result.Pending:
			fmt.Printf("sent  %-40s %s (pending verification)\n", res.Sender, res.Result.Strategy)
		case res.Result.Success:
			fmt.Printf("ok    %-40s %s\n", res.Sender, res.Result.Strategy)
		default:
			fmt.Printf("fail  %-40s %s\n", res.Sender, res.Result.Message)
		}
	}
}

func runFailures(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("failures", flag.ExitOnError)
	cfgPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := model.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.ListMustDelete(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no failed senders")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%-40s %s  %s\n", e.Sender, e.MarkedAt.Local().Format("2006-01-02"), e.Reason)
	}
	return nil
}

func runPurge(ctx context.Context, args []string, log *slog.Logger) error {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	cfgPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := model.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	client, err := imapClient(cfg, log)
	if err != nil {
		return err
	}

	deleted, err := engine.NewPurger(client, st, log).Purge(ctx)
	fmt.Printf("deleted %d message(s)\n", deleted)
	return err
}

func runProtect(ctx context.Context, args []string, add bool) error {
	name := "protect"
	if !add {
		name = "unprotect"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cfgPath := configFlag(fs)
	note := fs.String("note", "", "optional note recorded with the whitelist entry")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: unsubscriber %s [flags] <sender>...", name)
	}

	cfg, err := model.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	for _, sender := range fs.Args() {
		sender = strings.ToLower(strings.TrimSpace(sender))
		if add {
			err = st.AddToWhitelist(ctx, sender, *note)
			if err == nil {
				// A protected sender must never be purged; clear any
				// entry left over from an earlier failed run.
				err = st.RemoveMustDelete(ctx, sender)
			}
		} else {
			err = st.RemoveFromWhitelist(ctx, sender)
		}
		if err != nil {
			return fmt.Errorf("%s %s: %w", name, sender, err)
		}
	}
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	cfgPath := configFlag(fs)
	sender := fs.String("sender", "", "filter attempts to this sender")
	limit := fs.Int("limit", 50, "maximum attempts to print")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := model.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	attempts, err := st.ListAttempts(ctx, *sender, *limit)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		fmt.Println("no recorded attempts")
		return nil
	}
	for _, a := range attempts {
		status := "fail"
		if a.Success {
			status = "ok"
		}
		fmt.Printf("%s  %-4s %-14s %-40s %s\n",
			a.CreatedAt.Local().Format("2006-01-02 15:04"),
			status, a.Strategy, a.Sender, a.Message)
	}
	return nil
}

func splitList(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
