// Package main provides a standalone CLI tool for checking the configured
// relay and sending test emails through the same transport the campaign
// runner uses. It supports STARTTLS, implicit TLS, plaintext connections,
// SMTP AUTH PLAIN, and batch sending with rate limiting.
//
// Usage:
//
//	test-client --to recipient@example.com --subject "Test" --body "Hello"
//	test-client --config config --verify-only
//	test-client --host localhost --port 1025 --tls none --count 10 --rate 5 --to a@example.com
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sungwon/mailrunner/internal/config"
	"github.com/sungwon/mailrunner/internal/logger"
	"github.com/sungwon/mailrunner/internal/transport"
)

type options struct {
	configDir  string
	host       string
	port       int
	tlsMode    string
	insecure   bool
	user       string
	password   string
	from       string
	to         stringSlice
	subject    string
	body       string
	count      int
	rate       float64
	verifyOnly bool
	logLevel   string
}

// stringSlice implements flag.Value for repeatable --to flags.
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ", ")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func main() {
	opts := parseFlags()

	smtpCfg, err := resolveSMTPConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if !opts.verifyOnly && len(opts.to) == 0 {
		fmt.Fprintln(os.Stderr, "error: at least one --to is required")
		flag.Usage()
		os.Exit(2)
	}

	log := logger.New(opts.logLevel)
	mailer, err := transport.New(smtpCfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Mail Transport Test Client\n")
	fmt.Printf("  Transport: %s\n", mailer.Name())
	fmt.Printf("  Server:    %s:%d\n", smtpCfg.Host, smtpCfg.Port)
	fmt.Printf("  TLS:       %s\n", smtpCfg.TLS)
	fmt.Printf("  From:      %s\n", smtpCfg.From)
	if !opts.verifyOnly {
		fmt.Printf("  To:        %s\n", strings.Join(opts.to, ", "))
		fmt.Printf("  Count:     %d\n", opts.count)
		if opts.count > 1 {
			fmt.Printf("  Rate:      %.1f emails/sec\n", opts.rate)
		}
	}
	fmt.Println()

	ctx := context.Background()

	verifyStart := time.Now()
	if err := mailer.Verify(ctx); err != nil {
		fmt.Printf("  verify FAIL (%s): %v\n", time.Since(verifyStart), err)
		os.Exit(1)
	}
	fmt.Printf("  verify OK   (%s)\n", time.Since(verifyStart))
	if opts.verifyOnly {
		return
	}

	var (
		successCount int
		failCount    int
		totalSend    time.Duration
	)

	interval := time.Duration(0)
	if opts.count > 1 && opts.rate > 0 {
		interval = time.Duration(float64(time.Second) / opts.rate)
	}

	total := opts.count * len(opts.to)
	seq := 0
	for i := 0; i < opts.count; i++ {
		for _, rcpt := range opts.to {
			if seq > 0 && interval > 0 {
				time.Sleep(interval)
			}
			seq++

			subject := opts.subject
			body := opts.body
			if total > 1 {
				subject = fmt.Sprintf("%s [%d/%d]", opts.subject, seq, total)
				body = fmt.Sprintf("%s\n\n-- Email %d of %d --", opts.body, seq, total)
			}

			sendStart := time.Now()
			id, err := mailer.Send(ctx, &transport.Message{
				To:      rcpt,
				Subject: subject,
				HTML:    "<p>" + strings.ReplaceAll(body, "\n", "<br>") + "</p>",
				Text:    body,
			})
			sendDuration := time.Since(sendStart)
			totalSend += sendDuration

			if err != nil {
				failCount++
				kind := "transient"
				if transport.IsPermanent(err) {
					kind = "permanent"
				}
				fmt.Printf("  [%d/%d] FAIL %s (%s, %s): %v\n", seq, total, rcpt, sendDuration, kind, err)
			} else {
				successCount++
				fmt.Printf("  [%d/%d] OK   %s (%s) %s\n", seq, total, rcpt, sendDuration, id)
			}
		}
	}

	fmt.Println()
	fmt.Printf("Results: %d sent, %d failed, total time %s\n", successCount, failCount, totalSend)

	if failCount > 0 {
		os.Exit(1)
	}
}

func parseFlags() options {
	var opts options

	flag.StringVar(&opts.configDir, "config", "", "Directory with config.yaml; its smtp section supplies defaults")
	flag.StringVar(&opts.host, "host", "", "SMTP server host")
	flag.IntVar(&opts.port, "port", 0, "SMTP server port")
	flag.StringVar(&opts.tlsMode, "tls", "", "TLS mode: starttls, tls, none")
	flag.BoolVar(&opts.insecure, "insecure", false, "Skip TLS certificate verification")
	flag.StringVar(&opts.user, "user", "", "SMTP AUTH username")
	flag.StringVar(&opts.password, "password", "", "SMTP AUTH password")
	flag.StringVar(&opts.from, "from", "", "Sender email address")
	flag.Var(&opts.to, "to", "Recipient email address (can be specified multiple times)")
	flag.StringVar(&opts.subject, "subject", "Test Email", "Email subject")
	flag.StringVar(&opts.body, "body", "This is a test email sent by the mailrunner test-client.", "Email body")
	flag.IntVar(&opts.count, "count", 1, "Number of emails to send to each recipient")
	flag.Float64Var(&opts.rate, "rate", 1, "Emails per second for batch sending")
	flag.BoolVar(&opts.verifyOnly, "verify-only", false, "Only check that the relay accepts a connection")
	flag.StringVar(&opts.logLevel, "log-level", "warn", "Log level for transport diagnostics")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: test-client [options]\n\n")
		fmt.Fprintf(os.Stderr, "Verifies the mail relay and sends test emails through the campaign transport.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  test-client --config config --verify-only\n")
		fmt.Fprintf(os.Stderr, "  test-client --config config --to recipient@example.com\n")
		fmt.Fprintf(os.Stderr, "  test-client --host localhost --port 1025 --tls none --from test@example.com --to recipient@example.com\n")
		fmt.Fprintf(os.Stderr, "  test-client --count 100 --rate 10 --from test@example.com --to recipient@example.com\n")
	}

	flag.Parse()
	return opts
}

// resolveSMTPConfig starts from the config file when one is given and lets
// explicit flags override it.
func resolveSMTPConfig(opts options) (config.SMTPConfig, error) {
	cfg := config.SMTPConfig{
		Type:    "smtp",
		Host:    "localhost",
		Port:    587,
		TLS:     "starttls",
		Timeout: 30 * time.Second,
	}
	if opts.configDir != "" {
		loaded, err := config.Load(opts.configDir)
		if err != nil {
			return cfg, err
		}
		cfg = loaded.SMTP
	}

	if opts.host != "" {
		cfg.Host = opts.host
	}
	if opts.port != 0 {
		cfg.Port = opts.port
	}
	if opts.tlsMode != "" {
		cfg.TLS = opts.tlsMode
	}
	if opts.insecure {
		cfg.InsecureSkipVerify = true
	}
	if opts.user != "" {
		cfg.Username = opts.user
		cfg.Password = opts.password
	}
	if opts.from != "" {
		cfg.From = opts.from
	}

	switch cfg.TLS {
	case "none", "starttls", "tls":
	default:
		return cfg, fmt.Errorf("unknown TLS mode: %s (use starttls, tls, or none)", cfg.TLS)
	}
	if cfg.From == "" {
		return cfg, errors.New("--from is required")
	}
	return cfg, nil
}
