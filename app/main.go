package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/joho/godotenv"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/tradejournal/app/broker"
	"github.com/umputun/tradejournal/app/expiry"
	"github.com/umputun/tradejournal/app/journal"
	"github.com/umputun/tradejournal/app/notify"
	"github.com/umputun/tradejournal/app/web"
	"github.com/umputun/tradejournal/app/web/persistence"
)

var opts struct {
	Port     string `long:"port" env:"PORT" default:"5000" description:"web server port"`
	Listen   string `long:"listen" env:"LISTEN" description:"listen address, overrides port"`
	DBPath   string `long:"db" env:"DB_PATH" default:"tradejournal.db" description:"sqlite database file"`
	SeedFile string `long:"seed" env:"SEED_FILE" description:"yaml file with journal entries for an empty journal"`
	Dbg      bool   `long:"dbg" env:"DEBUG" description:"debug mode"`

	Web struct {
		FrontendURL       string   `long:"frontend-url" env:"FRONTEND_URL" default:"http://localhost:3000" description:"dashboard url to redirect after login"`
		CORSOrigins       []string `long:"cors-origin" env:"CORS_ORIGINS" env-delim:"," description:"allowed cors origins, defaults to frontend url"`
		AdminPasswordHash string   `long:"admin-hash" env:"ADMIN_PASSWORD_HASH" description:"bcrypt hash of admin password, enables /admin"`
		LoginRate         float64  `long:"login-rate" env:"LOGIN_RATE" default:"1" description:"login attempts per second per ip"`
	} `group:"web" namespace:"web"`

	Angel struct {
		APIKey      string        `long:"api-key" env:"ANGEL_ONE_API_KEY" description:"SmartAPI private key"`
		ClientCode  string        `long:"client-code" env:"CLIENT_CODE" description:"broker client code"`
		Password    string        `long:"password" env:"API_SECRET" description:"broker password (pin)"`
		TOTPSecret  string        `long:"totp-secret" env:"TOTP_SECRET" description:"base32 totp secret"`
		RedirectURL string        `long:"redirect-url" env:"REDIRECT_URL" description:"publisher login redirect url"`
		BaseURL     string        `long:"base-url" env:"ANGEL_ONE_BASE_URL" default:"https://apiconnect.angelone.in" description:"SmartAPI base url"`
		LoginURL    string        `long:"login-url" env:"ANGEL_ONE_LOGIN_URL" default:"https://smartapi.angelone.in/publisher-login" description:"publisher login url"`
		Timeout     time.Duration `long:"timeout" env:"ANGEL_ONE_TIMEOUT" default:"10s" description:"SmartAPI call timeout"`

		Repeater struct {
			Attempts int           `long:"attempts" env:"ATTEMPTS" default:"3" description:"how many times to try a failed call"`
			Duration time.Duration `long:"duration" env:"DURATION" default:"300ms" description:"initial duration"`
			Factor   float64       `long:"factor" env:"FACTOR" default:"2" description:"backoff factor"`
			Jitter   bool          `long:"jitter" env:"JITTER" description:"jitter"`
		} `group:"repeater" namespace:"repeater" env-namespace:"REPEATER"`
	} `group:"angel" namespace:"angel"`

	Session struct {
		StateTTL   time.Duration `long:"state-ttl" env:"STATE_TTL" default:"10m" description:"how long a login state is accepted"`
		ExpirySpec string        `long:"expiry-spec" env:"EXPIRY_SPEC" default:"5 0 * * *" description:"cron spec of expired sessions sweep"`
		TimeZone   string        `long:"tz" env:"TZ" default:"Asia/Kolkata" description:"time zone of the daily token reset"`
	} `group:"session" namespace:"session" env-namespace:"SESSION"`

	Notify struct {
		WebhookURLs  []string      `long:"webhook" env:"WEBHOOK" env-delim:"," description:"webhook url(s) for events"`
		Headers      []string      `long:"header" env:"HEADER" env-delim:"," description:"webhook header(s), key:value"`
		To           []string      `long:"to" env:"TO" env-delim:"," description:"email recipient(s) for events"`
		From         string        `long:"from" env:"FROM" description:"SMTP from email"`
		SMTPHost     string        `long:"smtp-host" env:"SMTP_HOST" description:"SMTP host"`
		SMTPPort     int           `long:"smtp-port" env:"SMTP_PORT" default:"25" description:"SMTP port"`
		SMTPUsername string        `long:"smtp-username" env:"SMTP_USERNAME" description:"SMTP user name"`
		SMTPPassword string        `long:"smtp-password" env:"SMTP_PASSWORD" description:"SMTP password"`
		SMTPTLS      bool          `long:"smtp-tls" env:"SMTP_TLS" description:"enable SMTP TLS"`
		Timeout      time.Duration `long:"timeout" env:"TIMEOUT" default:"10s" description:"delivery timeout"`
		Dedup        time.Duration `long:"dedup" env:"DEDUP" default:"5m" description:"window to suppress repeated events"`
		HostName     string        `long:"host" env:"HOSTNAME" description:"host name in notifications"`
	} `group:"notify" namespace:"notify" env-namespace:"NOTIFY"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging"`
		Filename        string `long:"filename" env:"FILENAME" description:"file location for log output"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"maximum size in megabytes of the log file before it gets rotated"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"maximum number of old log files to retain"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"maximum number of days to retain old log files"`
		EnabledCompress bool   `long:"enabled-compress" env:"ENABLED_COMPRESS" description:"determines if the rotated log files should be compressed using gzip"`
	} `group:"log" namespace:"log" env-namespace:"LOG"`
}

var revision = "unknown"

func main() {
	fmt.Printf("tradejournal %s\n", revision)

	// .env is optional, real environment wins over it
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Printf("failed to load .env: %v\n", err)
	}

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	setupLogs()

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT and SIGTERM

	if err := run(ctx); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if err := validateOpts(); err != nil {
		return err
	}
	loc, err := expiry.LoadLocation(opts.Session.TimeZone)
	if err != nil {
		return err
	}

	store, err := persistence.NewSQLiteStore(opts.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("[WARN] failed to close database: %v", err)
		}
	}()

	if err := seedJournal(ctx, store); err != nil {
		return err
	}

	notifier := makeNotifier()
	log.Printf("[INFO] notifications: %s", notifier)

	sweeper := &expiry.Sweeper{Store: store, Notifier: notifier, Spec: opts.Session.ExpirySpec, Location: loc}
	go func() {
		if err := sweeper.Run(ctx); err != nil {
			log.Printf("[WARN] sessions sweeper failed: %v", err)
		}
	}()

	srv, err := web.New(web.Config{
		Store:             store,
		Broker:            makeBroker(),
		Notifier:          notifier,
		ClientCode:        opts.Angel.ClientCode,
		Password:          opts.Angel.Password,
		FrontendURL:       opts.Web.FrontendURL,
		CORSOrigins:       opts.Web.CORSOrigins,
		AdminPasswordHash: opts.Web.AdminPasswordHash,
		Location:          loc,
		StateTTL:          opts.Session.StateTTL,
		LoginRate:         opts.Web.LoginRate,
		Version:           revision,
	})
	if err != nil {
		return fmt.Errorf("failed to create web server: %w", err)
	}
	return srv.Run(ctx, listenAddress())
}

func validateOpts() error {
	var missing []string
	if opts.Angel.APIKey == "" {
		missing = append(missing, "ANGEL_ONE_API_KEY")
	}
	if opts.Angel.ClientCode == "" {
		missing = append(missing, "CLIENT_CODE")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if opts.Angel.Password == "" || opts.Angel.TOTPSecret == "" {
		log.Printf("[WARN] password or totp secret not set, only publisher login is available")
	}
	return nil
}

func makeBroker() *broker.Client {
	rptr := repeater.New(&strategy.Backoff{Repeats: opts.Angel.Repeater.Attempts, Duration: opts.Angel.Repeater.Duration,
		Factor: opts.Angel.Repeater.Factor, Jitter: opts.Angel.Repeater.Jitter})

	log.Printf("[INFO] broker %s, api key %s, client %s", opts.Angel.BaseURL, maskSecret(opts.Angel.APIKey), opts.Angel.ClientCode)
	return broker.New(broker.Params{
		APIKey:      opts.Angel.APIKey,
		TOTPSecret:  opts.Angel.TOTPSecret,
		RedirectURL: opts.Angel.RedirectURL,
		BaseURL:     opts.Angel.BaseURL,
		LoginURL:    opts.Angel.LoginURL,
		Timeout:     opts.Angel.Timeout,
		Repeater:    rptr,
	})
}

func makeNotifier() *notify.Service {
	from := opts.Notify.From
	if from == "" && opts.Notify.SMTPHost != "" {
		from = "tradejournal@" + makeHostName()
	}

	return notify.New(notify.Params{
		WebhookURLs: opts.Notify.WebhookURLs,
		Headers:     opts.Notify.Headers,
		Emails:      opts.Notify.To,
		SMTP: notify.SMTPParams{
			Host:     opts.Notify.SMTPHost,
			Port:     opts.Notify.SMTPPort,
			TLS:      opts.Notify.SMTPTLS,
			Username: opts.Notify.SMTPUsername,
			Password: opts.Notify.SMTPPassword,
			From:     from,
		},
		Timeout:     opts.Notify.Timeout,
		HostName:    makeHostName(),
		DedupWindow: opts.Notify.Dedup,
	})
}

func makeHostName() string {
	if opts.Notify.HostName != "" {
		return opts.Notify.HostName
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

func seedJournal(ctx context.Context, store *persistence.SQLiteStore) error {
	if opts.SeedFile == "" {
		return nil
	}
	entries, err := journal.LoadSeed(opts.SeedFile)
	if err != nil {
		return err
	}
	n, err := journal.Seed(ctx, store, opts.Angel.ClientCode, entries)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("[INFO] seeded %d journal entries from %s", n, opts.SeedFile)
	}
	return nil
}

func listenAddress() string {
	if opts.Listen != "" {
		return opts.Listen
	}
	return ":" + strings.TrimPrefix(opts.Port, ":")
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return "***"
	}
	return s[:4] + "***"
}

// setupLogs configures lgr and returns the writer logs go to
func setupLogs() io.Writer {
	if !opts.Log.Enabled {
		log.Setup(log.Out(io.Discard), log.Err(io.Discard))
		return os.Stdout
	}

	var out io.Writer = os.Stdout
	if opts.Log.Filename != "" {
		out = &lumberjack.Logger{
			Filename:   opts.Log.Filename,
			MaxSize:    opts.Log.MaxSize,
			MaxBackups: opts.Log.MaxBackups,
			MaxAge:     opts.Log.MaxAge,
			Compress:   opts.Log.EnabledCompress,
		}
	}

	if opts.Dbg {
		log.Setup(log.Debug, log.Msec, log.CallerFunc, log.CallerPkg, log.CallerFile, log.Out(out), log.Err(out))
		return out
	}
	log.Setup(log.Msec, log.Out(out), log.Err(out))
	return out
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			cancel() // terminate on SIGTERM and SIGINT
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
}
