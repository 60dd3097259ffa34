package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"qms/token-sync/internal/config"
	"qms/token-sync/internal/httpapi"
	"qms/token-sync/internal/models"
	"qms/token-sync/internal/projector"
	"qms/token-sync/internal/realtime"
	"qms/token-sync/internal/session"
	"qms/token-sync/internal/telemetry"
	"qms/token-sync/internal/views"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	viewName := pflag.StringP("view", "v", "auto", "view to mount: doctor, staff, public or auto")
	envFile := pflag.String("env-file", ".env", "optional dotenv file loaded before reading the environment")
	pflag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("load env file %s: %v", *envFile, err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry := telemetry.Setup(ctx, "token-sync", *viewName)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	client, err := httpapi.NewClient(cfg.ServerURL, httpapi.Options{
		Timeout:     cfg.HTTPTimeout,
		AccessToken: cfg.AccessToken,
	})
	if err != nil {
		log.Fatalf("rest client: %v", err)
	}

	view := *viewName
	if view != "public" {
		view, err = authenticate(ctx, client, cfg, view)
		if err != nil {
			log.Fatalf("auth: %v", err)
		}
	}

	ch, err := realtime.New(realtime.Options{
		URL:              cfg.RealtimeURL(),
		Framing:          realtime.Framing(cfg.Framing),
		HandshakeTimeout: cfg.HandshakeTimeout,
		IdleTimeout:      cfg.IdleTimeout,
		PingInterval:     cfg.PingInterval,
		Reconnect: realtime.ReconnectPolicy{
			MaxTries:        uint(max(cfg.ReconnectMaxTries, 0)),
			InitialInterval: cfg.ReconnectInitialInterval,
			MaxInterval:     cfg.ReconnectMaxInterval,
		},
	})
	if err != nil {
		log.Fatalf("realtime: %v", err)
	}
	defer ch.Close()

	opts := views.Options{
		OnChange:      render(view),
		ReloadTimeout: cfg.HTTPTimeout,
		ActionTimeout: cfg.ActionTimeout,
		DoctorID:      cfg.DoctorID,
	}

	switch view {
	case "doctor":
		dv := views.MountDoctor(ctx, ch, client, opts)
		defer dv.Unmount()
		go readCommands(ctx, os.Stdin, dv)
	case "staff", "admin":
		sv := views.MountStaff(ctx, ch, client, opts)
		defer sv.Unmount()
		log.Printf("staff reference data patients=%d doctors=%d", len(sv.Patients()), len(sv.Doctors()))
	case "public":
		pv := views.MountPublic(ctx, ch, client, opts)
		defer pv.Unmount()
	default:
		log.Fatalf("unknown view %q", view)
	}

	<-ctx.Done()
	log.Printf("token-sync shutting down view=%s", view)
}

// authenticate logs in when credentials are configured, checks the token
// and resolves the view from the caller's roles.
func authenticate(ctx context.Context, client *httpapi.Client, cfg config.Config, view string) (string, error) {
	if cfg.Email != "" {
		if _, err := client.Login(ctx, cfg.Email, cfg.Password); err != nil {
			return "", fmt.Errorf("login %s: %w", cfg.Email, err)
		}
	}
	token := client.AccessToken()
	if token == "" {
		return "", errors.New("no access token: set QMS_ACCESS_TOKEN or QMS_EMAIL/QMS_PASSWORD")
	}
	if err := session.CheckToken(token, time.Now()); err != nil {
		return "", err
	}

	profile, err := client.Me(ctx)
	if err != nil {
		return "", fmt.Errorf("load profile: %w", err)
	}
	roles := profile.RoleSet()
	log.Printf("authenticated email=%s roles=%s", profile.Email, strings.Join(roles.Names(), ","))

	switch view {
	case "auto":
		home := session.HomeView(roles)
		if home == "unauthorized" {
			return "", fmt.Errorf("%w: no queue role", session.ErrForbidden)
		}
		return home, nil
	case "doctor":
		return view, profile.Require(session.RoleDoctor)
	case "staff":
		return view, profile.Require(session.RoleStaff, session.RoleAdmin)
	}
	return "", fmt.Errorf("unknown view %q", view)
}

func render(view string) func(string, []models.Token) {
	return func(_ string, tokens []models.Token) {
		switch view {
		case "doctor":
			for _, token := range projector.DoctorQueue(tokens) {
				log.Printf("queue token=%s number=%s status=%s", token.ID, token.TokenNumber, token.Status)
			}
		case "public":
			board, _ := json.Marshal(projector.PublicBoard(tokens))
			log.Printf("board %s", board)
		default:
			s := projector.StaffSummary(tokens)
			log.Printf("summary total=%d waiting=%d in_progress=%d completed=%d", s.Total, s.Waiting, s.InProgress, s.Completed)
		}
	}
}

// readCommands drives the doctor actions from lines like "start <id>".
func readCommands(ctx context.Context, in io.Reader, dv *views.DoctorView) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "locked" {
			log.Printf("locked tokens=%v", dv.Actions.Locked())
			continue
		}
		if len(fields) != 2 {
			log.Printf("usage: start <token-id> | complete <token-id> | locked")
			continue
		}
		var err error
		switch fields[0] {
		case "start":
			err = dv.Start(ctx, fields[1])
		case "complete":
			err = dv.Complete(ctx, fields[1])
		default:
			log.Printf("unknown command %q", fields[0])
			continue
		}
		if err != nil {
			log.Printf("%s failed token=%s err=%v", fields[0], fields[1], err)
		}
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	log.Printf("metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("metrics server error: %v", err)
	}
}
