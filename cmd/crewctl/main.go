package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"crewdesk.app/internal/activity"
	"crewdesk.app/internal/app"
	"crewdesk.app/internal/identity"
	"crewdesk.app/internal/obs"
	"crewdesk.app/internal/profile"
	"crewdesk.app/internal/sessionapi"
)

var version = "0.3.1"

func usage() {
	fmt.Fprintln(os.Stderr, `usage: crewctl <command>

commands:
  login <email>   sign in (password read from stdin)
  status          bootstrap from the persisted session and print state
  logout          sign out and clear the persisted session
  watch           keep the session alive and expose /metrics`)
	os.Exit(2)
}

func env(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func newCore() *app.Core {
	base := env("CREWDESK_API_URL", "https://api.crewdesk.app")
	apiKey := os.Getenv("CREWDESK_API_KEY")

	idp := identity.New(identity.Config{
		BaseURL:  env("CREWDESK_IDENTITY_URL", base),
		APIKey:   apiKey,
		DeviceID: os.Getenv("CREWDESK_DEVICE_ID"),
	})
	profiles := profile.New(profile.Config{
		BaseURL: env("CREWDESK_PROFILE_URL", base),
		APIKey:  apiKey,
	})
	persist := sessionapi.New(sessionapi.Config{
		BaseURL: env("CREWDESK_SESSION_URL", base),
	})
	return app.NewCore(idp, profiles, persist)
}

func main() {
	obs.Init()
	obs.InitBuildInfo(version, env("CREWDESK_COMMIT", "dev"))

	if len(os.Args) < 2 {
		usage()
	}

	core := newCore()
	ctx := context.Background()

	switch os.Args[1] {
	case "login":
		if len(os.Args) != 3 {
			usage()
		}
		fmt.Fprint(os.Stderr, "password: ")
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			log.Fatalf("read password: %v", err)
		}
		if err := core.SignIn(ctx, os.Args[2], strings.TrimRight(password, "\r\n")); err != nil {
			snap := core.Store().Snapshot()
			log.Fatalf("sign in failed: %s", snap.Err)
		}
		printStatus(core)

	case "status":
		core.Bootstrap(ctx)
		printStatus(core)

	case "logout":
		core.Bootstrap(ctx)
		if err := core.SignOut(ctx); err != nil {
			log.Fatalf("sign out: %v", err)
		}
		fmt.Println("signed out")

	case "watch":
		watch(ctx, core)

	default:
		usage()
	}
}

func printStatus(core *app.Core) {
	snap := core.Store().Snapshot()
	if !snap.Authenticated {
		fmt.Println("not signed in")
		return
	}
	fmt.Printf("signed in as %s (%s)\n", snap.User.Email, snap.User.Role)
	if snap.User.Name != "" {
		fmt.Printf("name: %s, title: %s\n", snap.User.Name, snap.User.JobTitle)
	}
	fmt.Printf("token expires %s\n", snap.ExpiresAt.Format(time.RFC3339))
}

// watch keeps the session alive until interrupted: bootstrap, then react
// to session transitions while serving metrics.
func watch(ctx context.Context, core *app.Core) {
	core.Bootstrap(ctx)
	printStatus(core)

	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler())
	// Interaction signals can be injected for testing throttle behavior.
	mux.HandleFunc("/activity", func(w http.ResponseWriter, r *http.Request) {
		core.Observe(r.Context(), activity.SignalClick)
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:              env("CREWDESK_METRICS_ADDR", ":9180"),
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("crewctl %s watching session, metrics on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	updates, cancel := core.Store().Watch()
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if !snap.Authenticated && snap.Token == "" {
				log.Println("session ended")
			}
		case <-stop:
			log.Println("shutting down...")
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
			_ = srv.Shutdown(shutdownCtx)
			cancelShutdown()
			return
		}
	}
}
