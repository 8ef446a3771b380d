package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/diagnosis/venue-scanner/internal/camera"
	"github.com/diagnosis/venue-scanner/internal/domain"
	"github.com/diagnosis/venue-scanner/internal/scanner"
	"github.com/diagnosis/venue-scanner/internal/ticketapi"
	"github.com/diagnosis/venue-scanner/internal/view"
	"github.com/diagnosis/venue-scanner/pkg/auth"
	"github.com/diagnosis/venue-scanner/pkg/config"
	"github.com/diagnosis/venue-scanner/pkg/logger"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	imagePath := flag.String("image", "", "path to a photo of the ticket QR code")
	kindFlag := flag.String("kind", "movie", "ticket kind: movie or event")
	verify := flag.Bool("verify", false, "verify the ticket once loaded")
	backend := flag.String("backend", cfg.Backend.BaseURL, "ticketing backend base URL")
	asJSON := flag.Bool("json", false, "print the result as JSON")
	logLevel := flag.String("log-level", "error", "log level")
	flag.Parse()

	logger.SetDefault(logger.New(os.Stderr, *logLevel))

	if *imagePath == "" {
		fmt.Fprintln(os.Stderr, "usage: scan -image ticket.png [-kind movie|event] [-verify]")
		os.Exit(2)
	}
	kind, ok := domain.ParseTicketKind(*kindFlag)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown kind %q\n", *kindFlag)
		os.Exit(2)
	}

	token := os.Getenv("SCANNER_TOKEN")
	identify := auth.Identifier(cfg.Auth.JWTSecret)
	operator, _ := identify(token)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := scanner.NewSession(scanner.Config{
		ID:       uuid.NewString(),
		Kind:     kind,
		Token:    token,
		Operator: operator,
		API:      ticketapi.NewClient(*backend, cfg.Backend.Timeout),
		// No camera on the command line; only the image path is available.
		Device: camera.NewPushDevice(nil, 1),
		Credential: func(t string) error {
			_, err := identify(t)
			return err
		},
		MaxFramePixels: cfg.Scanner.MaxFramePixels,
	})
	defer s.Dispose()

	if err := run(ctx, s, *imagePath, *verify); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	snap := s.Snapshot()
	screen := view.Render(snap)
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(screen)
	} else {
		view.WriteText(os.Stdout, screen)
	}

	if snap.Mode == domain.ModeFailed || snap.ErrorMessage != "" {
		os.Exit(1)
	}
}

func run(ctx context.Context, s *scanner.Session, path string, verify bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	if err := s.ScanImage(ctx, f); err != nil {
		return err
	}
	if verify && s.Snapshot().Mode == domain.ModeReady {
		return s.Verify(ctx)
	}
	return nil
}
