// Command not-webusb-demo runs a ROT13 tunnel server over a not-webusb
// device: bytes a browser sends through the WebAuthn tunnel are rotated
// and sent back. It demonstrates both origin-filter modes described in
// SPEC_FULL.md's supplemented features: accept-all, or a SHA-256 allowlist
// loaded from config.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"github.com/theckman/yacspin"

	notwebusb "github.com/aelzeiny/not-webusb"
	"github.com/aelzeiny/not-webusb/config"
	"github.com/aelzeiny/not-webusb/internal/hidbackend"
)

func main() {
	configFile := pflag.StringP("config-file", "c", config.DefaultFileName, "Configuration file name.")
	mkconf := pflag.Bool("mkconf", false, "Write the default configuration file and exit.")
	vendorID := pflag.Uint16("vid", 0, "Override the configured USB vendor id.")
	productID := pflag.Uint16("pid", 0, "Override the configured USB product id.")
	pflag.Parse()

	if *mkconf {
		if err := config.WriteDefault(*configFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *vendorID != 0 {
		cfg.VendorID = *vendorID
	}
	if *productID != 0 {
		cfg.ProductID = *productID
	}

	logger := log.New(os.Stderr)
	logger.SetLevel(parseLevel(cfg.LogLevel))

	filter := buildOriginFilter(cfg.AllowedOrigins, logger)

	backend := connectWithBackoff(cfg, logger)
	defer backend.Close()

	dev := notwebusb.NewWithLogger(backend, filter, logger)
	go heartbeat(time.Duration(cfg.HeartbeatIntervalMS)*time.Millisecond, logger)

	logger.Info("rot13 tunnel demo ready", "vid", cfg.VendorID, "pid", cfg.ProductID)
	for {
		if err := dev.Poll(); err != nil {
			logger.Error("fatal usb error, reconnecting", "err", err)
			backend.Close()
			backend = connectWithBackoff(cfg, logger)
			dev = notwebusb.NewWithLogger(backend, filter, logger)
			continue
		}

		if req, ok := dev.CheckPendingRequest(); ok {
			resp := rot13(req)
			if err := dev.SendResponse(resp); err != nil {
				logger.Warn("sending response", "err", err)
			}
		}
	}
}

// buildOriginFilter implements the two demo variants named in
// SPEC_FULL.md: an empty allowlist accepts every origin, otherwise only
// application parameters whose hex-encoded SHA-256 digest appears in the
// list are allowed through.
func buildOriginFilter(allowlist []string, logger *log.Logger) notwebusb.OriginFilter {
	if len(allowlist) == 0 {
		return notwebusb.AcceptAllOrigins
	}

	allowed := make(map[string]bool, len(allowlist))
	for _, hash := range allowlist {
		allowed[hash] = true
	}
	return func(applicationParameter [32]byte) bool {
		sum := sha256.Sum256(applicationParameter[:])
		hexSum := hex.EncodeToString(sum[:])
		ok := allowed[hexSum]
		if !ok {
			logger.Warn("rejected origin", "application_parameter", hex.EncodeToString(applicationParameter[:]))
		}
		return ok
	}
}

func rot13(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z':
			out[i] = 'a' + (c-'a'+13)%26
		case c >= 'A' && c <= 'Z':
			out[i] = 'A' + (c-'A'+13)%26
		default:
			out[i] = c
		}
	}
	return out
}

func connectWithBackoff(cfg config.Config, logger *log.Logger) *hidbackend.Backend {
	spinner, _ := yacspin.New(yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[9],
		Suffix:          " waiting for not-webusb device",
		SuffixAutoColon: true,
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
	})
	spinner.Start()
	defer spinner.Stop()

	var backend *hidbackend.Backend
	op := func() error {
		var err error
		backend, err = hidbackend.Open(cfg.VendorID, cfg.ProductID)
		return err
	}

	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = 100 * time.Millisecond
	boff.MaxInterval = 5 * time.Second
	boff.MaxElapsedTime = 0 // retry forever; the device may be plugged in at any time

	if err := backoff.Retry(op, boff); err != nil {
		logger.Fatal("giving up connecting to device", "err", err)
	}
	return backend
}

// heartbeat logs a liveness line on its own schedule, independent of
// Poll activity, per SPEC_FULL.md's blinker-derived supplemented feature.
func heartbeat(interval time.Duration, logger *log.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		logger.Debug("heartbeat")
	}
}

func parseLevel(s string) log.Level {
	lvl, err := log.ParseLevel(s)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}
