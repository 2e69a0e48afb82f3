package main

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/idverify/internal/capture"
	"github.com/zombor/idverify/internal/capture/ffmpeg"
	"github.com/zombor/idverify/internal/ocr"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	fs := ff.NewFlagSet("idcapture")
	var (
		selfieOut     = fs.StringLong("selfie", "", "Take a selfie and write the JPEG to this path")
		cameraDevice  = fs.StringLong("camera-device", "", "V4L2 device (default: first user-facing camera)")
		ffmpegVerbose = fs.BoolLong("ffmpeg-verbose", "Log ffmpeg output")
		timeout       = fs.DurationLong("timeout", 20*time.Second, "How long to wait for the camera")
		documentPath  = fs.StringLong("document", "", "Identity document (image or PDF) to submit for OCR")
		identifier    = fs.StringLong("id", "", "ID number to look for on the document")
		endpoint      = fs.StringLong("endpoint", "http://localhost:8080", "Base URL of the OCR endpoint")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("IDVERIFY"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if *selfieOut == "" && *documentPath == "" {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintln(os.Stderr, "error: nothing to do, pass --selfie and/or --document")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *selfieOut != "" {
		camera := ffmpeg.NewCamera(ffmpeg.CameraOpts{
			Verbose:  *ffmpegVerbose,
			DeviceID: *cameraDevice,
		})
		if err := takeSelfie(ctx, camera, *selfieOut, *timeout); err != nil {
			slog.Error("Failed to take selfie", "error", err)
			os.Exit(1)
		}
	}

	if *documentPath != "" {
		if err := submitDocument(ctx, ocr.NewClient(*endpoint), *documentPath, *identifier); err != nil {
			slog.Error("Failed to submit document", "error", err)
			os.Exit(1)
		}
	}
}

// takeSelfie opens a capture session, waits for the first frame and writes
// the captured JPEG to path
func takeSelfie(ctx context.Context, camera capture.Camera, path string, timeout time.Duration) error {
	delivered := make(chan capture.Artifact, 1)
	session := capture.NewSession(camera, capture.Callbacks{
		OnCapture: func(a capture.Artifact) {
			delivered <- a
		},
	})
	defer session.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	slog.Info("Opening camera...")
	if err := session.Open(ctx); err != nil {
		if msg := session.ErrorMessage(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		return err
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		err := session.Capture()
		if err == nil {
			break
		}
		if !errors.Is(err, capture.ErrNoFrame) && !errors.Is(err, capture.ErrEncoding) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for a frame: %w", ctx.Err())
		case <-ticker.C:
		}
	}

	artifact := <-delivered
	if err := os.WriteFile(path, artifact.Data, 0o644); err != nil {
		return fmt.Errorf("writing selfie: %w", err)
	}
	slog.Info("Selfie saved", "path", path, "width", artifact.Width, "height", artifact.Height, "size", len(artifact.Data))
	return nil
}

// submitDocument sends the document to the OCR endpoint and prints the result
func submitDocument(ctx context.Context, client *ocr.Client, path, identifier string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading document: %w", err)
	}

	slog.Info("Submitting document...", "path", path, "size", len(data))
	result, err := client.Recognize(ctx, identifier, data)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		return fmt.Errorf("formatting result: %w", err)
	}
	fmt.Println(pretty.String())
	return nil
}
