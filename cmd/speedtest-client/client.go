package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/log"
	"github.com/filecatalog/speedtest/pkg/client"
	"github.com/filecatalog/speedtest/pkg/speedtest/spec"
	"github.com/filecatalog/speedtest/pkg/version"
	"github.com/google/uuid"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"
)

const clientName = "speedtest-client"

var (
	flagServer   = flag.String("server", "localhost:4000", "Server address")
	flagScheme   = flag.String("scheme", client.DefaultScheme, "URL scheme (http or https)")
	flagBasePath = flag.String("base_path", "/api", "Path prefix of the speed-test endpoints")
	flagSamples  = flag.Int("ping_samples", spec.DefaultPingSamples, "Number of ping round trips")
	flagDownload = flag.Int("download_mb", spec.DefaultDownloadSizeMB, "Download size in MB")
	flagUpload   = flag.Int("upload_mb", spec.DefaultUploadSizeMB, "Upload size in MB")
	flagTimeout  = flag.Duration("phase_timeout", 0, "Timeout for each phase (0 means no timeout)")
	flagMID      = flag.String("mid", "", "Measurement ID (a random one is generated if empty)")
	flagNoVerify = flag.Bool("no-verify", false, "Skip TLS certificate verification")
	flagOutput   = flag.String("output", "", "Path to write the measurement result to, as JSON")
	flagDebug    = flag.Bool("debug", false, "Enable debug output")
)

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not parse env args")
	if *flagDebug {
		log.SetLevel(log.DebugLevel)
	}

	mid := *flagMID
	if mid == "" {
		mid = uuid.NewString()
	}
	cl := client.New(clientName, version.Version, client.Config{
		Server:         *flagServer,
		Scheme:         *flagScheme,
		BasePath:       *flagBasePath,
		PingSamples:    *flagSamples,
		DownloadSizeMB: *flagDownload,
		UploadSizeMB:   *flagUpload,
		PhaseTimeout:   *flagTimeout,
		MeasurementID:  mid,
		Emitter:        client.HumanReadable{Debug: *flagDebug},
		NoVerify:       *flagNoVerify,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	start := time.Now()
	result, err := cl.Run(ctx)
	log.Debug("run finished", "mid", mid, "elapsed", time.Since(start))
	if *flagOutput != "" && result != nil {
		b, jsonErr := json.MarshalIndent(result, "", "  ")
		rtx.Must(jsonErr, "failed to marshal result")
		rtx.Must(os.WriteFile(*flagOutput, b, 0o644), "failed to write result")
	}
	if err != nil {
		// The emitter has already reported the error.
		os.Exit(1)
	}
}
