// Command camdrive drives the camera car: it classifies frames from the
// on-board camera and streams stop/move commands to the motor controller.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/camdrive/internal/camera"
	"github.com/banshee-data/camdrive/internal/classify"
	"github.com/banshee-data/camdrive/internal/config"
	"github.com/banshee-data/camdrive/internal/controlloop"
	"github.com/banshee-data/camdrive/internal/debugsrv"
	"github.com/banshee-data/camdrive/internal/journal"
	"github.com/banshee-data/camdrive/internal/motorlink"
	"github.com/banshee-data/camdrive/internal/policy"
	"github.com/banshee-data/camdrive/internal/protocol"
	"github.com/banshee-data/camdrive/internal/telemetry"
	"github.com/banshee-data/camdrive/internal/timeutil"
	"github.com/banshee-data/camdrive/internal/version"
)

const cameraTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:], os.LookupEnv)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	os.Exit(run(cfg))
}

// run wires the components together and blocks until the loop ends. It
// returns the process exit code.
func run(cfg config.Config) int {
	// Registered first so it runs after every other deferred close.
	defer log.Print("system shutdown complete")

	clock := timeutil.RealClock{}
	dialer, err := newDialer(cfg)
	if err != nil {
		log.Printf("invalid controller configuration: %v", err)
		return 1
	}
	printBanner(cfg, dialer)

	classifier, err := classify.NewONNXClassifier(classify.ONNXOptions{
		ModelPath:   cfg.ModelPath,
		LabelsPath:  cfg.LabelsPath,
		LibraryPath: cfg.ONNXLibraryPath,
		InputName:   cfg.ModelInputName,
		OutputName:  cfg.ModelOutputName,
		Height:      cfg.ImageHeight,
		Width:       cfg.ImageWidth,
	})
	if err != nil {
		log.Printf("failed to load classifier: %v", err)
		return 1
	}
	defer classifier.Close()
	log.Printf("model loaded with labels %v", classifier.Labels().Names())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	frames := camera.NewFrameSource(
		camera.NewMJPEGGrabber(cfg.CameraURL, cameraTimeout),
		clock, cfg.ImageWidth, cfg.ImageHeight, cfg.CaptureAttempts, cfg.CaptureRetryDelay,
	)
	if _, err := frames.Capture(ctx); err != nil {
		log.Printf("camera initialization failed: %v", err)
		return 1
	}
	log.Printf("camera ready at %s", cfg.CameraURL)

	link := motorlink.NewChannel(dialer, clock, linkOptions(cfg))
	opts, err := loopOptions(cfg)
	if err != nil {
		log.Printf("invalid motion configuration: %v", err)
		return 1
	}

	var observers []controlloop.Observer
	var j *journal.Journal
	if cfg.JournalPath != "" {
		if j, err = journal.Open(cfg.JournalPath); err != nil {
			log.Printf("failed to open journal: %v", err)
			return 1
		}
		defer j.Close()
		if _, err := j.StartRun(ctx, version.Version, dialer.String(), clock.Now()); err != nil {
			log.Printf("failed to start journal run: %v", err)
			return 1
		}
		observers = append(observers, j)
	}
	if cfg.MQTTBroker != "" {
		client, err := telemetry.NewClient(cfg.MQTTBroker)
		if err != nil {
			// Telemetry is best effort; the car drives without it.
			log.Printf("telemetry disabled: %v", err)
		} else {
			pub := telemetry.NewPublisher(client, cfg.MQTTTopic)
			defer pub.Close()
			observers = append(observers, pub)
		}
	}

	loop := controlloop.New(link, frames, classifier, clock, opts, observers...)

	var wg sync.WaitGroup
	debugCtx, stopDebug := context.WithCancel(context.Background())
	if cfg.DebugListen != "" {
		mux := http.NewServeMux()
		if err := debugsrv.AttachRoutes(mux, loop, link, j); err != nil {
			log.Printf("failed to set up debug routes: %v", err)
			stopDebug()
			return 1
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := debugsrv.Serve(debugCtx, cfg.DebugListen, mux); err != nil {
				log.Printf("debug server: %v", err)
			}
		}()
	}

	runErr := loop.Run(ctx)
	stopDebug()
	wg.Wait()

	result, code := "shutdown", 0
	if runErr != nil {
		result, code = "aborted", 1
		log.Printf("control loop ended: %v", runErr)
	}
	if j != nil {
		if err := j.FinishRun(context.Background(), result, clock.Now()); err != nil {
			log.Printf("%v", err)
		}
	}
	return code
}

func newDialer(cfg config.Config) (motorlink.Dialer, error) {
	if cfg.UseSerial() {
		opts, err := motorlink.PortOptions{BaudRate: cfg.SerialBaud}.Normalize()
		if err != nil {
			return nil, err
		}
		return motorlink.SerialDialer{Path: cfg.SerialPath, Options: opts}, nil
	}
	return motorlink.TCPDialer{Addr: cfg.ControllerAddr(), Timeout: cfg.ConnectTimeout}, nil
}

func linkOptions(cfg config.Config) motorlink.Options {
	return motorlink.Options{
		SendRetries:   cfg.SendRetries,
		SendRetryStep: cfg.SendRetryStep,
		BaseDelay:     cfg.BaseReconnectDelay,
		MaxDelay:      cfg.MaxReconnectDelay,
		MaxAttempts:   cfg.MaxReconnectAttempts,
	}
}

func loopOptions(cfg config.Config) (controlloop.Options, error) {
	move, err := protocol.Move(protocol.Direction(cfg.MoveDirection), cfg.MoveSpeed)
	if err != nil {
		return controlloop.Options{}, err
	}
	return controlloop.Options{
		Policy: policy.Policy{
			Threshold:       cfg.ConfidenceThreshold,
			Move:            move,
			Settle:          cfg.SettleDelay,
			StopOnUncertain: cfg.StopOnUncertain,
		},
		HeartbeatInterval: cfg.HeartbeatInterval,
		CommandDelay:      cfg.CommandDelay,
		FaultPause:        cfg.FaultPause,
	}, nil
}

func printBanner(cfg config.Config, dialer motorlink.Dialer) {
	log.Print("==================================================")
	log.Printf("camdrive %s", version.String())
	log.Printf("controller:      %s", dialer)
	log.Printf("camera:          %s", cfg.CameraURL)
	log.Printf("threshold:       %.2f", cfg.ConfidenceThreshold)
	log.Printf("heartbeat:       %s", cfg.HeartbeatInterval)
	log.Printf("max reconnects:  %d", cfg.MaxReconnectAttempts)
	log.Print("==================================================")
}
