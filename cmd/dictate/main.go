package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Jonas1mposter/project-resonance/adapters/capture"
	"github.com/Jonas1mposter/project-resonance/adapters/volcengine"
	"github.com/Jonas1mposter/project-resonance/domain/entities"
	"github.com/Jonas1mposter/project-resonance/domain/repositories"
	"github.com/Jonas1mposter/project-resonance/usecase"
)

func main() {
	var (
		file      = flag.String("file", "", "media file to transcribe, or - for raw f32le PCM on stdin; empty means microphone")
		device    = flag.String("device", "default", "capture device for microphone input")
		format    = flag.String("format", "pulse", "ffmpeg input format for the capture device")
		endpoint  = flag.String("endpoint", volcengine.DefaultEndpoint, "engine or relay websocket URL")
		resource  = flag.String("resource", volcengine.DefaultResourceID, "engine resource id")
		appKey    = flag.String("app-key", "", "engine app key, defaults to ASR_APP_KEY")
		accessKey = flag.String("access-key", "", "engine access key, defaults to ASR_ACCESS_KEY")
		language  = flag.String("language", "zh-CN", "recognition language")
		model     = flag.String("model", "", "engine model name override")
		verbose   = flag.Bool("verbose", false, "log at debug level")
	)
	flag.Parse()

	godotenv.Load()

	logger := newLogger(*verbose)
	defer logger.Sync()

	if *appKey == "" {
		*appKey = os.Getenv("ASR_APP_KEY")
	}
	if *accessKey == "" {
		*accessKey = os.Getenv("ASR_ACCESS_KEY")
	}

	var source repositories.AudioSource
	switch {
	case *file == "-":
		source = capture.NewReaderSource(os.Stdin)
	case *file != "":
		source = capture.NewFileSource(*file, logger)
	default:
		source = capture.NewMicrophoneSource(*format, *device, logger)
	}

	printer := &consolePrinter{logger: logger}
	service := usecase.NewDictationService(source, func(events repositories.RecognitionEvents) repositories.SpeechRecognizer {
		return volcengine.NewClient(volcengine.Config{
			Endpoint:   *endpoint,
			ResourceID: *resource,
			AppKey:     *appKey,
			AccessKey:  *accessKey,
		}, events, logger)
	}, printer, logger, usecase.Options{})

	config := entities.DefaultRecognitionConfig()
	config.Language = *language
	if *model != "" {
		config.ModelName = *model
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := service.Start(context.Background(), config); err != nil {
		logger.Fatal("starting dictation", zap.Error(err))
	}

	var result usecase.DictationResult
	var err error
	if *file != "" {
		// File and stdin sources end on their own.
		result, err = service.Wait(ctx)
	} else {
		fmt.Fprintln(os.Stderr, "listening, press Ctrl-C to stop")
		<-ctx.Done()
		stop()

		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		result, err = service.Stop(stopCtx)
		cancel()
	}

	printer.clearLine()
	if result.Transcript != "" {
		fmt.Println(result.Transcript)
	}
	if err != nil {
		logger.Error("dictation ended with an error", zap.Error(err))
		os.Exit(1)
	}
}

// consolePrinter renders interim text as a single overwritten line on
// stderr so stdout stays clean for the final transcript.
type consolePrinter struct {
	logger *zap.Logger
	mu     sync.Mutex
	dirty  bool
}

func (p *consolePrinter) OnPartialResult(text string) {
	p.overwrite(text)
}

func (p *consolePrinter) OnFinalResult(text string, utterances []entities.Utterance) {
	p.overwrite(text)
}

func (p *consolePrinter) OnError(kind entities.ErrorKind, message string) {
	p.clearLine()
	p.logger.Error("recognition error",
		zap.String("kind", string(kind)),
		zap.String("message", message))
}

func (p *consolePrinter) OnStateChange(state entities.SessionState) {
	p.logger.Debug("session state", zap.String("state", string(state)))
}

func (p *consolePrinter) overwrite(text string) {
	if text == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(os.Stderr, "\r\x1b[2K%s", text)
	p.dirty = true
}

func (p *consolePrinter) clearLine() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dirty {
		fmt.Fprint(os.Stderr, "\r\x1b[2K")
		p.dirty = false
	}
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, _ := cfg.Build()
	return logger
}
