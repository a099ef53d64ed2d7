// Package bootstrap assembles a recorder and its collaborators from
// configuration. The record and mcp commands share it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/seeyonai/summit-sub000/internal/backend"
	"github.com/seeyonai/summit-sub000/internal/capture"
	"github.com/seeyonai/summit-sub000/internal/capture/mic"
	"github.com/seeyonai/summit-sub000/internal/capture/wavtap"
	"github.com/seeyonai/summit-sub000/internal/config"
	"github.com/seeyonai/summit-sub000/internal/db"
	"github.com/seeyonai/summit-sub000/internal/loop"
	"github.com/seeyonai/summit-sub000/internal/metrics"
	"github.com/seeyonai/summit-sub000/internal/recorder"
	"github.com/seeyonai/summit-sub000/internal/transport"
	"github.com/seeyonai/summit-sub000/internal/upload"
)

type Options struct {
	Config    *config.Config
	Logger    *slog.Logger
	MeetingID string
	// WAVPath, when set, archives captured audio locally.
	WAVPath     string
	NoAutoStart bool

	// Device, Dialer and HTTP default to the microphone, gorilla/websocket
	// and a client with the configured timeout.
	Device capture.Device
	Dialer transport.Dialer
	HTTP   *http.Client
}

// App is an assembled recorder. Close releases everything it opened.
type App struct {
	Config    *config.Config
	Log       *slog.Logger
	Metrics   *metrics.Metrics
	Loop      *loop.Loop
	Machine   *recorder.Machine
	Store     *db.Store
	Tap       *wavtap.Writer
	SessionID string

	saves     sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func Build(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	a := &App{
		Config:    cfg,
		Log:       log,
		Metrics:   metrics.New(),
		SessionID: uuid.NewString(),
	}

	if cfg.Storage.HistoryDB != "" {
		store, err := db.Open(db.ExpandPath(cfg.Storage.HistoryDB))
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		a.Store = store
	}

	if opts.WAVPath != "" {
		tap, err := wavtap.Create(opts.WAVPath)
		if err != nil {
			a.closeStore()
			return nil, err
		}
		a.Tap = tap
	}

	transcriptionURL, err := backend.TranscriptionURL(cfg.Backend.WSURL, cfg.Backend.TranscriptionPath)
	if err != nil {
		a.release()
		return nil, fmt.Errorf("transcription url: %w", err)
	}

	httpClient := opts.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Backend.RequestTimeout()}
	}
	client := &backend.Client{
		BaseURL:   cfg.Backend.APIURL,
		Token:     cfg.Backend.Token,
		SessionID: a.SessionID,
		HTTP:      httpClient,
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &transport.WebSocketDialer{Header: client.Header()}
	}

	device := opts.Device
	if device == nil {
		device = &mic.Device{Logger: log}
	}
	producer := capture.NewProducer(device, capture.Options{
		Device: capture.DeviceOptions{
			Name:             cfg.Audio.Device,
			NoiseSuppression: cfg.Audio.NoiseSuppression,
			EchoCancellation: cfg.Audio.EchoCancellation,
			AutoGain:         cfg.Audio.AutoGain,
		},
		FrameSamples: cfg.Audio.FrameSamples,
		Logger:       log,
		OnFrame:      func(capture.Frame) { a.Metrics.FrameCaptured() },
	})

	a.Loop = loop.New()
	deps := recorder.Deps{
		Loop:             a.Loop,
		Capture:          producer,
		Dialer:           dialer,
		Issuer:           client,
		TranscriptionURL: transcriptionURL,
		UploadURL: func(id string) (string, error) {
			return backend.UploadURL(cfg.Backend.WSURL, cfg.Backend.UploadPath, id)
		},
		Logger:  log,
		Metrics: a.Metrics,
		OnSaved: a.saved,
	}
	if a.Tap != nil {
		deps.Tap = a.Tap.Write
	}
	a.Machine = recorder.New(deps, recorder.Options{
		MeetingID:      opts.MeetingID,
		SampleRate:     cfg.Audio.SampleRate,
		AutoStart:      cfg.Session.AutoStart && !opts.NoAutoStart,
		AutoStartDelay: cfg.Session.AutoStartDelay(),
		Backoff:        cfg.Session.ReconnectBackoff(),
		Grace:          cfg.Session.StopGrace(),
		SendQueue:      cfg.Session.SendQueue,
	})

	log.Info("recorder assembled",
		slog.String("api_url", cfg.Backend.APIURL),
		slog.String("ws_url", cfg.Backend.WSURL),
		slog.String("client_session", a.SessionID),
		slog.Bool("history", a.Store != nil),
		slog.Bool("wav_archive", a.Tap != nil),
	)
	return a, nil
}

// ServeMetrics exposes /metrics until ctx ends when an address is configured.
func (a *App) ServeMetrics(ctx context.Context) {
	addr := a.Config.Metrics.Address
	if addr == "" {
		return
	}
	go func() {
		if err := a.Metrics.Serve(ctx, addr, a.Log); err != nil {
			a.Log.Error("metrics server failed", slog.Any("error", err))
		}
	}()
}

// saved runs on the loop; the insert happens off it.
func (a *App) saved(o upload.Outcome) {
	if a.Store == nil || !o.Saved {
		return
	}
	a.saves.Add(1)
	go func() {
		defer a.saves.Done()
		rec, err := a.Store.AddRecording(db.Recording{
			RecordingID: o.RecordingID,
			MeetingID:   o.MeetingID,
			Filename:    o.Filename,
			DownloadURL: o.DownloadURL,
			Duration:    o.Duration,
			FileSize:    o.FileSize,
			ChunksCount: o.ChunksCount,
			ChunksSent:  o.ChunksSent,
		})
		if err != nil {
			a.Log.Error("failed to record history", slog.String("recording_id", o.RecordingID), slog.Any("error", err))
			return
		}
		a.Log.Info("recording saved", slog.String("recording_id", rec.RecordingID), slog.String("filename", rec.Filename))
	}()
}

// Close tears the machine down, stops the loop and closes the archive and
// history store.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.Machine.Teardown()
		a.Loop.Close()
		a.saves.Wait()
		a.closeErr = a.release()
	})
	return a.closeErr
}

func (a *App) release() error {
	var errs []error
	if a.Tap != nil {
		if err := a.Tap.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close wav archive: %w", err))
		}
	}
	if err := a.closeStore(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeStore() error {
	if a.Store == nil {
		return nil
	}
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("close history: %w", err)
	}
	return nil
}
