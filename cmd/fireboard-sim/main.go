// Command fireboard-sim serves a fake Fireboard cloud API with drifting
// temperatures so the bridge can be run locally against fireboard.api_url.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/resident-x/fireboard2mqtt/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const simToken = "sim-token"

// simDevice is one simulated thermometer.
type simDevice struct {
	device domain.Device
	drive  *domain.DriveLog
}

// Simulator holds the simulated devices and serves the API.
type Simulator struct {
	mu      sync.Mutex
	devices []*simDevice
	rng     *rand.Rand
	now     func() time.Time
}

// NewSimulator creates count devices with channels probes each. Every other
// device has a drive attached.
func NewSimulator(count, channels int, seed int64) *Simulator {
	s := &Simulator{
		rng: rand.New(rand.NewSource(seed)),
		now: time.Now,
	}

	for i := 1; i <= count; i++ {
		d := domain.Device{
			ID:           1000 + i,
			UUID:         uuid.NewString(),
			Title:        fmt.Sprintf("Simulated FireBoard %d", i),
			HardwareID:   fmt.Sprintf("SIM%06d", i),
			Version:      "2.0.0",
			ChannelCount: channels,
			DegreeType:   domain.Fahrenheit,
			Model:        "FBX2",
			DeviceLog: domain.DeviceLog{
				MacNIC:          fmt.Sprintf("02:00:00:00:00:%02x", i),
				OnboardTemp:     24,
				BatteryFraction: 1,
			},
		}
		for c := 1; c <= channels; c++ {
			d.Channels = append(d.Channels, domain.Channel{
				Number:      c,
				Label:       fmt.Sprintf("Probe %d", c),
				LastTemplog: &domain.Temperature{Temp: 70},
			})
		}

		sd := &simDevice{device: d}
		if i%2 == 1 {
			sd.drive = &domain.DriveLog{Setpoint: 225, TiedChannel: 1}
		}
		s.devices = append(s.devices, sd)
	}

	return s
}

// Tick advances every reading by one step.
func (s *Simulator) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	for _, sd := range s.devices {
		d := &sd.device
		for i := range d.Channels {
			t := d.Channels[i].LastTemplog
			// Drift towards 225 with some noise.
			t.Temp += (225-t.Temp)*0.05 + s.rng.Float64()*2 - 1
			t.Temp = float64(int(t.Temp*10)) / 10
		}
		d.LatestTemps = lo.Map(d.Channels, func(c domain.Channel, _ int) domain.Temperature {
			return *c.LastTemplog
		})
		d.DeviceLog.Date = now
		d.DeviceLog.BatteryFraction = max(0, d.DeviceLog.BatteryFraction-0.001)

		if sd.drive != nil {
			gap := sd.drive.Setpoint - d.Channels[0].LastTemplog.Temp
			sd.drive.DrivePercent = min(1, max(0, gap/50))
			sd.drive.LidPaused = s.rng.Intn(20) == 0
		}
	}
}

// Handler returns the API routes.
func (s *Simulator) Handler() http.Handler {
	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/rest-auth/login/", s.handleLogin).Methods("POST")
	api.HandleFunc("/v1/devices.json", s.authorized(s.handleDevices)).Methods("GET")
	api.HandleFunc("/v1/devices/{uuid}/drivelog.json", s.authorized(s.handleDriveLog)).Methods("GET")

	return router
}

func (s *Simulator) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token "+simToken {
			writeJSON(w, map[string]string{"detail": "Invalid token."}, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Simulator) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeJSON(w, map[string][]string{"non_field_errors": {"Unable to log in with provided credentials."}}, http.StatusBadRequest)
		return
	}

	log.Info().Str("username", req.Username).Msg("Login")
	writeJSON(w, map[string]string{"key": simToken}, http.StatusOK)
}

func (s *Simulator) handleDevices(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	devices := lo.Map(s.devices, func(sd *simDevice, _ int) domain.Device { return sd.device })
	writeJSON(w, devices, http.StatusOK)
}

func (s *Simulator) handleDriveLog(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["uuid"]

	s.mu.Lock()
	defer s.mu.Unlock()

	sd, found := lo.Find(s.devices, func(sd *simDevice) bool { return sd.device.UUID == id })
	if !found {
		writeJSON(w, map[string]string{"detail": "Not found."}, http.StatusNotFound)
		return
	}
	if sd.drive == nil {
		writeJSON(w, struct{}{}, http.StatusOK)
		return
	}

	writeJSON(w, sd.drive, http.StatusOK)
}

func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func main() {
	var (
		addr     = flag.String("addr", "127.0.0.1:8099", "Listen address")
		count    = flag.Int("devices", 2, "Number of simulated devices")
		channels = flag.Int("channels", 3, "Channels per device")
		interval = flag.Duration("interval", 10*time.Second, "Interval between reading updates")
		verbose  = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	if *count < 1 || *channels < 1 {
		log.Fatal().Msg("devices and channels must be at least 1")
	}

	sim := NewSimulator(*count, *channels, time.Now().UnixNano())
	sim.Tick()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           sim.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sim.Tick()
				log.Debug().Msg("Readings updated")
			}
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("api_url", "http://"+strings.TrimPrefix(*addr, "http://")+"/api/").
		Int("devices", *count).
		Msg("Fireboard simulator listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Simulator stopped")
	}
}
